package xentrack

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Span is an exact amount of musical time, measured in beats. It is used both
// for positions and durations. A Span is always stored in lowest terms with a
// positive denominator; the zero value is zero beats.
//
// Arithmetic is exact as long as the intermediate products fit in 64 bits. If
// they do not, the result is snapped to the nearest multiple of
// 1/MaxDenominator, rounding half away from zero. Long-running clocks should
// additionally call Snap with a session threshold so that denominators never
// grow without bound.
type Span struct {
	n, d int64 // d == 0 only in the zero value, where it means 1
}

const (
	// MaxDenominator is the denominator results are snapped to when exact
	// arithmetic would overflow.
	MaxDenominator = 1 << 20

	// LegacyTicksPerBeat is the resolution of integer tick positions written
	// by older versions of the song format.
	LegacyTicksPerBeat = 5040
)

// NewSpan returns the reduced fraction n/d beats. It panics if d is zero.
func NewSpan(n, d int64) Span {
	if d == 0 {
		panic("xentrack: zero denominator in span")
	}
	if d < 0 {
		n, d = -n, -d
	}
	if g := gcd(n, d); g > 1 {
		n, d = n/g, d/g
	}
	return Span{n: n, d: d}
}

// Beats returns a span of n whole beats.
func Beats(n int64) Span { return Span{n: n, d: 1} }

func (s Span) Num() int64 { return s.n }

func (s Span) Den() int64 {
	if s.d == 0 {
		return 1
	}
	return s.d
}

func (s Span) IsZero() bool { return s.n == 0 }

func (s Span) Sign() int {
	switch {
	case s.n < 0:
		return -1
	case s.n > 0:
		return 1
	}
	return 0
}

func (s Span) Neg() Span { return Span{n: -s.n, d: s.Den()} }

// Inv returns 1/s. It panics if s is zero.
func (s Span) Inv() Span { return NewSpan(s.Den(), s.n) }

func (s Span) Float() float64 { return float64(s.n) / float64(s.Den()) }

func (s Span) Add(o Span) Span {
	if r, ok := s.TryAdd(o); ok {
		return r
	}
	return approximate(s.Float() + o.Float())
}

// TryAdd returns s+o and whether the sum is exact. An inexact sum is the
// approximation Add would return.
func (s Span) TryAdd(o Span) (Span, bool) {
	sd, od := s.Den(), o.Den()
	g := gcd(sd, od)
	if d, ok := mul64(sd/g, od); ok {
		if x, ok := mul64(s.n, od/g); ok {
			if y, ok := mul64(o.n, sd/g); ok {
				if n, ok := add64(x, y); ok {
					return NewSpan(n, d), true
				}
			}
		}
	}
	return approximate(s.Float() + o.Float()), false
}

func (s Span) Sub(o Span) Span { return s.Add(o.Neg()) }

func (s Span) Mul(o Span) Span {
	r, _ := s.TryMul(o)
	return r
}

// TryMul returns s*o and whether the product is exact.
func (s Span) TryMul(o Span) (Span, bool) {
	if s.n == 0 || o.n == 0 {
		return Span{}, true
	}
	sd, od := s.Den(), o.Den()
	g1, g2 := gcd(s.n, od), gcd(o.n, sd)
	if n, ok := mul64(s.n/g1, o.n/g2); ok {
		if d, ok := mul64(sd/g2, od/g1); ok {
			return Span{n: n, d: d}, true
		}
	}
	return approximate(s.Float() * o.Float()), false
}

// Div returns s/o. It panics if o is zero.
func (s Span) Div(o Span) Span { return s.Mul(o.Inv()) }

func (s Span) MulInt(k int64) Span { return s.Mul(Span{n: k, d: 1}) }

// DivInt returns s/k. It panics if k is zero.
func (s Span) DivInt(k int64) Span { return s.Mul(NewSpan(1, k)) }

// Cmp returns -1, 0 or 1 depending on whether s is less than, equal to or
// greater than o. The comparison is always exact.
func (s Span) Cmp(o Span) int {
	ss, os := s.Sign(), o.Sign()
	if ss != os {
		if ss < os {
			return -1
		}
		return 1
	}
	if ss == 0 {
		return 0
	}
	// same sign: compare |s.n|*o.d with |o.n|*s.d in 128 bits
	ah, al := bits.Mul64(uabs(s.n), uint64(o.Den()))
	bh, bl := bits.Mul64(uabs(o.n), uint64(s.Den()))
	c := 0
	switch {
	case ah < bh || (ah == bh && al < bl):
		c = -1
	case ah > bh || (ah == bh && al > bl):
		c = 1
	}
	return c * ss
}

func (s Span) Less(o Span) bool  { return s.Cmp(o) < 0 }
func (s Span) Equal(o Span) bool { return s.n == o.n && s.Den() == o.Den() }

// Floor returns the largest integer not greater than s.
func (s Span) Floor() int64 {
	d := s.Den()
	q := s.n / d
	if s.n%d != 0 && s.n < 0 {
		q--
	}
	return q
}

// Ceil returns the smallest integer not less than s.
func (s Span) Ceil() int64 {
	d := s.Den()
	q := s.n / d
	if s.n%d != 0 && s.n > 0 {
		q++
	}
	return q
}

// Snap rounds s to the nearest multiple of 1/maxDen if its denominator is
// larger than maxDen, rounding half away from zero. Spans that already have a
// small enough denominator are returned unchanged.
func (s Span) Snap(maxDen int64) Span {
	d := s.Den()
	if maxDen <= 0 || d <= maxDen {
		return s
	}
	hi, lo := bits.Mul64(uabs(s.n), uint64(maxDen))
	if hi >= uint64(d) {
		return approximateTo(s.Float(), maxDen)
	}
	q, r := bits.Div64(hi, lo, uint64(d))
	if r >= uint64(d)-r {
		q++
	}
	if q > math.MaxInt64 {
		return approximateTo(s.Float(), maxDen)
	}
	n := int64(q)
	if s.n < 0 {
		n = -n
	}
	return NewSpan(n, maxDen)
}

func (s Span) String() string {
	if s.Den() == 1 {
		return strconv.FormatInt(s.n, 10)
	}
	return strconv.FormatInt(s.n, 10) + "/" + strconv.FormatInt(s.Den(), 10)
}

// ParseSpan parses an integer "n" or a fraction "n/d".
func ParseSpan(str string) (Span, error) {
	str = strings.TrimSpace(str)
	num, den, isFrac := strings.Cut(str, "/")
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return Span{}, fmt.Errorf("invalid span %q: %w", str, err)
	}
	if !isFrac {
		return Beats(n), nil
	}
	d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
	if err != nil {
		return Span{}, fmt.Errorf("invalid span %q: %w", str, err)
	}
	if d == 0 {
		return Span{}, fmt.Errorf("invalid span %q: zero denominator", str)
	}
	return NewSpan(n, d), nil
}

func (s Span) MarshalYAML() (any, error) {
	if s.Den() == 1 {
		return s.n, nil
	}
	return s.String(), nil
}

// UnmarshalYAML accepts "n/d" strings, plain integers, [n, d] flow sequences
// and the legacy {ticks: n} form.
func (s *Span) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		v, err := ParseSpan(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*s = v
		return nil
	case yaml.SequenceNode:
		var nd []int64
		if err := value.Decode(&nd); err != nil {
			return err
		}
		if len(nd) != 2 || nd[1] == 0 {
			return fmt.Errorf("line %d: span sequence must be [numerator, denominator]", value.Line)
		}
		*s = NewSpan(nd[0], nd[1])
		return nil
	case yaml.MappingNode:
		var legacy struct {
			Ticks int64 `yaml:"ticks"`
		}
		if err := value.Decode(&legacy); err != nil {
			return err
		}
		*s = NewSpan(legacy.Ticks, LegacyTicksPerBeat)
		return nil
	}
	return fmt.Errorf("line %d: cannot decode span", value.Line)
}

func approximate(f float64) Span { return approximateTo(f, MaxDenominator) }

func approximateTo(f float64, den int64) Span {
	v := math.Round(f * float64(den))
	if v > math.MaxInt64/2 {
		v = math.MaxInt64 / 2
	} else if v < math.MinInt64/2 {
		v = math.MinInt64 / 2
	}
	return NewSpan(int64(v), den)
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func uabs(x int64) uint64 {
	if x < 0 {
		return uint64(-(x + 1)) + 1
	}
	return uint64(x)
}

func mul64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		return 0, false
	}
	return c, true
}

func add64(a, b int64) (int64, bool) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, false
	}
	return c, true
}
