package xentrack

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning maps signed scale degrees to frequencies. A tuning has n steps per
// period; degree d is played at
//
//	reference * period^floor(d/n) * step[d mod n]
//
// Tunings are immutable after construction and can be shared freely between
// goroutines and voices.
type Tuning struct {
	name      string
	steps     []float64 // ratios relative to degree 0, steps[0] == 1
	period    float64
	reference float64
	equal     int // non-zero if built as an equal temperament
}

const (
	// DefaultReference is the frequency of degree 0 in the default tuning.
	DefaultReference = 440.0

	// TuningVersion is the current version of the persisted tuning record.
	TuningVersion = 1
)

var defaultTuning = mustTuning(EqualTemperament(12, 2, DefaultReference))

// DefaultTuning returns 12-tone equal temperament with A4 = 440 Hz at degree
// zero.
func DefaultTuning() *Tuning { return defaultTuning }

// EqualTemperament divides period into steps equal logarithmic steps.
func EqualTemperament(steps int, period, reference float64) (*Tuning, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: step count %d must be at least 1", ErrInvalidTuningData, steps)
	}
	if !(period > 1) || math.IsInf(period, 0) {
		return nil, fmt.Errorf("%w: period %v must be greater than 1", ErrInvalidTuningData, period)
	}
	if !(reference > 0) || math.IsInf(reference, 0) {
		return nil, fmt.Errorf("%w: reference frequency %v must be positive", ErrInvalidTuningData, reference)
	}
	ratios := make([]float64, steps)
	for i := range ratios {
		ratios[i] = math.Pow(period, float64(i)/float64(steps))
	}
	ratios[0] = 1
	return &Tuning{
		name:      fmt.Sprintf("%d-ET", steps),
		steps:     ratios,
		period:    period,
		reference: reference,
		equal:     steps,
	}, nil
}

// LoadScale builds a tuning from the ratios of the degrees within one period.
// ratios[0] is the reference degree and must be 1; the rest must be strictly
// increasing and below the period.
func LoadScale(ratios []float64, period, reference float64) (*Tuning, error) {
	if len(ratios) < 1 {
		return nil, fmt.Errorf("%w: scale has no steps", ErrInvalidTuningData)
	}
	if !(period > 1) || math.IsInf(period, 0) {
		return nil, fmt.Errorf("%w: period %v must be greater than 1", ErrInvalidTuningData, period)
	}
	if !(reference > 0) || math.IsInf(reference, 0) {
		return nil, fmt.Errorf("%w: reference frequency %v must be positive", ErrInvalidTuningData, reference)
	}
	if ratios[0] != 1 {
		return nil, fmt.Errorf("%w: first step must be 1/1, got %v", ErrInvalidTuningData, ratios[0])
	}
	for i := 1; i < len(ratios); i++ {
		if !(ratios[i] > ratios[i-1]) {
			return nil, fmt.Errorf("%w: step %d (%v) does not increase over step %d (%v)", ErrInvalidTuningData, i, ratios[i], i-1, ratios[i-1])
		}
		if !(ratios[i] < period) {
			return nil, fmt.Errorf("%w: step %d (%v) is not below the period %v", ErrInvalidTuningData, i, ratios[i], period)
		}
	}
	return &Tuning{
		steps:     append([]float64(nil), ratios...),
		period:    period,
		reference: reference,
	}, nil
}

// WithReference returns a copy of the tuning with a different frequency for
// degree zero.
func (t *Tuning) WithReference(reference float64) (*Tuning, error) {
	if !(reference > 0) || math.IsInf(reference, 0) {
		return nil, fmt.Errorf("%w: reference frequency %v must be positive", ErrInvalidTuningData, reference)
	}
	ret := *t
	ret.reference = reference
	return &ret, nil
}

func (t *Tuning) Name() string       { return t.name }
func (t *Tuning) Degrees() int       { return len(t.steps) }
func (t *Tuning) Period() float64    { return t.period }
func (t *Tuning) Reference() float64 { return t.reference }

// Ratio returns the frequency ratio of degree relative to degree zero.
func (t *Tuning) Ratio(degree int) float64 {
	q, r := t.split(degree)
	return t.steps[r] * math.Pow(t.period, float64(q))
}

// Frequency returns the frequency of degree in Hz. It is defined for every
// integer degree, positive, and strictly increasing in degree.
func (t *Tuning) Frequency(degree int) float64 {
	q, r := t.split(degree)
	return t.reference * t.steps[r] * math.Pow(t.period, float64(q))
}

// BentFrequency returns the frequency of a degree shifted by a fractional
// number of degrees, interpolating logarithmically between neighbors.
func (t *Tuning) BentFrequency(degree int, bend float64) float64 {
	if bend == 0 {
		return t.Frequency(degree)
	}
	whole := math.Floor(bend)
	frac := bend - whole
	d := degree + int(whole)
	f := t.Frequency(d)
	if frac == 0 {
		return f
	}
	return f * math.Pow(t.Frequency(d+1)/f, frac)
}

// Cents returns the distance of degree from degree zero in cents.
func (t *Tuning) Cents(degree int) float64 {
	return 1200 * math.Log2(t.Ratio(degree))
}

// Nearest returns the degree closest to freq in the logarithmic sense, and how
// many cents freq is above (or below, if negative) that degree.
func (t *Tuning) Nearest(freq float64) (degree int, cents float64) {
	if !(freq > 0) {
		return 0, math.Inf(-1)
	}
	x := math.Log2(freq / t.reference)
	lp := math.Log2(t.period)
	q := int(math.Floor(x / lp))
	rem := x - float64(q)*lp
	n := len(t.steps)
	best, bestDist := 0, math.Inf(1)
	for i := 0; i <= n; i++ {
		l := lp // i == n is the first degree of the next period
		if i < n {
			l = math.Log2(t.steps[i])
		}
		if d := math.Abs(rem - l); d < bestDist {
			best, bestDist = i, d
		}
	}
	degree = q*n + best
	return degree, 1200 * math.Log2(freq/t.Frequency(degree))
}

func (t *Tuning) split(degree int) (q, r int) {
	n := len(t.steps)
	q, r = degree/n, degree%n
	if r < 0 {
		q--
		r += n
	}
	return
}

func (t *Tuning) String() string {
	if t.name != "" {
		return t.name
	}
	return fmt.Sprintf("%d steps per %v", len(t.steps), t.period)
}

// Interval is a frequency ratio. In yaml it can be written as a number (a
// ratio), as a fraction "3/2" or in cents "701.955c".
type Interval float64

// ParseInterval parses a ratio "a/b", a cents value "700c" or a decimal ratio.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if c, ok := strings.CutSuffix(s, "c"); ok {
		cents, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad cents value %q", ErrInvalidTuningData, s)
		}
		return Interval(math.Exp2(cents / 1200)), nil
	}
	if a, b, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, fmt.Errorf("%w: bad ratio %q", ErrInvalidTuningData, s)
		}
		return Interval(n / d), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad ratio %q", ErrInvalidTuningData, s)
	}
	return Interval(v), nil
}

func (i *Interval) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: %w: interval must be a scalar", value.Line, ErrInvalidTuningData)
	}
	v, err := ParseInterval(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*i = v
	return nil
}

// TuningRecord is the persisted form of a Tuning. Either Equal or Steps is
// given; Steps lists the degrees after 1/1 within a period.
type TuningRecord struct {
	Version   int        `yaml:"version,omitempty"`
	Name      string     `yaml:"name,omitempty"`
	Equal     int        `yaml:"equal,omitempty"`
	Steps     []Interval `yaml:"steps,flow,omitempty"`
	Period    Interval   `yaml:"period,omitempty"`
	Reference float64    `yaml:"reference,omitempty"`
}

// Record returns the persisted form of the tuning.
func (t *Tuning) Record() TuningRecord {
	rec := TuningRecord{Version: TuningVersion, Name: t.name, Period: Interval(t.period), Reference: t.reference}
	if t.equal > 0 {
		rec.Equal = t.equal
		return rec
	}
	rec.Steps = make([]Interval, len(t.steps)-1)
	for i := range rec.Steps {
		rec.Steps[i] = Interval(t.steps[i+1])
	}
	return rec
}

// Tuning builds a tuning from the record. Missing fields default to an octave
// period and DefaultReference.
func (r TuningRecord) Tuning() (*Tuning, error) {
	period := float64(r.Period)
	if period == 0 {
		period = 2
	}
	reference := r.Reference
	if reference == 0 {
		reference = DefaultReference
	}
	var t *Tuning
	var err error
	if r.Equal > 0 {
		t, err = EqualTemperament(r.Equal, period, reference)
	} else {
		ratios := make([]float64, len(r.Steps)+1)
		ratios[0] = 1
		for i, s := range r.Steps {
			ratios[i+1] = float64(s)
		}
		t, err = LoadScale(ratios, period, reference)
	}
	if err != nil {
		return nil, err
	}
	if r.Name != "" {
		t.name = r.Name
	}
	return t, nil
}

func (t *Tuning) MarshalYAML() (any, error) { return t.Record(), nil }

func (t *Tuning) UnmarshalYAML(value *yaml.Node) error {
	var rec TuningRecord
	if err := value.Decode(&rec); err != nil {
		return err
	}
	built, err := rec.Tuning()
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = *built
	return nil
}

func mustTuning(t *Tuning, err error) *Tuning {
	if err != nil {
		panic(err)
	}
	return t
}
