package xentrack_test

import (
	"math"
	"testing"

	"github.com/xentrack/xentrack"
	"gopkg.in/yaml.v3"
)

func TestSpanArithmetic(t *testing.T) {
	third := xentrack.NewSpan(1, 3)
	tests := []struct {
		name string
		got  xentrack.Span
		want xentrack.Span
	}{
		{"reduce", xentrack.NewSpan(6, -8), xentrack.NewSpan(-3, 4)},
		{"add", third.Add(xentrack.NewSpan(1, 6)), xentrack.NewSpan(1, 2)},
		{"sub", xentrack.Beats(1).Sub(third), xentrack.NewSpan(2, 3)},
		{"mul", third.Mul(xentrack.NewSpan(3, 5)), xentrack.NewSpan(1, 5)},
		{"div", third.Div(xentrack.NewSpan(2, 3)), xentrack.NewSpan(1, 2)},
		{"mulint", third.MulInt(6), xentrack.Beats(2)},
		{"zero", xentrack.Span{}.Add(xentrack.Span{}), xentrack.Span{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got.Equal(tt.want) {
				t.Fatalf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestSpanCompareAndRound(t *testing.T) {
	a, b := xentrack.NewSpan(math.MaxInt64-1, math.MaxInt64), xentrack.NewSpan(math.MaxInt64-2, math.MaxInt64-1)
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Fatalf("comparison of close fractions is not exact")
	}
	if !xentrack.NewSpan(-1, 2).Less(xentrack.Span{}) {
		t.Fatalf("-1/2 should be less than 0")
	}
	if f, c := xentrack.NewSpan(-7, 2).Floor(), xentrack.NewSpan(-7, 2).Ceil(); f != -4 || c != -3 {
		t.Fatalf("floor and ceil of -7/2 = %d, %d", f, c)
	}
	if s := xentrack.NewSpan(1, 3).Snap(2); !s.Equal(xentrack.NewSpan(1, 2)) {
		t.Fatalf("1/3 snapped to halves is %v", s)
	}
	if s := xentrack.NewSpan(1, 17).Snap(16); !s.Equal(xentrack.NewSpan(1, 16)) {
		t.Fatalf("1/17 snapped to sixteenths is %v", s)
	}
	if s := xentrack.NewSpan(3, 8).Snap(16); !s.Equal(xentrack.NewSpan(3, 8)) {
		t.Fatalf("a span with a small denominator was snapped to %v", s)
	}
}

func TestSpanOverflowSnaps(t *testing.T) {
	a := xentrack.NewSpan(5000000001, 5000000003)
	b := xentrack.NewSpan(5000000007, 5000000009)
	sum := a.Add(b)
	if sum.Den() > xentrack.MaxDenominator {
		t.Fatalf("overflowing sum has denominator %d", sum.Den())
	}
	if d := math.Abs(sum.Float() - (a.Float() + b.Float())); d > 1.0/xentrack.MaxDenominator {
		t.Fatalf("overflowing sum %v is %v away from the exact value", sum, d)
	}
	if s, exact := a.TryAdd(b); exact || !s.Equal(sum) {
		t.Fatalf("TryAdd = %v, %v; want the approximation %v reported as inexact", s, exact, sum)
	}
	if _, exact := a.TryMul(b); exact {
		t.Fatalf("an overflowing product was reported as exact")
	}
	if s, exact := xentrack.NewSpan(1, 3).TryAdd(xentrack.NewSpan(1, 6)); !exact || !s.Equal(xentrack.NewSpan(1, 2)) {
		t.Fatalf("TryAdd(1/3, 1/6) = %v, %v", s, exact)
	}
}

func TestSpanYAML(t *testing.T) {
	var v struct {
		A, B, C, D xentrack.Span
	}
	src := "a: 3\nb: 5/6\nc: [2, 4]\nd: {ticks: 2520}\n"
	if err := yaml.Unmarshal([]byte(src), &v); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	want := []xentrack.Span{xentrack.Beats(3), xentrack.NewSpan(5, 6), xentrack.NewSpan(1, 2), xentrack.NewSpan(1, 2)}
	for i, got := range []xentrack.Span{v.A, v.B, v.C, v.D} {
		if !got.Equal(want[i]) {
			t.Errorf("span %d: got %v, want %v", i, got, want[i])
		}
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "a: 3\nb: 5/6\nc: 1/2\nd: 1/2\n" {
		t.Fatalf("unexpected yaml:\n%s", out)
	}
	if err := yaml.Unmarshal([]byte("a: 1/0\n"), &v); err == nil {
		t.Fatalf("a zero denominator was accepted")
	}
}

func TestAdvanceDoesNotDrift(t *testing.T) {
	bpm := xentrack.NewSpan(1397, 10)
	var pos xentrack.Span
	for i := 0; i < 48000*4; i++ {
		pos = xentrack.Advance(pos, 1, 48000, bpm)
	}
	if want := xentrack.Advance(xentrack.Span{}, 48000*4, 48000, bpm); !pos.Equal(want) {
		t.Fatalf("per-frame advance reached %v, want %v", pos, want)
	}
	if !pos.Equal(xentrack.NewSpan(1397*4, 600)) {
		t.Fatalf("four seconds at 139.7 bpm should be exactly %v beats, got %v", xentrack.NewSpan(1397*4, 600), pos)
	}
}

func TestFramesUntil(t *testing.T) {
	bpm := xentrack.Beats(120)
	tests := []struct {
		from, to xentrack.Span
		want     int
	}{
		{xentrack.Span{}, xentrack.Beats(1), 22050},
		{xentrack.Span{}, xentrack.NewSpan(1, 7), 3150},
		{xentrack.Span{}, xentrack.NewSpan(1, 1000), 23},
		{xentrack.Beats(1), xentrack.Beats(1), 0},
		{xentrack.Beats(2), xentrack.Beats(1), 0},
	}
	for _, tt := range tests {
		if got := xentrack.FramesUntil(tt.from, tt.to, 44100, bpm); got != tt.want {
			t.Errorf("FramesUntil(%v, %v) = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCursorTuplets(t *testing.T) {
	c := xentrack.NewCursor(xentrack.Span{}, xentrack.NewSpan(1, 4))
	if err := c.Tuplet(3, 2); err != nil {
		t.Fatal(err)
	}
	if pos := c.Advance(3); !pos.Equal(xentrack.NewSpan(1, 2)) {
		t.Fatalf("three triplet eighths should end at 1/2, got %v", pos)
	}
	if err := c.Tuplet(5, 4); err != nil {
		t.Fatal(err)
	}
	if step := c.Step(); !step.Equal(xentrack.NewSpan(2, 15)) {
		t.Fatalf("nested quintuplet step %v, want 2/15", step)
	}
	if pos := c.Advance(5); !pos.Equal(xentrack.NewSpan(7, 6)) {
		t.Fatalf("five quintuplet steps should end at 7/6, got %v", pos)
	}
	if !c.End() || !c.End() || c.End() {
		t.Fatalf("expected exactly two tuplets to end")
	}
	if !c.Step().Equal(xentrack.NewSpan(1, 4)) {
		t.Fatalf("step after the tuplets %v, want 1/4", c.Step())
	}
	var s xentrack.TupletStack
	for i := 0; i < xentrack.MaxTupletDepth; i++ {
		if err := s.Push(xentrack.Tuplet{Parts: 3, Span: 2}); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}
	if err := s.Push(xentrack.Tuplet{Parts: 3, Span: 2}); err == nil {
		t.Fatalf("tuplets nested too deep were accepted")
	}
	if err := c.Tuplet(0, 1); err == nil {
		t.Fatalf("a tuplet of zero parts was accepted")
	}
}
