package xentrack

import "fmt"

// MaxTupletDepth is the deepest nesting of tuplets a TupletStack can hold.
const MaxTupletDepth = 8

// Tuplet divides Span steps of the enclosing time scale into Parts equal
// parts. A triplet spanning one beat is Tuplet{Parts: 3, Span: 1}.
type Tuplet struct {
	Parts int `yaml:"parts"`
	Span  int `yaml:"span"`
}

// Scale returns the factor the tuplet applies to its parent's step.
func (t Tuplet) Scale() Span { return NewSpan(int64(t.Span), int64(t.Parts)) }

// TupletStack is the active tuplet context. Nested tuplets multiply their
// parent's local time scale. The stack has a fixed capacity and never
// allocates.
type TupletStack struct {
	scales [MaxTupletDepth + 1]Span
	depth  int
}

// Push enters a tuplet.
func (s *TupletStack) Push(t Tuplet) error {
	if t.Parts < 1 || t.Span < 1 {
		return fmt.Errorf("tuplet %d:%d must have positive parts and span", t.Parts, t.Span)
	}
	if s.depth >= MaxTupletDepth {
		return fmt.Errorf("tuplets nested deeper than %d", MaxTupletDepth)
	}
	s.scales[s.depth+1] = s.Scale().Mul(t.Scale())
	s.depth++
	return nil
}

// Pop leaves the innermost tuplet. It reports false if no tuplet was active.
func (s *TupletStack) Pop() bool {
	if s.depth == 0 {
		return false
	}
	s.depth--
	return true
}

func (s *TupletStack) Depth() int { return s.depth }

// Scale returns the product of the scales of all active tuplets.
func (s *TupletStack) Scale() Span {
	if s.depth == 0 {
		return Beats(1)
	}
	return s.scales[s.depth]
}

// Step returns the duration of one step of base length in the current
// context.
func (s *TupletStack) Step(base Span) Span { return base.Mul(s.Scale()) }

// Cursor lays out events on a grid of Base-length steps, honoring nested
// tuplets. Pattern builders and importers use it to compute exact positions.
type Cursor struct {
	Pos  Span
	Base Span

	stack TupletStack
}

// NewCursor returns a cursor at start with the given step length.
func NewCursor(start, step Span) *Cursor {
	return &Cursor{Pos: start, Base: step}
}

// Step returns the current step length.
func (c *Cursor) Step() Span { return c.stack.Step(c.Base) }

// Advance moves the cursor n steps forward and returns the new position.
func (c *Cursor) Advance(n int) Span {
	c.Pos = c.Pos.Add(c.Step().MulInt(int64(n)))
	return c.Pos
}

// Tuplet enters a tuplet of parts notes in the time of span steps.
func (c *Cursor) Tuplet(parts, span int) error {
	return c.stack.Push(Tuplet{Parts: parts, Span: span})
}

// End leaves the innermost tuplet.
func (c *Cursor) End() bool { return c.stack.Pop() }

func (c *Cursor) Depth() int { return c.stack.Depth() }
