package mixer

import (
	"errors"
	"fmt"
	"math"

	"github.com/xentrack/xentrack"
)

// Effect processes one quantum of a stereo bus in place. The state of an
// effect carries over from one quantum to the next; SetParams changes the
// parameters without touching the state and only Reset clears it.
type Effect interface {
	Process(l, r []float32)
	Reset()
	SetParams(params map[string]float64)
}

// Chain runs effects in order.
type Chain struct {
	types    []string
	effects  []Effect
	disabled []bool
}

// ErrUnknownEffect is returned for an effect type that does not exist.
var ErrUnknownEffect = errors.New("unknown effect")

// EffectTypes lists the effect types NewEffect knows.
var EffectTypes = []string{"delay", "reverb", "compressor", "saturator"}

// NewEffect creates an effect from its definition. Buffers are sized for the
// largest settings the effect supports, so that SetParams never reallocates.
func NewEffect(def xentrack.EffectDef, sampleRate int) (Effect, error) {
	var e Effect
	switch def.Type {
	case "delay":
		e = NewDelay(sampleRate, param(def.Params, "max", DefaultMaxDelay))
	case "reverb":
		e = NewReverb(sampleRate)
	case "compressor":
		e = NewCompressor(sampleRate)
	case "saturator":
		e = NewSaturator(sampleRate)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEffect, def.Type)
	}
	e.SetParams(def.Params)
	return e, nil
}

// NewChain creates the effects of a bus.
func NewChain(defs []xentrack.EffectDef, sampleRate int) (*Chain, error) {
	c := &Chain{}
	for i, d := range defs {
		e, err := NewEffect(d, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		c.types = append(c.types, d.Type)
		c.effects = append(c.effects, e)
		c.disabled = append(c.disabled, d.Disabled)
	}
	return c, nil
}

func (c *Chain) Process(l, r []float32) {
	for i, e := range c.effects {
		if !c.disabled[i] {
			e.Process(l, r)
		}
	}
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

// Len returns the number of effects in the chain.
func (c *Chain) Len() int { return len(c.effects) }

// Compatible reports whether defs describe the same effects in the same
// order, so that Update can apply them without rebuilding the chain.
func (c *Chain) Compatible(defs []xentrack.EffectDef) bool {
	if len(defs) != len(c.types) {
		return false
	}
	for i, d := range defs {
		if d.Type != c.types[i] {
			return false
		}
		if d.Type == "delay" && clamp(param(d.Params, "max", DefaultMaxDelay), 0, maxDelayLimit) != c.effects[i].(*Delay).maxTime {
			return false
		}
	}
	return true
}

// Update sets the parameters of a compatible chain.
func (c *Chain) Update(defs []xentrack.EffectDef) {
	for i, d := range defs {
		c.effects[i].SetParams(d.Params)
		c.disabled[i] = d.Disabled
	}
}

func param(p map[string]float64, name string, def float64) float64 {
	if v, ok := p[name]; ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return def
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// coefficient returns the one-pole smoothing coefficient for a time
// constant of ms milliseconds.
func coefficient(ms float64, sampleRate int) float64 {
	if ms <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(ms*float64(sampleRate)/1000))
}
