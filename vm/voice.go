package vm

import (
	"math"

	"github.com/viterin/vek/vek32"
	"github.com/xentrack/xentrack"
)

type (
	// State is the lifecycle state of a voice.
	State int

	// Source tells where the notes of a voice came from.
	Source int

	// Key identifies what triggered a voice: a channel of a track for notes
	// from patterns, or a MIDI channel for live notes. Notes of the same key
	// share pressure, modulation and bend, and mono instruments use one voice
	// per key.
	Key struct {
		Source  Source
		Track   int
		Channel int
	}

	// VoiceID identifies one note played on a voice. IDs are never reused, so
	// releasing through an ID of a voice that was since stolen does nothing.
	VoiceID uint64

	// Note describes a note to start.
	Note struct {
		Program    *Program
		Key        Key
		Tuning     *xentrack.Tuning
		Degree     int
		Velocity   float32
		Bend       float64 // in scale degrees
		Pressure   float32
		Modulation float32
		Bus        int     // 0 = master, 1.. = the buses of the song
		Send       float32 // gain of the voice into the bus
	}

	// Voice is one slot of the pool. All the per-note state lives here, in
	// fixed size arrays, so that starting a note never allocates.
	Voice struct {
		prog       *Program
		key        Key
		bus        int
		send       float32
		state      State
		serial     uint64
		quantum    uint64
		gate       bool
		trig       uint32
		tuning     *xentrack.Tuning
		degree     int
		bend       float64
		freq       float64
		target     float64
		velocity   float32
		pressure   float32
		modulation float32
		random     float32
		base       [MAX_NODES][MAX_PARAMS]float32
		nodes      [MAX_NODES]nodeState
		out        [MAX_NODES][MAX_BLOCK]float32
	}

	paramBlock struct {
		base [MAX_PARAMS]float32
		live [MAX_PARAMS]bool
		mod  [MAX_PARAMS][MAX_BLOCK]float32
		tmp  [MAX_BLOCK]float32
	}
)

const (
	Idle State = iota
	Attack
	Sustain
	Release
)

const (
	SourcePattern Source = iota
	SourceMIDI
)

var stateNames = []string{"idle", "attack", "sustain", "release"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// at returns the value of a parameter at sample i of the block: the base
// value plus the sum of the links to it.
func (b *paramBlock) at(slot, i int) float32 {
	if b.live[slot] {
		return b.base[slot] + b.mod[slot][i]
	}
	return b.base[slot]
}

func (v *Voice) frequency() float64 {
	return v.tuning.BentFrequency(v.degree, v.bend)
}

// render runs every op of the voice program for n samples, leaving the
// output of each op in v.out.
func (v *Voice) render(pb *paramBlock, n int, sr float64) {
	prog := v.prog
	if v.freq != v.target {
		if prog.Glide > 0 {
			c := math.Exp(-float64(n) / (prog.Glide * sr))
			v.freq = v.target + (v.freq-v.target)*c
			if math.Abs(v.freq-v.target) < 1e-4*v.target {
				v.freq = v.target
			}
		} else {
			v.freq = v.target
		}
	}
	var sources [7]float32
	sources[srcVelocity] = v.velocity
	if v.gate {
		sources[srcGate] = 1
	}
	sources[srcPitch] = float32(math.Log2(v.freq / REF_FREQUENCY))
	sources[srcPressure] = v.pressure
	sources[srcModulation] = v.modulation
	sources[srcRandom] = v.random
	sources[srcBend] = float32(v.bend)
	for j := range prog.ops {
		o := &prog.ops[j]
		out := v.out[j][:n]
		if o.disabled {
			clear(out)
			continue
		}
		pb.base = v.base[j]
		pb.live = [MAX_PARAMS]bool{}
		for _, l := range prog.links[o.linkStart:o.linkEnd] {
			mod := pb.mod[l.slot][:n]
			if !pb.live[l.slot] {
				clear(mod)
				pb.live[l.slot] = true
			}
			if l.src >= 0 {
				tmp := pb.tmp[:n]
				vek32.MulNumber_Into(tmp, v.out[l.src][:n], l.depth)
				vek32.Add_Inplace(mod, tmp)
			} else {
				c := sources[-1-l.src] * l.depth
				for i := range mod {
					mod[i] += c
				}
			}
		}
		st := &v.nodes[j]
		switch o.kind {
		case kindOscillator:
			v.oscillator(o, st, pb, out, sr)
		case kindSample:
			v.sampler(o, st, pb, out, sr)
		case kindEnvelope:
			v.envelope(o, st, pb, out, sr)
		case kindFilter:
			v.sumInputs(o, out)
			v.filter(o, st, pb, out, sr)
		case kindMixer:
			v.mixer(o, pb, out)
		case kindLFO:
			v.lfo(o, st, pb, out, sr)
		}
	}
}

func (v *Voice) sumInputs(o *op, out []float32) {
	clear(out)
	for k := 0; k < o.numInputs; k++ {
		vek32.Add_Inplace(out, v.out[o.inputs[k]][:len(out)])
	}
}

// finished reports whether the voice has finished sounding: every envelope
// has run to the end of its release, or there are no envelopes and the note
// is released or all its one-shot samples have ended.
func (v *Voice) finished() bool {
	prog := v.prog
	if len(prog.envelopes) > 0 {
		if v.gate {
			return false
		}
		for _, e := range prog.envelopes {
			if v.nodes[e].stage != stageIdle {
				return false
			}
		}
		return true
	}
	if !v.gate {
		return true
	}
	if len(prog.samplers) == 0 {
		return false
	}
	for _, s := range prog.samplers {
		if !v.nodes[s].done {
			return false
		}
	}
	return true
}
