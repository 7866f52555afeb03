package vm

import (
	"math"
)

// REF_FREQUENCY is the frequency, middle C, at which filter keytracking and
// the pitch voice source are neutral.
const REF_FREQUENCY = 261.6256

const (
	MIN_CUTOFF   = 20
	MAX_CUTOFF   = 20000
	MIN_LFO_RATE = 0.1
	MAX_LFO_RATE = 20
)

type (
	nodeState struct {
		phase  float64
		time   float64
		level  float64
		start  float64
		x      float64
		stage  stage
		trig   uint32
		s      [4]float64
		pos    float64
		done   bool
		rng    uint32
		hold   float32
		primed bool
	}

	stage int
)

const (
	stageIdle stage = iota
	stageAttack
	stageDecay
	stageSustain
	stageRelease
)

func (v *Voice) oscillator(o *op, st *nodeState, pb *paramBlock, out []float32, sr float64) {
	if !st.primed {
		st.hold = st.noise()
		st.primed = true
	}
	pitchLive := pb.live[oscRatio] || pb.live[oscDetune] || pb.live[oscPitch]
	dt := v.freq * oscFreqRatio(pb, 0) / sr
	for i := range out {
		if pitchLive {
			dt = v.freq * oscFreqRatio(pb, i) / sr
		}
		dt = math.Max(-0.5, math.Min(0.5, dt))
		ph := st.phase + float64(pb.at(oscPhase, i)) + float64(pb.at(oscFM, i))
		ph -= math.Floor(ph)
		out[i] = clampAudio(wave(o.wave, st, ph, math.Abs(dt), pb.at(oscWidth, i)) * pb.at(oscLevel, i))
		st.advance(dt)
	}
}

func oscFreqRatio(pb *paramBlock, i int) float64 {
	r := float64(pb.at(oscRatio, i))
	p := float64(pb.at(oscPitch, i))
	c := float64(pb.at(oscDetune, i))
	if p == 0 && c == 0 {
		return r
	}
	return r * math.Exp2(p+c/1200)
}

// advance moves the phase of an oscillator, drawing a new held value at
// every cycle.
func (st *nodeState) advance(dt float64) {
	st.phase += dt
	if st.phase >= 1 || st.phase < 0 {
		st.phase -= math.Floor(st.phase)
		st.hold = st.noise()
	}
}

func wave(w waveform, st *nodeState, ph, dt float64, width float32) float32 {
	switch w {
	case waveSine:
		return float32(math.Sin(2 * math.Pi * ph))
	case waveSaw:
		return float32(2*ph - 1 - polyBLEP(ph, dt))
	case waveSquare:
		return pulse(ph, dt, 0.5)
	case wavePulse:
		return pulse(ph, dt, math.Max(0.01, math.Min(0.99, float64(width))))
	case waveTriangle:
		return float32(1 - 4*math.Abs(ph-0.5))
	case waveNoise:
		return st.noise()
	case waveHold:
		return st.hold
	}
	return 0
}

func pulse(ph, dt, width float64) float32 {
	s := -1.0
	if ph < width {
		s = 1
	}
	s += polyBLEP(ph, dt)
	t := ph + 1 - width
	s -= polyBLEP(t-math.Floor(t), dt)
	return float32(s)
}

// polyBLEP returns the correction to subtract from a naive unit step at phase
// zero, for a phase increment of dt.
func polyBLEP(t, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

// noise is a xorshift generator, seeded per voice so that renders are
// reproducible.
func (st *nodeState) noise() float32 {
	x := st.rng
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	st.rng = x
	return float32(x)/float32(1<<31) - 1
}

func (v *Voice) sampler(o *op, st *nodeState, pb *paramBlock, out []float32, sr float64) {
	s := o.sample
	n := s.Len()
	if !st.primed {
		st.pos = math.Max(0, float64(pb.at(smpStart, 0))) * float64(n)
		st.primed = true
	}
	if st.done || n == 0 || st.pos >= float64(n) {
		st.done = true
		clear(out)
		return
	}
	rate := v.freq / s.BasePitch * float64(s.Rate) / sr
	loopStart, loopEnd := s.LoopBounds()
	looped := s.Looped()
	for i := range out {
		if st.done {
			out[i] = 0
			continue
		}
		idx := int(st.pos)
		frac := float32(st.pos - float64(idx))
		a := frameAt(s.Frames, s.Channels, idx)
		next := idx + 1
		if looped && next >= loopEnd {
			next = loopStart
		}
		var b float32
		if next < n {
			b = frameAt(s.Frames, s.Channels, next)
		}
		out[i] = clampAudio((a + (b-a)*frac) * pb.at(smpLevel, i))
		st.pos += rate * float64(pb.at(smpRatio, i))
		if looped && st.pos >= float64(loopEnd) {
			l := float64(loopEnd - loopStart)
			st.pos = float64(loopStart) + math.Mod(st.pos-float64(loopEnd), l)
		} else if st.pos >= float64(n) || st.pos < 0 {
			st.done = true
		}
	}
}

func frameAt(frames []float32, channels, idx int) float32 {
	if channels == 1 {
		return frames[idx]
	}
	var sum float32
	for c := 0; c < channels; c++ {
		sum += frames[idx*channels+c]
	}
	return sum / float32(channels)
}

func (v *Voice) envelope(o *op, st *nodeState, pb *paramBlock, out []float32, sr float64) {
	if v.gate && st.trig != v.trig {
		st.trig = v.trig
		st.stage = stageAttack
		st.start = st.level
		st.x = 0
	} else if !v.gate && st.stage != stageIdle && st.stage != stageRelease {
		st.stage = stageRelease
		st.start = st.level
		st.x = 0
	}
	for i := range out {
		scale := math.Max(float64(pb.at(envScale, i)), 0)
		c := float64(pb.at(envCurve, i))
		switch st.stage {
		case stageAttack:
			st.x += step(float64(pb.at(envAttack, i))*scale, sr)
			if st.x >= 1 {
				st.x = 0
				st.level = 1
				st.stage = stageDecay
			} else {
				var y float64
				if o.mode == envelopeSqrt {
					y = math.Sqrt(st.x)
				} else {
					y = shape(st.x, c)
				}
				st.level = st.start + (1-st.start)*y
			}
		case stageDecay:
			sus := clamp01(float64(pb.at(envSustain, i)))
			st.x += step(float64(pb.at(envDecay, i))*scale, sr)
			if st.x >= 1 {
				st.x = 0
				st.level = sus
				st.stage = stageSustain
			} else {
				st.level = 1 + (sus-1)*shape(st.x, c)
			}
		case stageSustain:
			st.level = clamp01(float64(pb.at(envSustain, i)))
		case stageRelease:
			st.x += step(float64(pb.at(envRelease, i))*scale, sr)
			if st.x >= 1 {
				st.x = 0
				st.level = 0
				st.stage = stageIdle
			} else {
				st.level = st.start * (1 - shape(st.x, c))
			}
		default:
			st.level = 0
		}
		out[i] = float32(clamp01(st.level * float64(pb.at(envLevel, i))))
	}
}

// step returns the progress per sample of a segment lasting t seconds.
func step(t, sr float64) float64 {
	if t <= 0 {
		return 1
	}
	return 1 / (t * sr)
}

// shape bends a linear ramp from 0 to 1: positive curves rise fast first,
// negative ones slow first.
func shape(x, c float64) float64 {
	if math.Abs(c) < 1e-6 {
		return x
	}
	return (1 - math.Exp(-c*x)) / (1 - math.Exp(-c))
}

func (v *Voice) filter(o *op, st *nodeState, pb *paramBlock, out []float32, sr float64) {
	cutoffLive := pb.live[fltCutoff] || pb.live[fltResonance] || pb.live[fltKeytrack]
	var g, k, a1, a2, a3 float64
	coefs := func(i int) {
		hz := MIN_CUTOFF * math.Pow(MAX_CUTOFF/MIN_CUTOFF, clamp01(float64(pb.at(fltCutoff, i))))
		if kt := float64(pb.at(fltKeytrack, i)); kt != 0 {
			hz *= math.Pow(v.freq/REF_FREQUENCY, kt)
		}
		hz = math.Max(MIN_CUTOFF, math.Min(hz, 0.45*sr))
		res := clamp01(float64(pb.at(fltResonance, i)))
		if o.mode == filterLadder {
			g = 1 - math.Exp(-2*math.Pi*hz/sr)
			k = 4 * res
			return
		}
		g = math.Tan(math.Pi * hz / sr)
		k = 2 - 1.98*res
		a1 = 1 / (1 + g*(g+k))
		a2 = g * a1
		a3 = g * a2
	}
	coefs(0)
	s := &st.s
	for i, x32 := range out {
		if cutoffLive && i > 0 {
			coefs(i)
		}
		x := float64(x32)
		var y float64
		if o.mode == filterLadder {
			u := math.Tanh(x - k*s[3])
			s[0] += g * (u - s[0])
			s[1] += g * (s[0] - s[1])
			s[2] += g * (s[1] - s[2])
			s[3] += g * (s[2] - s[3])
			y = s[3]
		} else {
			v3 := x - s[1]
			v1 := a1*s[0] + a2*v3
			v2 := s[1] + a2*s[0] + a3*v3
			s[0] = 2*v1 - s[0]
			s[1] = 2*v2 - s[1]
			switch o.mode {
			case filterLowpass:
				y = v2
			case filterHighpass:
				y = x - k*v1 - v2
			case filterBandpass:
				y = v1
			case filterNotch:
				y = x - k*v1
			}
		}
		out[i] = clampAudio(float32(y) * pb.at(fltLevel, i))
	}
}

func (v *Voice) mixer(o *op, pb *paramBlock, out []float32) {
	for i := range out {
		var acc float32
		if o.mode == mixerRing {
			acc = 1
			if o.numInputs == 0 {
				acc = 0
			}
			for k := 0; k < o.numInputs; k++ {
				acc *= v.out[o.inputs[k]][i]
			}
		} else {
			for k := 0; k < o.numInputs; k++ {
				acc += v.out[o.inputs[k]][i]
			}
		}
		out[i] = clampAudio(acc*pb.at(mixGain, i) + pb.at(mixBias, i))
	}
}

func (v *Voice) lfo(o *op, st *nodeState, pb *paramBlock, out []float32, sr float64) {
	if !st.primed {
		st.hold = st.noise()
		st.primed = true
	}
	for i := range out {
		rate := math.Max(MIN_LFO_RATE, math.Min(MAX_LFO_RATE, float64(pb.at(lfoRate, i))))
		ph := st.phase + float64(pb.at(lfoPhase, i))
		ph -= math.Floor(ph)
		s := wave(o.wave, st, ph, 0, 0.5)
		if d := float64(pb.at(lfoDelay, i)); d > 0 && st.time < d {
			x := st.time / d
			s *= float32(x * x * x)
		}
		out[i] = clampAudio(s * pb.at(lfoLevel, i))
		st.advance(rate / sr)
		st.time += 1 / sr
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// clampAudio keeps node outputs in -1..1.
func clampAudio(x float32) float32 {
	if x != x {
		return 0
	}
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
