package mixer

import "math"

const (
	reverbLines       = 8
	reverbMaxSize     = 2
	reverbMaxPredelay = 0.5
)

// line lengths at 44.1 kHz and size 1, mutually prime
var reverbLengths = [reverbLines]int{1031, 1171, 1303, 1409, 1583, 1693, 1847, 1979}

// Reverb is a feedback delay network of eight lines mixed by a Householder
// matrix. Even lines feed the left output, odd lines the right. "decay" is
// the time in seconds for the tail to fall by 60 dB.
type Reverb struct {
	lines      [reverbLines][]float32
	pos        [reverbLines]int
	length     [reverbLines]int
	gain       [reverbLines]float32
	lp         [reverbLines]float32
	pre        []float32
	prePos     int
	preFrames  int
	damp       float32
	wet, dry   float32
	sampleRate int
}

func NewReverb(sampleRate int) *Reverb {
	r := &Reverb{sampleRate: sampleRate}
	scale := float64(sampleRate) / 44100
	for k, l := range reverbLengths {
		r.lines[k] = make([]float32, int(float64(l)*scale*reverbMaxSize)+2)
	}
	r.pre = make([]float32, int(reverbMaxPredelay*float64(sampleRate))+1)
	return r
}

func (r *Reverb) SetParams(p map[string]float64) {
	size := clamp(param(p, "size", 1), 0.1, reverbMaxSize)
	decay := clamp(param(p, "decay", 2), 0.05, 60)
	scale := float64(r.sampleRate) / 44100
	for k, l := range reverbLengths {
		n := min(max(int(float64(l)*scale*size), 1), len(r.lines[k])-1)
		r.length[k] = n
		r.gain[k] = float32(math.Pow(10, -3*float64(n)/(float64(r.sampleRate)*decay)))
	}
	r.preFrames = min(int(clamp(param(p, "predelay", 0), 0, reverbMaxPredelay)*float64(r.sampleRate)), len(r.pre)-1)
	r.damp = float32(clamp(param(p, "damp", 0.3), 0, 0.99))
	r.wet = float32(clamp(param(p, "wet", 0.3), 0, 1))
	r.dry = float32(clamp(param(p, "dry", 1), 0, 1))
}

func (r *Reverb) Process(left, right []float32) {
	var o [reverbLines]float32
	for i := range left {
		in := (left[i] + right[i]) * 0.5
		if r.preFrames > 0 {
			read := r.prePos - r.preFrames
			if read < 0 {
				read += len(r.pre)
			}
			r.pre[r.prePos] = in
			in = r.pre[read]
			if r.prePos++; r.prePos >= len(r.pre) {
				r.prePos = 0
			}
		}
		var sum float32
		for k := range o {
			buf := r.lines[k]
			read := r.pos[k] - r.length[k]
			if read < 0 {
				read += len(buf)
			}
			r.lp[k] += (1 - r.damp) * (buf[read] - r.lp[k])
			o[k] = r.lp[k] * r.gain[k]
			sum += o[k]
		}
		var outL, outR float32
		h := sum * (2.0 / reverbLines)
		for k := range o {
			buf := r.lines[k]
			buf[r.pos[k]] = in + o[k] - h
			if r.pos[k]++; r.pos[k] >= len(buf) {
				r.pos[k] = 0
			}
			if k%2 == 0 {
				outL += o[k]
			} else {
				outR += o[k]
			}
		}
		left[i] = left[i]*r.dry + outL*r.wet*0.5
		right[i] = right[i]*r.dry + outR*r.wet*0.5
	}
}

func (r *Reverb) Reset() {
	for k := range r.lines {
		clear(r.lines[k])
		r.pos[k] = 0
		r.lp[k] = 0
	}
	clear(r.pre)
	r.prePos = 0
}
