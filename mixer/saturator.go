package mixer

import "math"

// Saturator drives the signal through tanh and removes the resulting DC
// offset with a one-pole highpass at "highpass" Hz.
type Saturator struct {
	drive      float32
	level      float32
	r          float32
	x1, y1     [2]float32
	sampleRate int
}

func NewSaturator(sampleRate int) *Saturator {
	return &Saturator{sampleRate: sampleRate}
}

func (s *Saturator) SetParams(p map[string]float64) {
	s.drive = float32(clamp(param(p, "drive", 1), 0.01, 100))
	s.level = float32(clamp(param(p, "level", 1), 0, 4))
	hz := clamp(param(p, "highpass", 20), 0, float64(s.sampleRate)/4)
	s.r = float32(math.Exp(-2 * math.Pi * hz / float64(s.sampleRate)))
}

func (s *Saturator) Process(l, r []float32) {
	s.channel(0, l)
	s.channel(1, r)
}

func (s *Saturator) channel(c int, x []float32) {
	for i, v := range x {
		y := float32(math.Tanh(float64(v * s.drive)))
		hp := y - s.x1[c] + s.r*s.y1[c]
		s.x1[c], s.y1[c] = y, hp
		x[i] = hp * s.level
	}
}

func (s *Saturator) Reset() {
	s.x1 = [2]float32{}
	s.y1 = [2]float32{}
}
