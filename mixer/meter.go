package mixer

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Level is the peak and RMS level of one quantum of a bus.
type Level struct {
	Peak [2]float32
	RMS  [2]float32
}

// Meter measures the level of a bus once per quantum.
type Meter struct {
	tmp   []float32
	level Level
}

func NewMeter(maxFrames int) *Meter {
	return &Meter{tmp: make([]float32, maxFrames)}
}

// Update measures the given quantum.
func (m *Meter) Update(l, r []float32) {
	if len(l) == 0 {
		m.level = Level{}
		return
	}
	for c, x := range [2][]float32{l, r} {
		tmp := m.tmp[:len(x)]
		copy(tmp, x)
		vek32.Abs_Inplace(tmp)
		m.level.Peak[c] = vek32.Max(tmp)
		vek32.Mul_Into(tmp, x, x)
		m.level.RMS[c] = float32(math.Sqrt(float64(vek32.Mean(tmp))))
	}
}

// Level returns the level of the last quantum measured.
func (m *Meter) Level() Level { return m.level }
