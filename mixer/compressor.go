package mixer

import "math"

const silenceDB = -120.0

// Compressor is a stereo-linked compressor following the level in dB.
// "threshold" and "makeup" are in dB, "attack" and "release" in
// milliseconds.
type Compressor struct {
	threshold  float64
	ratio      float64
	attack     float64
	release    float64
	makeup     float64
	env        float64
	sampleRate int
}

func NewCompressor(sampleRate int) *Compressor {
	return &Compressor{sampleRate: sampleRate, env: silenceDB}
}

func (c *Compressor) SetParams(p map[string]float64) {
	c.threshold = param(p, "threshold", -20)
	c.ratio = math.Max(1, param(p, "ratio", 4))
	c.attack = coefficient(param(p, "attack", 10), c.sampleRate)
	c.release = coefficient(param(p, "release", 100), c.sampleRate)
	c.makeup = param(p, "makeup", 0)
}

func (c *Compressor) Process(l, r []float32) {
	for i := range l {
		level := math.Max(math.Abs(float64(l[i])), math.Abs(float64(r[i])))
		db := silenceDB
		if level > 1e-6 {
			db = 20 * math.Log10(level)
		}
		if db > c.env {
			c.env += c.attack * (db - c.env)
		} else {
			c.env += c.release * (db - c.env)
		}
		var reduction float64
		if over := c.env - c.threshold; over > 0 {
			reduction = (1 - 1/c.ratio) * over
		}
		g := float32(math.Pow(10, (c.makeup-reduction)/20))
		l[i] *= g
		r[i] *= g
	}
}

func (c *Compressor) Reset() { c.env = silenceDB }

// Reduction returns the current gain reduction in dB.
func (c *Compressor) Reduction() float64 {
	if over := c.env - c.threshold; over > 0 {
		return (1 - 1/c.ratio) * over
	}
	return 0
}
