package mixer

// DefaultMaxDelay is the longest delay time, in seconds, of a delay whose
// definition does not set "max".
const DefaultMaxDelay = 2.0

const maxDelayLimit = 60

// Delay is a stereo feedback delay. The time can be set in seconds with
// "time" or exactly in frames with "frames", which takes precedence. "damp"
// lowpasses the feedback path.
type Delay struct {
	bufL, bufR []float32
	pos        int
	frames     int
	feedback   float32
	wet, dry   float32
	damp       float32
	lpL, lpR   float32
	maxTime    float64
	sampleRate int
}

func NewDelay(sampleRate int, maxTime float64) *Delay {
	maxTime = clamp(maxTime, 0, maxDelayLimit)
	size := int(maxTime*float64(sampleRate)) + 1
	if size < 2 {
		size = 2
	}
	return &Delay{
		bufL:       make([]float32, size),
		bufR:       make([]float32, size),
		frames:     1,
		wet:        0.5,
		dry:        1,
		maxTime:    maxTime,
		sampleRate: sampleRate,
	}
}

func (d *Delay) SetParams(p map[string]float64) {
	frames := int(param(p, "time", 0.25) * float64(d.sampleRate))
	if f := param(p, "frames", 0); f > 0 {
		frames = int(f)
	}
	d.frames = min(max(frames, 1), len(d.bufL)-1)
	d.feedback = float32(clamp(param(p, "feedback", 0.3), 0, 0.95))
	d.wet = float32(clamp(param(p, "wet", 0.5), 0, 1))
	d.dry = float32(clamp(param(p, "dry", 1), 0, 1))
	d.damp = float32(clamp(param(p, "damp", 0), 0, 1))
}

func (d *Delay) Process(l, r []float32) {
	size := len(d.bufL)
	for i := range l {
		read := d.pos - d.frames
		if read < 0 {
			read += size
		}
		yl, yr := d.bufL[read], d.bufR[read]
		d.lpL += (1 - d.damp) * (yl - d.lpL)
		d.lpR += (1 - d.damp) * (yr - d.lpR)
		d.bufL[d.pos] = l[i] + d.feedback*d.lpL
		d.bufR[d.pos] = r[i] + d.feedback*d.lpR
		d.pos++
		if d.pos >= size {
			d.pos = 0
		}
		l[i] = l[i]*d.dry + yl*d.wet
		r[i] = r[i]*d.dry + yr*d.wet
	}
}

func (d *Delay) Reset() {
	clear(d.bufL)
	clear(d.bufR)
	d.pos = 0
	d.lpL, d.lpR = 0, 0
}
