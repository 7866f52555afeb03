package mixer

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
	"github.com/xentrack/xentrack"
)

type (
	// Bus accumulates the voices routed to it during a quantum and runs its
	// effect chain over them.
	Bus struct {
		Name         string
		left, right  []float32
		gainL, gainR float32
		trim         float32
		chain        *Chain
		meter        *Meter
	}

	// Mixer is the set of buses of a song. Bus 0 is the master bus; the buses
	// of the song follow it, so that the bus numbers of tracks index the
	// mixer directly. All buffers are allocated in New.
	Mixer struct {
		buses     []*Bus
		tmp       []float32
		frames    int
		maxFrames int
	}
)

// New creates the buses of a song, each able to hold maxFrames frames.
func New(song *xentrack.Song, sampleRate, maxFrames int) (*Mixer, error) {
	m := &Mixer{maxFrames: maxFrames, tmp: make([]float32, maxFrames)}
	defs := append([]xentrack.BusDef{song.Master}, song.Buses...)
	for i, d := range defs {
		chain, err := NewChain(d.Effects, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("bus %d (%s): %w", i, d.Name, err)
		}
		b := &Bus{
			Name:  d.Name,
			left:  make([]float32, maxFrames),
			right: make([]float32, maxFrames),
			trim:  1,
			chain: chain,
			meter: NewMeter(maxFrames),
		}
		b.setLevels(&d)
		m.buses = append(m.buses, b)
	}
	if m.buses[0].Name == "" {
		m.buses[0].Name = "master"
	}
	return m, nil
}

func (b *Bus) setLevels(d *xentrack.BusDef) {
	pan := clamp(d.Pan, -1, 1)
	angle := (pan + 1) * math.Pi / 4
	g := d.GainLevel()
	b.gainL = float32(g * math.Cos(angle) * math.Sqrt2)
	b.gainR = float32(g * math.Sin(angle) * math.Sqrt2)
}

// Len returns the number of buses including the master bus.
func (m *Mixer) Len() int { return len(m.buses) }

// Bus returns a bus by number, 0 being the master bus.
func (m *Mixer) Bus(i int) *Bus { return m.buses[i] }

// MaxFrames returns the largest quantum the mixer can hold.
func (m *Mixer) MaxFrames() int { return m.maxFrames }

// SetTrim sets a live gain factor of a bus, applied on top of the gain of its
// definition. Trims survive Update and Reset.
func (m *Mixer) SetTrim(bus int, trim float32) {
	if bus >= 0 && bus < len(m.buses) {
		m.buses[bus].trim = trim
	}
}

// Begin clears every bus for a quantum of the given length.
func (m *Mixer) Begin(frames int) {
	m.frames = min(frames, m.maxFrames)
	for _, b := range m.buses {
		vek32.Zeros_Into(b.left, m.frames)
		vek32.Zeros_Into(b.right, m.frames)
	}
}

// Add mixes a mono voice block into a bus. Unknown buses fall back to the
// master bus.
func (m *Mixer) Add(bus, offset int, mono []float32, gainL, gainR float32) {
	if bus < 0 || bus >= len(m.buses) {
		bus = 0
	}
	if offset >= m.frames {
		return
	}
	n := min(len(mono), m.frames-offset)
	b := m.buses[bus]
	tmp := m.tmp[:n]
	vek32.MulNumber_Into(tmp, mono[:n], gainL)
	vek32.Add_Inplace(b.left[offset:offset+n], tmp)
	vek32.MulNumber_Into(tmp, mono[:n], gainR)
	vek32.Add_Inplace(b.right[offset:offset+n], tmp)
}

// Mix runs the effect chain of every bus, sums the buses into the master bus
// with their gain and pan and runs the master chain. The returned slices are
// the master output and stay valid until the next Begin.
func (m *Mixer) Mix() (left, right []float32) {
	n := m.frames
	master := m.buses[0]
	for _, b := range m.buses[1:] {
		l, r := b.left[:n], b.right[:n]
		b.chain.Process(l, r)
		vek32.MulNumber_Inplace(l, b.gainL*b.trim)
		vek32.MulNumber_Inplace(r, b.gainR*b.trim)
		b.meter.Update(l, r)
		vek32.Add_Inplace(master.left[:n], l)
		vek32.Add_Inplace(master.right[:n], r)
	}
	l, r := master.left[:n], master.right[:n]
	master.chain.Process(l, r)
	vek32.MulNumber_Inplace(l, master.gainL*master.trim)
	vek32.MulNumber_Inplace(r, master.gainR*master.trim)
	master.meter.Update(l, r)
	return l, r
}

// Output returns the processed audio of a bus from the last Mix, after its
// gain and pan. For the master bus this is the final mix.
func (m *Mixer) Output(bus int) (left, right []float32) {
	b := m.buses[bus]
	return b.left[:m.frames], b.right[:m.frames]
}

// Levels writes the meter levels of the buses into dst, as many as fit in
// its capacity, and returns it.
func (m *Mixer) Levels(dst []Level) []Level {
	dst = dst[:0]
	for _, b := range m.buses {
		if len(dst) == cap(dst) {
			break
		}
		dst = append(dst, b.meter.Level())
	}
	return dst
}

// Compatible reports whether the buses of song match the mixer closely
// enough for Update to apply them in place.
func (m *Mixer) Compatible(song *xentrack.Song) bool {
	if len(song.Buses)+1 != len(m.buses) {
		return false
	}
	if !m.buses[0].chain.Compatible(song.Master.Effects) {
		return false
	}
	for i := range song.Buses {
		if !m.buses[i+1].chain.Compatible(song.Buses[i].Effects) {
			return false
		}
	}
	return true
}

// Update applies the gains, pans and effect parameters of a compatible song
// without touching the effect state.
func (m *Mixer) Update(song *xentrack.Song) {
	m.buses[0].setLevels(&song.Master)
	m.buses[0].chain.Update(song.Master.Effects)
	for i := range song.Buses {
		m.buses[i+1].setLevels(&song.Buses[i])
		m.buses[i+1].chain.Update(song.Buses[i].Effects)
	}
}

// Reset clears the state of every effect.
func (m *Mixer) Reset() {
	for _, b := range m.buses {
		b.chain.Reset()
	}
}
