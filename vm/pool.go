package vm

import (
	"github.com/xentrack/xentrack"
)

type (
	// Pool is a fixed set of voices, allocated once when the pool is created.
	// Every method is meant to be called from the audio thread only and none
	// of them allocate.
	Pool struct {
		voices     [MAX_VOICES]Voice
		capacity   int
		free       [MAX_VOICES]int
		numFree    int
		serial     uint64
		quantum    uint64
		sampleRate float64
		scratch    paramBlock
		retired    [MAX_RETIRED]*Program
		numRetired int
		stats      PoolStats
	}

	// Sink receives the mono output of a voice, panned by gainL and gainR,
	// at offset frames into the current quantum of a bus.
	Sink interface {
		Add(bus, offset int, mono []float32, gainL, gainR float32)
	}

	// VoiceInfo is a snapshot of one sounding voice.
	VoiceInfo struct {
		ID      VoiceID
		Key     Key
		State   State
		Degree  int
		Program *Program
	}

	PoolStats struct {
		Started  int
		Stolen   int
		Finished int
	}
)

// NewPool creates a pool with at most capacity voices, clamped to
// [1, MAX_VOICES].
func NewPool(sampleRate int, capacity int) *Pool {
	capacity = max(1, min(capacity, MAX_VOICES))
	p := &Pool{capacity: capacity, sampleRate: float64(sampleRate)}
	for i := range capacity {
		p.free[i] = capacity - 1 - i
	}
	p.numFree = capacity
	return p
}

// Capacity returns the number of voices of the pool.
func (p *Pool) Capacity() int { return p.capacity }

// Active returns the number of voices that are not idle.
func (p *Pool) Active() int { return p.capacity - p.numFree }

// Stats returns counters of the voices started, stolen and finished so far.
func (p *Pool) Stats() PoolStats { return p.stats }

// BeginQuantum marks the start of a new render quantum. Voices started
// during the current quantum are stolen only if nothing else can be.
func (p *Pool) BeginQuantum() { p.quantum++ }

// NoteOn starts a note and returns the ID to release it with. Mono and
// single trigger instruments reuse the voice already playing on the same
// key. When no voice is free, or the instrument has reached its polyphony,
// a voice is stolen: a voice that was not started in this quantum before
// one that was, a released voice before a held one, the oldest first.
func (p *Pool) NoteOn(n Note) VoiceID {
	if n.Program == nil || n.Tuning == nil {
		return 0
	}
	if n.Program.PlayMode != xentrack.Poly {
		if i := p.find(n.Key, n.Program); i >= 0 {
			p.legato(i, n)
			return p.id(i)
		}
	}
	if n.Program.Polyphony > 0 && p.count(n.Program) >= n.Program.Polyphony {
		p.stop(p.victim(n.Program), true)
	}
	if p.numFree == 0 {
		p.stop(p.victim(nil), true)
	}
	p.numFree--
	i := p.free[p.numFree]
	p.start(i, n)
	return p.id(i)
}

// NoteOff releases the note with the given ID, if its voice still plays it.
func (p *Pool) NoteOff(id VoiceID) {
	i := int(id & 0xff)
	if id == 0 || i >= p.capacity || p.voices[i].state == Idle || p.id(i) != id {
		return
	}
	p.release(i)
}

// Release releases every held voice of a key.
func (p *Pool) Release(key Key) {
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.gate && v.key == key {
			p.release(i)
		}
	}
}

// ReleaseAll releases every held voice.
func (p *Pool) ReleaseAll() {
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.gate {
			p.release(i)
		}
	}
}

// Reset silences every voice immediately.
func (p *Pool) Reset() {
	for i := range p.capacity {
		if p.voices[i].state != Idle {
			p.stop(i, false)
		}
	}
}

// SetPressure sets the pressure of all the voices of a key.
func (p *Pool) SetPressure(key Key, value float32) {
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.key == key {
			v.pressure = value
		}
	}
}

// SetModulation sets the modulation wheel of all the voices of a key.
func (p *Pool) SetModulation(key Key, value float32) {
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.key == key {
			v.modulation = value
		}
	}
}

// SetBend bends all the voices of a key by the given number of scale
// degrees.
func (p *Pool) SetBend(key Key, bend float64) {
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.key == key {
			v.bend = bend
			v.target = v.frequency()
			if v.prog.Glide == 0 {
				v.freq = v.target
			}
		}
	}
}

// Automate sets the base value of a parameter for the voices of a track
// playing prog.
func (p *Pool) Automate(track int, prog *Program, ref ParamRef, value float32) {
	if ref.Op < 0 || ref.Op >= len(prog.ops) || ref.Slot < 0 || ref.Slot >= MAX_PARAMS {
		return
	}
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.prog == prog && v.key.Source == SourcePattern && v.key.Track == track {
			v.base[ref.Op][ref.Slot] = value
		}
	}
}

// Render renders frames of every active voice into the sink, starting at
// offset frames into the quantum, in blocks of at most MAX_BLOCK frames.
func (p *Pool) Render(sink Sink, offset, frames int) {
	for frames > 0 {
		n := min(frames, MAX_BLOCK)
		for i := range p.capacity {
			v := &p.voices[i]
			if v.state == Idle {
				continue
			}
			v.render(&p.scratch, n, p.sampleRate)
			out := v.out[v.prog.output][:n]
			sink.Add(v.bus, offset, out, v.prog.gainL*v.send, v.prog.gainR*v.send)
			switch {
			case v.finished():
				p.stop(i, false)
			case v.state == Attack && p.attackDone(v):
				v.state = Sustain
			}
		}
		offset += n
		frames -= n
	}
}

// Voices appends a snapshot of every active voice to dst.
func (p *Pool) Voices(dst []VoiceInfo) []VoiceInfo {
	for i := range p.capacity {
		v := &p.voices[i]
		if v.state == Idle {
			continue
		}
		dst = append(dst, VoiceInfo{ID: p.id(i), Key: v.key, State: v.state, Degree: v.degree, Program: v.prog})
	}
	return dst
}

func (p *Pool) id(i int) VoiceID {
	return VoiceID(p.voices[i].serial<<8 | uint64(i))
}

func (p *Pool) attackDone(v *Voice) bool {
	if len(v.prog.envelopes) == 0 {
		return true
	}
	s := v.nodes[v.prog.envelopes[0]].stage
	return s == stageSustain || s == stageIdle
}

func (p *Pool) find(key Key, prog *Program) int {
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.prog == prog && v.key == key {
			return i
		}
	}
	return -1
}

func (p *Pool) count(prog *Program) int {
	c := 0
	for i := range p.capacity {
		if v := &p.voices[i]; v.state != Idle && v.prog == prog {
			c++
		}
	}
	return c
}

// victim returns the voice to steal among the voices of prog, or among all
// the voices if prog is nil.
func (p *Pool) victim(prog *Program) int {
	best := -1
	for i := range p.capacity {
		v := &p.voices[i]
		if v.state == Idle || (prog != nil && v.prog != prog) {
			continue
		}
		if best < 0 || p.stealsBefore(v, &p.voices[best]) {
			best = i
		}
	}
	return best
}

func (p *Pool) stealsBefore(a, b *Voice) bool {
	if ac, bc := a.quantum == p.quantum, b.quantum == p.quantum; ac != bc {
		return bc
	}
	if ar, br := a.state == Release, b.state == Release; ar != br {
		return ar
	}
	return a.serial < b.serial
}

func (p *Pool) start(i int, n Note) {
	v := &p.voices[i]
	prog := n.Program
	prog.acquire()
	p.serial++
	p.stats.Started++
	*v = Voice{
		prog:       prog,
		key:        n.Key,
		bus:        n.Bus,
		send:       n.Send,
		state:      Attack,
		serial:     p.serial,
		quantum:    p.quantum,
		gate:       true,
		trig:       1,
		tuning:     n.Tuning,
		degree:     n.Degree,
		bend:       n.Bend,
		velocity:   n.Velocity,
		pressure:   n.Pressure,
		modulation: n.Modulation,
	}
	v.target = v.frequency()
	v.freq = v.target
	seed := uint32(p.serial*2654435761) | 1
	v.random = float32(seed>>8) / float32(1<<24)
	for j := range prog.ops {
		v.base[j] = prog.ops[j].base
		v.nodes[j].rng = seed ^ uint32(j+1)*0x9E3779B9
		if v.nodes[j].rng == 0 {
			v.nodes[j].rng = 1
		}
	}
}

func (p *Pool) legato(i int, n Note) {
	v := &p.voices[i]
	retrigger := n.Program.PlayMode == xentrack.Mono || !v.gate
	p.serial++
	v.serial = p.serial
	v.quantum = p.quantum
	v.degree = n.Degree
	v.tuning = n.Tuning
	v.bend = n.Bend
	v.velocity = n.Velocity
	v.bus = n.Bus
	v.send = n.Send
	v.target = v.frequency()
	if v.prog.Glide == 0 || v.freq == 0 {
		v.freq = v.target
	}
	v.gate = true
	if retrigger {
		v.trig++
		v.state = Attack
	}
}

func (p *Pool) release(i int) {
	v := &p.voices[i]
	v.gate = false
	v.state = Release
}

func (p *Pool) stop(i int, stolen bool) {
	if i < 0 {
		return
	}
	v := &p.voices[i]
	v.prog.release()
	v.prog = nil
	v.tuning = nil
	v.state = Idle
	p.free[p.numFree] = i
	p.numFree++
	if stolen {
		p.stats.Stolen++
	} else {
		p.stats.Finished++
	}
}
