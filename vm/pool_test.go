package vm_test

import (
	"slices"
	"testing"

	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/vm"
)

const sampleRate = 44100

type recordingSink struct {
	left [4096]float32
	n    int
}

func (s *recordingSink) Add(bus, offset int, mono []float32, gainL, gainR float32) {
	for i, v := range mono {
		if j := offset + i; j < len(s.left) {
			s.left[j] += v * gainL
			s.n = max(s.n, j+1)
		}
	}
}

func (s *recordingSink) energy() float64 {
	var e float64
	for _, v := range s.left[:s.n] {
		e += float64(v * v)
	}
	return e
}

func mustLoad(t *testing.T, instr *xentrack.Instrument) *vm.Program {
	t.Helper()
	prog, err := vm.Load(instr, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return prog
}

func pluck(mode xentrack.PlayMode, polyphony int) *xentrack.Instrument {
	return &xentrack.Instrument{
		Polyphony: polyphony,
		PlayMode:  mode,
		Nodes: []xentrack.Node{
			{ID: "osc", Type: "oscillator"},
			{ID: "env", Type: "envelope", Params: map[string]float64{"attack": 0, "decay": 0.01, "sustain": 0.5, "release": 0.01}},
			{ID: "vca", Type: "mixer", Mode: "ring", Inputs: []string{"osc", "env"}},
		},
		Output: "vca",
	}
}

func note(prog *vm.Program, channel, degree int) vm.Note {
	return vm.Note{
		Program:  prog,
		Key:      vm.Key{Track: 0, Channel: channel},
		Tuning:   xentrack.DefaultTuning(),
		Degree:   degree,
		Velocity: 1,
		Send:     1,
	}
}

func degrees(p *vm.Pool) []int {
	var ret []int
	for _, v := range p.Voices(nil) {
		ret = append(ret, v.Degree)
	}
	slices.Sort(ret)
	return ret
}

func renderFor(p *vm.Pool, frames int) {
	var sink recordingSink
	for frames > 0 {
		n := min(frames, len(sink.left))
		p.BeginQuantum()
		p.Render(&sink, 0, n)
		frames -= n
	}
}

func TestNoteSoundsAndFinishes(t *testing.T) {
	prog := mustLoad(t, pluck(xentrack.Poly, 0))
	pool := vm.NewPool(sampleRate, 8)
	pool.BeginQuantum()
	id := pool.NoteOn(note(prog, 0, 0))
	var sink recordingSink
	pool.Render(&sink, 0, 1024)
	if sink.energy() == 0 {
		t.Fatalf("the voice rendered silence")
	}
	if got := pool.Voices(nil)[0].State; got != vm.Sustain {
		t.Fatalf("expected the voice to sustain after its decay, got %v", got)
	}
	pool.NoteOff(id)
	renderFor(pool, sampleRate)
	if pool.Active() != 0 {
		t.Fatalf("voice still active a second after its release")
	}
	if prog.Refs() != 0 {
		t.Fatalf("program still referenced by %d voices", prog.Refs())
	}
	if s := pool.Stats(); s.Started != 1 || s.Finished != 1 || s.Stolen != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestStealOrder(t *testing.T) {
	prog := mustLoad(t, pluck(xentrack.Poly, 0))
	pool := vm.NewPool(sampleRate, 4)
	pool.BeginQuantum()
	ids := make([]vm.VoiceID, 4)
	for i := range ids {
		ids[i] = pool.NoteOn(note(prog, i, i))
	}
	pool.BeginQuantum()
	pool.NoteOff(ids[1])
	pool.NoteOff(ids[2])
	steps := []struct {
		degree int
		want   []int
	}{
		{4, []int{0, 2, 3, 4}}, // oldest released voice
		{5, []int{0, 3, 4, 5}}, // the other released voice
		{6, []int{3, 4, 5, 6}}, // oldest held voice not started in this quantum
		{7, []int{4, 5, 6, 7}},
		{8, []int{5, 6, 7, 8}}, // everything started in this quantum: oldest
	}
	for _, s := range steps {
		pool.NoteOn(note(prog, s.degree, s.degree))
		if got := degrees(pool); !slices.Equal(got, s.want) {
			t.Fatalf("after note %d: got voices %v, want %v", s.degree, got, s.want)
		}
	}
	if st := pool.Stats(); st.Stolen != 5 {
		t.Fatalf("expected 5 steals, got %d", st.Stolen)
	}
	if prog.Refs() != 4 {
		t.Fatalf("expected 4 references to the program, got %d", prog.Refs())
	}
}

func TestStaleIDDoesNotReleaseNewNote(t *testing.T) {
	prog := mustLoad(t, pluck(xentrack.Poly, 0))
	pool := vm.NewPool(sampleRate, 1)
	pool.BeginQuantum()
	old := pool.NoteOn(note(prog, 0, 0))
	pool.BeginQuantum()
	cur := pool.NoteOn(note(prog, 1, 1))
	if old == cur {
		t.Fatalf("a stolen voice kept its ID")
	}
	pool.NoteOff(old)
	if v := pool.Voices(nil); len(v) != 1 || v[0].State == vm.Release {
		t.Fatalf("releasing a stale ID released the new note: %+v", v)
	}
	pool.NoteOff(cur)
	if v := pool.Voices(nil); len(v) != 1 || v[0].State != vm.Release {
		t.Fatalf("expected the current note to be released: %+v", v)
	}
}

func TestPolyphonyLimit(t *testing.T) {
	prog := mustLoad(t, pluck(xentrack.Poly, 2))
	other := mustLoad(t, pluck(xentrack.Poly, 0))
	pool := vm.NewPool(sampleRate, 8)
	pool.BeginQuantum()
	pool.NoteOn(note(other, 9, 9))
	for i := 0; i < 3; i++ {
		pool.NoteOn(note(prog, i, i))
	}
	if got, want := degrees(pool), []int{1, 2, 9}; !slices.Equal(got, want) {
		t.Fatalf("got voices %v, want %v", got, want)
	}
}

func TestMonoReusesVoice(t *testing.T) {
	prog := mustLoad(t, pluck(xentrack.Mono, 0))
	pool := vm.NewPool(sampleRate, 8)
	pool.BeginQuantum()
	first := pool.NoteOn(note(prog, 0, 0))
	second := pool.NoteOn(note(prog, 0, 4))
	if pool.Active() != 1 {
		t.Fatalf("mono instrument used %d voices", pool.Active())
	}
	if got := degrees(pool); !slices.Equal(got, []int{4}) {
		t.Fatalf("voice did not move to the new degree: %v", got)
	}
	pool.NoteOff(first)
	if v := pool.Voices(nil); v[0].State == vm.Release {
		t.Fatalf("releasing the replaced note released the voice")
	}
	pool.NoteOff(second)
	if v := pool.Voices(nil); v[0].State != vm.Release {
		t.Fatalf("releasing the current note did not release the voice")
	}
	pool.NoteOn(note(prog, 1, 7))
	if pool.Active() != 2 {
		t.Fatalf("a note on another channel should get its own voice")
	}
}

func TestRetiredProgramCollectedAfterLastVoice(t *testing.T) {
	prog := mustLoad(t, pluck(xentrack.Poly, 0))
	pool := vm.NewPool(sampleRate, 8)
	pool.BeginQuantum()
	id := pool.NoteOn(note(prog, 0, 0))
	if !pool.Retire(prog) {
		t.Fatalf("Retire failed")
	}
	var collected []*vm.Program
	collect := func(p *vm.Program) { collected = append(collected, p) }
	pool.Collect(collect)
	if len(collected) != 0 || pool.Retired() != 1 {
		t.Fatalf("a program was collected while a voice still plays it")
	}
	pool.NoteOff(id)
	renderFor(pool, sampleRate)
	pool.Collect(collect)
	if len(collected) != 1 || collected[0] != prog || pool.Retired() != 0 {
		t.Fatalf("the program was not collected after its voice finished")
	}
}

func TestNoiseIsReproducible(t *testing.T) {
	instr := &xentrack.Instrument{
		Nodes:  []xentrack.Node{{ID: "n", Type: "oscillator", Waveform: "noise"}},
		Output: "n",
	}
	render := func() *recordingSink {
		pool := vm.NewPool(sampleRate, 4)
		pool.BeginQuantum()
		pool.NoteOn(note(mustLoad(t, instr), 0, 0))
		s := &recordingSink{}
		pool.Render(s, 0, 1000)
		return s
	}
	a, b := render(), render()
	if a.left != b.left {
		t.Fatalf("two renders of the same noise note differ")
	}
	if a.energy() == 0 {
		t.Fatalf("noise rendered silence")
	}
}

func TestRenderDoesNotAllocate(t *testing.T) {
	instr := subtractive()
	instr.Nodes = append(instr.Nodes, xentrack.Node{ID: "vib", Type: "lfo", Waveform: "hold"})
	instr.Links = append(instr.Links, xentrack.Link{From: "vib", To: "osc.detune", Depth: 10})
	prog := mustLoad(t, instr)
	pool := vm.NewPool(sampleRate, vm.MAX_VOICES)
	sink := &recordingSink{}
	allocs := testing.AllocsPerRun(20, func() {
		pool.BeginQuantum()
		for i := 0; i < 8; i++ {
			pool.NoteOn(note(prog, i, i*3))
		}
		pool.Render(sink, 0, 512)
		pool.ReleaseAll()
		pool.Render(sink, 0, 512)
	})
	if allocs != 0 {
		t.Fatalf("rendering allocated %v times per run", allocs)
	}
}
