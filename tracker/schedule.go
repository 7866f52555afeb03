package tracker

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/mixer"
	"github.com/xentrack/xentrack/vm"
)

type (
	// Schedule is a song compiled for playback: the events of every track and
	// the conductor flattened into one sorted list, with the instruments
	// loaded and every automation target resolved. The engine reads a
	// schedule once per quantum and never modifies its compiled parts, so the
	// control side can publish a new schedule at any time.
	Schedule struct {
		Song      *xentrack.Song
		Programs  []*vm.Program
		Tuning    *xentrack.Tuning
		Events    []ScheduledEvent
		Tempo     xentrack.Span
		Length    xentrack.Span
		HasEnd    bool // the conductor has an end event
		LoopStart xentrack.Span
		LoopEnd   xentrack.Span
		HasLoop   bool

		tracks     []trackState
		channels   []channelState
		mixer      *mixer.Mixer
		sampleRate int
	}

	// ScheduledEvent is an event at its absolute position in the song. Track
	// is -1 for the conductor. Slot indexes the channel of the track that the
	// event plays on.
	ScheduledEvent struct {
		Pos        xentrack.Span
		Kind       xentrack.EventKind
		Track      int
		Channel    int
		Slot       int
		Degree     int
		Velocity   float32
		Instrument int // 0-based
		Control    Control
		Param      vm.ParamRef
		Value      float32
		Tempo      xentrack.Span
	}

	// Control tells what an automation event sets.
	Control int

	// trackState is owned by the engine playing the schedule.
	trackState struct {
		bus   int
		send  float32
		mute  bool
		autos [MAX_TRACK_AUTOMATION]automation
		n     int
	}

	automation struct {
		prog  *vm.Program
		ref   vm.ParamRef
		value float32
	}

	// channelState is owned by the engine playing the schedule.
	channelState struct {
		key        vm.Key
		voice      vm.VoiceID
		pressure   float32
		modulation float32
		bend       float64
	}
)

const (
	ControlParam Control = iota
	ControlPressure
	ControlModulation
	ControlBend
)

// KitInstrument is the instrument of live notes played through the drum kit
// of the song.
const KitInstrument = -1

// MAX_TRACK_AUTOMATION is the number of automated parameters a track
// remembers for the notes it starts later.
const MAX_TRACK_AUTOMATION = 16

var controlNames = map[string]Control{"pressure": ControlPressure, "modulation": ControlModulation, "bend": ControlBend}

// Compile validates a song and compiles it into a Schedule. The schedule
// keeps a deep copy of the song. Nothing is published until Compile has
// succeeded, so a failed compile leaves the playing schedule untouched.
func Compile(song *xentrack.Song, samples xentrack.SampleSet, cfg Config) (*Schedule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := song.Copy()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	sched := &Schedule{
		Song:   &s,
		Tuning: s.TuningOrDefault(),
		Tempo:  s.BPM(),
	}
	for i := range s.Instruments {
		prog, err := vm.Load(&s.Instruments[i], samples)
		if err != nil {
			return nil, fmt.Errorf("instrument %d: %w", i, err)
		}
		sched.Programs = append(sched.Programs, prog)
	}
	if sched.Length, _ = s.Score.Length(); sched.Length.Sign() <= 0 {
		sched.Length = xentrack.Span{}
	}
	type slotKey struct{ track, channel int }
	slots := map[slotKey]int{}
	for ti := range s.Score.Tracks {
		t := &s.Score.Tracks[ti]
		sched.tracks = append(sched.tracks, trackState{bus: t.Bus, send: float32(t.SendLevel()), mute: t.Mute})
		var start xentrack.Span
		for _, p := range t.Order {
			length := s.Score.PatternLen(t, p)
			if p >= 0 && p < len(t.Patterns) {
				for _, e := range t.Patterns[p].Events {
					se, err := sched.resolve(e, start.Add(e.Pos), ti, t)
					if err != nil {
						return nil, fmt.Errorf("track %d (%s): %w", ti, t.Name, err)
					}
					k := slotKey{ti, e.Channel}
					slot, ok := slots[k]
					if !ok {
						slot = len(sched.channels)
						slots[k] = slot
						sched.channels = append(sched.channels, channelState{key: vm.Key{Source: vm.SourcePattern, Track: ti, Channel: e.Channel}})
					}
					se.Slot = slot
					sched.Events = append(sched.Events, se)
				}
			}
			start = start.Add(length)
		}
	}
	for _, e := range s.Score.Conductor {
		sched.Events = append(sched.Events, ScheduledEvent{Pos: e.Pos, Kind: e.Kind, Track: -1, Channel: e.Channel, Slot: -1, Tempo: e.Tempo})
		switch e.Kind {
		case xentrack.End:
			sched.HasEnd = true
		case xentrack.LoopStart:
			if !sched.HasLoop || e.Pos.Less(sched.LoopStart) {
				sched.LoopStart = e.Pos
			}
			sched.HasLoop = true
		case xentrack.LoopEnd:
			if sched.LoopEnd.IsZero() || e.Pos.Less(sched.LoopEnd) {
				sched.LoopEnd = e.Pos
			}
			sched.HasLoop = true
		}
	}
	if sched.LoopEnd.IsZero() {
		sched.LoopEnd = sched.Length
	}
	if !sched.LoopStart.Less(sched.LoopEnd) {
		sched.HasLoop = false
	}
	// a stable sort keeps the declaration order of events that tie
	slices.SortStableFunc(sched.Events, func(a, b ScheduledEvent) int {
		if c := a.Pos.Cmp(b.Pos); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Track, b.Track); c != 0 {
			return c
		}
		return cmp.Compare(a.Channel, b.Channel)
	})
	m, err := mixer.New(&s, cfg.SampleRate, cfg.QuantumFrames)
	if err != nil {
		return nil, err
	}
	sched.mixer = m
	sched.sampleRate = cfg.SampleRate
	return sched, nil
}

func (sched *Schedule) resolve(e xentrack.Event, pos xentrack.Span, ti int, t *xentrack.Track) (ScheduledEvent, error) {
	se := ScheduledEvent{
		Pos:        pos,
		Kind:       e.Kind,
		Track:      ti,
		Channel:    e.Channel,
		Degree:     e.Degree,
		Velocity:   float32(e.Velocity),
		Instrument: t.Instrument,
		Value:      float32(e.Value),
	}
	switch {
	case e.Instrument > 0:
		se.Instrument = e.Instrument - 1
	case t.Kit && se.Kind == xentrack.NoteOn:
		// unmapped degrees get no instrument and stay silent
		se.Instrument = KitInstrument
		if instr, degree, ok := sched.Song.MapKit(e.Degree); ok {
			se.Instrument, se.Degree = instr, degree
		}
	}
	if se.Kind == xentrack.NoteOn && se.Velocity <= 0 {
		se.Velocity = 1
	}
	if se.Kind != xentrack.Automation {
		return se, nil
	}
	if c, ok := controlNames[strings.ToLower(e.Param)]; ok {
		se.Control = c
		return se, nil
	}
	prog := sched.Programs[se.Instrument]
	ref, ok := prog.Param(e.Param)
	if !ok {
		return se, fmt.Errorf("%w: automation of %q, which instrument %d does not have", xentrack.ErrInvalidSong, e.Param, se.Instrument)
	}
	se.Control = ControlParam
	se.Param = ref
	return se, nil
}

// Seek returns the index of the first event at or after pos.
func (sched *Schedule) Seek(pos xentrack.Span) int {
	i, _ := slices.BinarySearchFunc(sched.Events, pos, func(e ScheduledEvent, p xentrack.Span) int { return e.Pos.Cmp(p) })
	return i
}

// TempoAt returns the tempo in effect just before pos.
func (sched *Schedule) TempoAt(pos xentrack.Span) xentrack.Span {
	tempo := sched.Tempo
	for _, e := range sched.Events {
		if !e.Pos.Less(pos) {
			break
		}
		if e.Kind == xentrack.TempoChange {
			tempo = e.Tempo
		}
	}
	return tempo
}

// End returns the position at which playback stops, ok is false if the song
// has neither an end event nor a length.
func (sched *Schedule) End() (pos xentrack.Span, ok bool) {
	return sched.Length, sched.HasEnd || sched.Length.Sign() > 0
}
