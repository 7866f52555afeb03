package tracker

import (
	"github.com/xentrack/xentrack"
)

type (
	// Sequencer is the transport: it keeps the exact song position and tempo
	// and finds the events that fall inside each quantum. Position and tempo
	// are rational, so the position after any number of quanta is exact; only
	// positions whose denominator grows beyond the configured maximum are
	// snapped, and each snap or overflow approximation is counted.
	Sequencer struct {
		pos       xentrack.Span
		tempo     xentrack.Span
		playing   bool
		looping   bool
		loopStart xentrack.Span
		loopEnd   xentrack.Span
		hasLoop   bool
		cursor    int
		late      int // events late..lateEnd were left behind by a loop wrap
		lateEnd   int
		snaps     int
		maxDen    int64
	}

	// Dispatch is an event to apply at Frame frames into the quantum. A
	// Dispatch of kind End, with Track -1, stops the transport.
	Dispatch struct {
		Frame int
		Event ScheduledEvent
	}
)

func NewSequencer(maxDen int64) *Sequencer {
	return &Sequencer{tempo: xentrack.DefaultTempo, maxDen: maxDen}
}

func (s *Sequencer) Position() xentrack.Span { return s.pos }
func (s *Sequencer) Tempo() xentrack.Span    { return s.tempo }
func (s *Sequencer) Playing() bool           { return s.playing }
func (s *Sequencer) Looping() bool           { return s.looping }

// Snaps returns how many times the position has been snapped to the maximum
// denominator or approximated because exact arithmetic overflowed.
func (s *Sequencer) Snaps() int { return s.snaps }

// Loop returns the loop region.
func (s *Sequencer) Loop() (start, end xentrack.Span, ok bool) {
	return s.loopStart, s.loopEnd, s.hasLoop
}

// Bind prepares the sequencer to play a schedule, keeping its position. The
// loop region of the schedule replaces the current one.
func (s *Sequencer) Bind(sched *Schedule) {
	s.loopStart, s.loopEnd, s.hasLoop = sched.LoopStart, sched.LoopEnd, sched.HasLoop
	s.Seek(sched, s.pos)
}

// Seek moves the position. The tempo becomes the one in effect at pos and
// events at pos will fire on the next Advance.
func (s *Sequencer) Seek(sched *Schedule, pos xentrack.Span) {
	if pos.Sign() < 0 {
		pos = xentrack.Span{}
	}
	s.pos = pos
	s.cursor = sched.Seek(pos)
	s.tempo = sched.TempoAt(pos)
	s.late, s.lateEnd = 0, 0
}

// Play starts playing from pos.
func (s *Sequencer) Play(sched *Schedule, pos xentrack.Span) {
	s.Seek(sched, pos)
	s.playing = true
}

func (s *Sequencer) Stop() {
	s.playing = false
	s.late, s.lateEnd = 0, 0
}

// SetLoop sets the loop region; an empty region disables looping.
func (s *Sequencer) SetLoop(start, end xentrack.Span) {
	s.loopStart, s.loopEnd = start, end
	s.hasLoop = start.Sign() >= 0 && start.Less(end)
}

func (s *Sequencer) SetLooping(looping bool) { s.looping = looping }

// Advance moves the transport forward by frames and appends the events that
// fall inside them to out, each at the first frame at or after its position.
// Events already behind the position fire at the current frame. Tempo
// changes take effect from the frame their event fires at. When looping, the
// position wraps from the loop end to the loop start, keeping the overshoot,
// the tempo returns to the one in effect at the loop start, and the events
// after the loop start fire in the same quantum. At the song end the
// transport stops and a Dispatch of kind End is appended. The last slot of out
// is kept for it: when the others are full, the remaining events fire late in
// the next quantum, also those a loop wrap jumped over. Advance never grows
// out.
func (s *Sequencer) Advance(sched *Schedule, frames, sampleRate int, out []Dispatch) []Dispatch {
	if s.playing {
		out = s.fireLate(sched, out)
	}
	frame := 0
	end, hasEnd := sched.End()
	for s.playing && frame < frames {
		var limit xentrack.Span
		wrap := s.looping && s.hasLoop && s.pos.Less(s.loopEnd)
		switch {
		case wrap && (!hasEnd || !end.Less(s.loopEnd)):
			limit = s.loopEnd
		case hasEnd:
			limit = end
			wrap = false
		}
		bounded := wrap || hasEnd
		if hasEnd && !wrap && !s.pos.Less(end) {
			out = s.stop(out, frame)
			break
		}
		for s.cursor < len(sched.Events) && len(out)+1 < cap(out) {
			e := &sched.Events[s.cursor]
			if bounded && !e.Pos.Less(limit) {
				break
			}
			f := frame + xentrack.FramesUntil(s.pos, e.Pos, sampleRate, s.tempo)
			if f >= frames {
				break
			}
			s.cursor++
			switch e.Kind {
			case xentrack.TempoChange:
				s.advance(f-frame, sampleRate)
				frame = f
				s.tempo = e.Tempo
			case xentrack.End, xentrack.LoopStart, xentrack.LoopEnd:
				// handled through the song end and the loop region
				continue
			}
			out = append(out, Dispatch{Frame: f, Event: *e})
		}
		if bounded {
			if f := frame + xentrack.FramesUntil(s.pos, limit, sampleRate, s.tempo); f <= frames {
				next, exact := xentrack.TryAdvance(s.pos, f-frame, sampleRate, s.tempo)
				frame = f
				if wrap {
					if skipped := sched.Seek(s.loopEnd); s.cursor < skipped {
						s.late, s.lateEnd = s.cursor, skipped
					}
					over, ok1 := next.TryAdd(s.loopEnd.Neg())
					pos, ok2 := s.loopStart.TryAdd(over)
					s.moveTo(pos, exact && ok1 && ok2)
					s.cursor = sched.Seek(s.loopStart)
					s.tempo = sched.TempoAt(s.loopStart)
				} else {
					s.moveTo(next, exact)
					out = s.stop(out, frame)
				}
				continue
			}
		}
		s.advance(frames-frame, sampleRate)
		frame = frames
	}
	return out
}

// fireLate appends the events a loop wrap jumped over at the first frame.
// Tempo changes among them are dropped, the wrap already set the tempo.
func (s *Sequencer) fireLate(sched *Schedule, out []Dispatch) []Dispatch {
	s.lateEnd = min(s.lateEnd, len(sched.Events))
	for s.late < s.lateEnd && len(out)+1 < cap(out) {
		e := &sched.Events[s.late]
		s.late++
		switch e.Kind {
		case xentrack.TempoChange, xentrack.End, xentrack.LoopStart, xentrack.LoopEnd:
			continue
		}
		out = append(out, Dispatch{Frame: 0, Event: *e})
	}
	return out
}

func (s *Sequencer) advance(frames, sampleRate int) {
	s.moveTo(xentrack.TryAdvance(s.pos, frames, sampleRate, s.tempo))
}

func (s *Sequencer) stop(out []Dispatch, frame int) []Dispatch {
	s.playing = false
	if len(out) < cap(out) {
		out = append(out, Dispatch{Frame: frame, Event: ScheduledEvent{Pos: s.pos, Kind: xentrack.End, Track: -1, Slot: -1}})
	}
	return out
}

// moveTo sets the position, snapping it if its denominator is too large. An
// inexact position counts as a snap even when it needs no snapping.
func (s *Sequencer) moveTo(pos xentrack.Span, exact bool) {
	if pos.Den() > s.maxDen {
		pos = pos.Snap(s.maxDen)
		exact = false
	}
	if !exact {
		s.snaps++
	}
	s.pos = pos
}
