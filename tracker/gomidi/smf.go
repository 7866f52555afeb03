package gomidi

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/tracker"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// ImportOptions control how a Standard MIDI File becomes a song.
type ImportOptions struct {
	Title string
	// Reference is the MIDI note that becomes scale degree 0; 0 means
	// DefaultReference.
	Reference int
	// Instrument is played by every track; nil uses a plain saw.
	Instrument *xentrack.Instrument
}

const DefaultReference = 69

var ErrUnsupportedTimeFormat = errors.New("only metric time formats are supported")

// ImportSMF reads a Standard MIDI File into a song, one track per MIDI
// channel. A quarter note is a beat, so positions are exact fractions of the
// file resolution, and tempo meta events become exact tempo changes. The
// MIDI key of a note is the channel of its events within the track, so that
// overlapping notes are released correctly.
func ImportSMF(r io.Reader, opts ImportOptions) (*xentrack.Song, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}
	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, ErrUnsupportedTimeFormat
	}
	resolution := int64(mt.Resolution())
	if resolution <= 0 {
		return nil, fmt.Errorf("invalid MIDI resolution %d", resolution)
	}
	if opts.Reference == 0 {
		opts.Reference = DefaultReference
	}
	instr := DefaultInstrument()
	if opts.Instrument != nil {
		instr = opts.Instrument.Copy()
	}
	song := &xentrack.Song{
		Version:     xentrack.SongVersion,
		Title:       opts.Title,
		Tempo:       xentrack.DefaultTempo,
		Instruments: []xentrack.Instrument{instr},
	}
	var channels [16][]xentrack.Event
	var lastTick int64
	for _, track := range s.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message
			pos := xentrack.NewSpan(tick, resolution)
			if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
				us := int64(msg[3])<<16 | int64(msg[4])<<8 | int64(msg[5])
				if us > 0 {
					tempo := xentrack.NewSpan(60000000, us)
					if tick == 0 {
						song.Tempo = tempo
					} else {
						song.Score.Conductor = append(song.Score.Conductor, xentrack.Event{Pos: pos, Kind: xentrack.TempoChange, Tempo: tempo})
					}
				}
				continue
			}
			e, ok := Decode(midi.Message(msg))
			if !ok {
				continue
			}
			var event xentrack.Event
			switch e.Kind {
			case tracker.MIDINoteOn:
				event = xentrack.Event{Pos: pos, Kind: xentrack.NoteOn, Channel: int(e.Note), Degree: int(e.Note) - opts.Reference, Velocity: float64(e.Velocity) / 127}
			case tracker.MIDINoteOff:
				event = xentrack.Event{Pos: pos, Kind: xentrack.NoteOff, Channel: int(e.Note)}
			default:
				continue
			}
			channels[e.Channel] = append(channels[e.Channel], event)
			lastTick = max(lastTick, tick)
		}
	}
	// the song ends at the first whole beat after the last note event
	length := xentrack.Beats(lastTick/resolution + 1)
	song.Score.PatternLength = length
	for ch, events := range channels {
		if len(events) == 0 {
			continue
		}
		slices.SortStableFunc(events, func(a, b xentrack.Event) int { return a.Pos.Cmp(b.Pos) })
		song.Score.Tracks = append(song.Score.Tracks, xentrack.Track{
			Name:     fmt.Sprintf("Channel %d", ch+1),
			Order:    xentrack.Order{0},
			Patterns: []xentrack.Pattern{{Events: events}},
		})
	}
	slices.SortStableFunc(song.Score.Conductor, func(a, b xentrack.Event) int { return a.Pos.Cmp(b.Pos) })
	song.Score.Conductor = append(song.Score.Conductor, xentrack.Event{Pos: length, Kind: xentrack.End})
	if err := song.Validate(); err != nil {
		return nil, err
	}
	return song, nil
}

// DefaultInstrument returns the instrument imported songs play with.
func DefaultInstrument() xentrack.Instrument {
	return xentrack.Instrument{
		Name:      "saw",
		Version:   xentrack.InstrumentVersion,
		Polyphony: xentrack.DefaultPolyphony,
		Nodes: []xentrack.Node{
			{ID: "osc", Type: "oscillator", Waveform: "saw"},
			{ID: "env", Type: "envelope", Params: map[string]float64{"attack": 0.005, "decay": 0.2, "sustain": 0.6, "release": 0.2}},
			{ID: "vca", Type: "mixer", Mode: "ring", Inputs: []string{"osc", "env"}},
		},
		Output: "vca",
	}
}
