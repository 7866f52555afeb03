package xentrack

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Song includes a Score (the arrangement of events in one or more
	// tracks), the instruments the tracks play, the buses the tracks are mixed
	// through and the tuning in which the note degrees are interpreted. Tempo
	// is the initial tempo in beats per minute, as an exact fraction; the
	// conductor of the score can change it later.
	Song struct {
		Version     int          `yaml:",omitempty"`
		Title       string       `yaml:",omitempty"`
		Tempo       Span         `yaml:",omitempty"`
		Tuning      *Tuning      `yaml:",omitempty"`
		Instruments []Instrument `yaml:",omitempty"`
		Buses       []BusDef     `yaml:",omitempty"`
		Master      BusDef       `yaml:",omitempty"`
		Kit         []KitEntry   `yaml:",omitempty,flow"`
		Score       Score
	}

	// KitEntry maps the degree Input, played on a kit track or the kit MIDI
	// channel, to Degree of Instrument. The first entry with a matching input
	// wins; degrees without an entry are silent.
	KitEntry struct {
		Input      int
		Instrument int
		Degree     int
	}

	// Score represents the arrangement of a song: the tracks and the
	// conductor, which holds the song level events (tempo changes, loop points
	// and the end of the song). PatternLength is the length of patterns that
	// do not specify their own and of empty (-1) order slots.
	Score struct {
		PatternLength Span    `yaml:",omitempty"`
		Tracks        []Track `yaml:",omitempty"`
		Conductor     []Event `yaml:",omitempty"`
	}

	// Track represents the patterns and order list of one track. The patterns
	// of the order list are played back to back. Every note of the track is
	// played with Instrument (an index to Song.Instruments) unless the event
	// overrides it, and the voices are routed to Bus, a 1-based index to
	// Song.Buses where 0 means the master bus directly. The notes of a Kit
	// track pick their instrument and degree from Song.Kit instead.
	Track struct {
		Name       string    `yaml:",omitempty"`
		Instrument int       `yaml:",omitempty"`
		Bus        int       `yaml:",omitempty"`
		Send       *float64  `yaml:",omitempty"` // bus send level, nil = 1
		Mute       bool      `yaml:",omitempty"`
		Kit        bool      `yaml:",omitempty"` // notes are mapped through Song.Kit
		Order      Order     `yaml:",flow"`
		Patterns   []Pattern `yaml:",omitempty"`
	}

	// Pattern is a list of events positioned relative to the start of the
	// pattern. Length of zero means Score.PatternLength.
	Pattern struct {
		Length Span    `yaml:",omitempty"`
		Events []Event `yaml:",omitempty"`
	}

	// Order is the pattern order for a track. -1 is an empty slot.
	Order []int

	// Event is a scheduled action at position Pos. Channel identifies the
	// note within a track: a note-on releases the previous note of the same
	// channel and a note-off releases it. For note-ons, Velocity of zero is
	// treated as full velocity and Instrument, if non-zero, is a 1-based
	// override of the track's instrument. Automation events set Param, which
	// is either "node.param" of the playing instrument or one of the channel
	// controllers "pressure", "modulation" and "bend", to Value.
	Event struct {
		Pos        Span
		Kind       EventKind
		Channel    int     `yaml:"ch,omitempty"`
		Degree     int     `yaml:",omitempty"`
		Velocity   float64 `yaml:"vel,omitempty"`
		Instrument int     `yaml:"instr,omitempty"`
		Param      string  `yaml:",omitempty"`
		Value      float64 `yaml:",omitempty"`
		Tempo      Span    `yaml:",omitempty"`
	}

	// EventKind tells what an Event does.
	EventKind int

	// BusDef is the persisted form of a bus: a gain, a pan and an effect
	// chain processed in order.
	BusDef struct {
		Name    string      `yaml:",omitempty"`
		Gain    *float64    `yaml:",omitempty"` // nil = 1
		Pan     float64     `yaml:",omitempty"`
		Effects []EffectDef `yaml:",omitempty"`
	}

	// EffectDef is one effect of a bus chain. Type is one of "delay",
	// "reverb", "compressor" and "saturator".
	EffectDef struct {
		Type     string
		Params   map[string]float64 `yaml:",flow,omitempty"`
		Disabled bool               `yaml:",omitempty"`
	}
)

const (
	NoteOn EventKind = iota
	NoteOff
	Automation
	TempoChange
	LoopStart
	LoopEnd
	End
)

// SongVersion is the current version of the song format.
const SongVersion = 1

var (
	// DefaultTempo is used for songs that do not set a tempo.
	DefaultTempo = Beats(120)
	// DefaultPatternLength is used for scores that do not set one.
	DefaultPatternLength = Beats(4)
)

var eventKindNames = []string{"on", "off", "auto", "tempo", "loopstart", "loopend", "end"}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func (k EventKind) MarshalYAML() (any, error) { return k.String(), nil }

func (k *EventKind) UnmarshalYAML(value *yaml.Node) error {
	i := slices.Index(eventKindNames, strings.ToLower(value.Value))
	if i < 0 {
		return fmt.Errorf("line %d: unknown event kind %q", value.Line, value.Value)
	}
	*k = EventKind(i)
	return nil
}

// IsConductor reports whether the event kind belongs to the conductor rather
// than a track.
func (k EventKind) IsConductor() bool { return k >= TempoChange }

// SendLevel returns the bus send level of the track.
func (t *Track) SendLevel() float64 {
	if t.Send == nil {
		return 1
	}
	return *t.Send
}

// GainLevel returns the linear gain of the bus.
func (b *BusDef) GainLevel() float64 {
	if b.Gain == nil {
		return 1
	}
	return *b.Gain
}

// Get returns the pattern index at an order row, or -1 if out of bounds.
func (o Order) Get(row int) int {
	if row < 0 || row >= len(o) {
		return -1
	}
	return o[row]
}

// PatternLen returns the length of pattern p of a track, resolving defaults.
func (s *Score) PatternLen(t *Track, p int) Span {
	if p >= 0 && p < len(t.Patterns) && t.Patterns[p].Length.Sign() > 0 {
		return t.Patterns[p].Length
	}
	return s.DefaultPatternLength()
}

// DefaultPatternLength returns PatternLength or DefaultPatternLength.
func (s *Score) DefaultPatternLength() Span {
	if s.PatternLength.Sign() > 0 {
		return s.PatternLength
	}
	return DefaultPatternLength
}

// TrackLength returns the total length of the order list of a track.
func (s *Score) TrackLength(t *Track) Span {
	var l Span
	for _, p := range t.Order {
		l = l.Add(s.PatternLen(t, p))
	}
	return l
}

// Length returns the length of the song: the position of the first end
// event of the conductor, or else the length of the longest track. ok is
// false if neither gives the song a positive length.
func (s *Score) Length() (length Span, ok bool) {
	for _, e := range s.Conductor {
		if e.Kind == End {
			if !ok || e.Pos.Less(length) {
				length, ok = e.Pos, true
			}
		}
	}
	if ok {
		return length, length.Sign() > 0
	}
	for i := range s.Tracks {
		if l := s.TrackLength(&s.Tracks[i]); length.Less(l) {
			length = l
		}
	}
	return length, length.Sign() > 0
}

// BPM returns the initial tempo of the song.
func (s *Song) BPM() Span {
	if s.Tempo.Sign() > 0 {
		return s.Tempo
	}
	return DefaultTempo
}

// TuningOrDefault returns the tuning of the song or DefaultTuning.
func (s *Song) TuningOrDefault() *Tuning {
	if s.Tuning != nil {
		return s.Tuning
	}
	return DefaultTuning()
}

// Copy makes a deep copy of a Song. Tunings are immutable and shared.
func (s *Song) Copy() Song {
	ret := *s
	ret.Instruments = make([]Instrument, len(s.Instruments))
	for i := range s.Instruments {
		ret.Instruments[i] = s.Instruments[i].Copy()
	}
	ret.Buses = make([]BusDef, len(s.Buses))
	for i := range s.Buses {
		ret.Buses[i] = s.Buses[i].Copy()
	}
	ret.Master = s.Master.Copy()
	ret.Kit = slices.Clone(s.Kit)
	ret.Score = s.Score.Copy()
	return ret
}

// MapKit returns the instrument and degree the kit plays for the input
// degree.
func (s *Song) MapKit(input int) (instrument, degree int, ok bool) {
	for _, k := range s.Kit {
		if k.Input == input {
			return k.Instrument, k.Degree, true
		}
	}
	return 0, 0, false
}

// Copy makes a deep copy of a Score.
func (s *Score) Copy() Score {
	ret := *s
	ret.Tracks = make([]Track, len(s.Tracks))
	for i := range s.Tracks {
		ret.Tracks[i] = s.Tracks[i].Copy()
	}
	ret.Conductor = slices.Clone(s.Conductor)
	return ret
}

// Copy makes a deep copy of a Track.
func (t *Track) Copy() Track {
	ret := *t
	if t.Send != nil {
		v := *t.Send
		ret.Send = &v
	}
	ret.Order = slices.Clone(t.Order)
	ret.Patterns = make([]Pattern, len(t.Patterns))
	for i, p := range t.Patterns {
		ret.Patterns[i] = Pattern{Length: p.Length, Events: slices.Clone(p.Events)}
	}
	return ret
}

// Copy makes a deep copy of a BusDef.
func (b *BusDef) Copy() BusDef {
	ret := *b
	if b.Gain != nil {
		v := *b.Gain
		ret.Gain = &v
	}
	ret.Effects = make([]EffectDef, len(b.Effects))
	for i, e := range b.Effects {
		ret.Effects[i] = EffectDef{Type: e.Type, Disabled: e.Disabled, Params: make(map[string]float64, len(e.Params))}
		for k, v := range e.Params {
			ret.Effects[i].Params[k] = v
		}
	}
	return ret
}

// Validate checks that the references between the parts of the song are
// consistent. Instruments are validated structurally; loading them for
// rendering checks the rest.
func (s *Song) Validate() error {
	if s.Tempo.Sign() < 0 {
		return fmt.Errorf("%w: negative tempo %v", ErrInvalidSong, s.Tempo)
	}
	for i := range s.Instruments {
		if err := s.Instruments[i].Validate(); err != nil {
			return fmt.Errorf("instrument %d: %w", i, err)
		}
	}
	for i, k := range s.Kit {
		if k.Instrument < 0 || k.Instrument >= len(s.Instruments) {
			return fmt.Errorf("%w: kit entry %d plays instrument %d, but there are %d instruments", ErrInvalidSong, i, k.Instrument, len(s.Instruments))
		}
	}
	for i, t := range s.Score.Tracks {
		if t.Instrument < 0 || t.Instrument >= len(s.Instruments) {
			return fmt.Errorf("%w: track %d plays instrument %d, but there are %d instruments", ErrInvalidSong, i, t.Instrument, len(s.Instruments))
		}
		if t.Bus < 0 || t.Bus > len(s.Buses) {
			return fmt.Errorf("%w: track %d is routed to bus %d, but there are %d buses", ErrInvalidSong, i, t.Bus, len(s.Buses))
		}
		for r, p := range t.Order {
			if p < -1 || p >= len(t.Patterns) {
				return fmt.Errorf("%w: track %d order row %d refers to pattern %d, but there are %d patterns", ErrInvalidSong, i, r, p, len(t.Patterns))
			}
		}
		for p, pat := range t.Patterns {
			length := s.Score.PatternLen(&t, p)
			for _, e := range pat.Events {
				if e.Pos.Sign() < 0 || !e.Pos.Less(length) {
					return fmt.Errorf("%w: track %d pattern %d has an event at %v outside its length %v", ErrInvalidSong, i, p, e.Pos, length)
				}
				if e.Kind.IsConductor() {
					return fmt.Errorf("%w: track %d pattern %d has a %v event, which belongs to the conductor", ErrInvalidSong, i, p, e.Kind)
				}
				if e.Instrument < 0 || e.Instrument > len(s.Instruments) {
					return fmt.Errorf("%w: track %d pattern %d overrides instrument %d, but there are %d instruments", ErrInvalidSong, i, p, e.Instrument, len(s.Instruments))
				}
				if e.Kind == Automation && e.Param == "" {
					return fmt.Errorf("%w: track %d pattern %d has an automation event without a parameter", ErrInvalidSong, i, p)
				}
			}
		}
	}
	for _, e := range s.Score.Conductor {
		if !e.Kind.IsConductor() {
			return fmt.Errorf("%w: conductor has a %v event", ErrInvalidSong, e.Kind)
		}
		if e.Pos.Sign() < 0 {
			return fmt.Errorf("%w: conductor event at negative position %v", ErrInvalidSong, e.Pos)
		}
		if e.Kind == TempoChange && e.Tempo.Sign() <= 0 {
			return fmt.Errorf("%w: tempo change at %v to non-positive tempo %v", ErrInvalidSong, e.Pos, e.Tempo)
		}
	}
	return nil
}

// migrate upgrades a song saved by an older version of the format.
func (s *Song) migrate() {
	for i := range s.Instruments {
		s.Instruments[i].migrate()
	}
	if s.Version < SongVersion {
		s.Version = SongVersion
	}
}
