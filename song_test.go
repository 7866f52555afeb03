package xentrack_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/xentrack/xentrack"
)

const legacySong = `title: Legacy
tempo: 140
instruments:
  - name: lead
    volume: 50
    nodes:
      - {id: osc, type: oscillator}
    output: osc
score:
  patternlength: {ticks: 20160}
  tracks:
    - order: [0, -1, 0]
      patterns:
        - events:
            - {pos: {ticks: 2520}, kind: on, degree: 3, vel: 0.5}
            - {pos: [2, 3], kind: off}
            - {pos: 3/2, kind: auto, param: osc.detune, value: 0.25}
  conductor:
    - {pos: 5, kind: tempo, tempo: 280/3}
    - {pos: 10, kind: end}
`

func TestReadSongMigrates(t *testing.T) {
	song, err := xentrack.ReadSong(strings.NewReader(legacySong))
	if err != nil {
		t.Fatalf("ReadSong failed: %v", err)
	}
	if song.Version != xentrack.SongVersion {
		t.Fatalf("song version %d after migration", song.Version)
	}
	instr := song.Instruments[0]
	if instr.Version != xentrack.InstrumentVersion || instr.Gain != 0.5 || instr.Volume != 0 || instr.Polyphony != xentrack.DefaultPolyphony {
		t.Fatalf("instrument was not migrated: %+v", instr)
	}
	if !song.Score.PatternLength.Equal(xentrack.Beats(4)) {
		t.Fatalf("pattern length %v, want 4", song.Score.PatternLength)
	}
	events := song.Score.Tracks[0].Patterns[0].Events
	if !events[0].Pos.Equal(xentrack.NewSpan(1, 2)) || events[0].Degree != 3 || events[0].Velocity != 0.5 {
		t.Fatalf("unexpected note %+v", events[0])
	}
	if !events[1].Pos.Equal(xentrack.NewSpan(2, 3)) || events[1].Kind != xentrack.NoteOff {
		t.Fatalf("unexpected note off %+v", events[1])
	}
	if events[2].Kind != xentrack.Automation || events[2].Param != "osc.detune" {
		t.Fatalf("unexpected automation %+v", events[2])
	}
	if l, ok := song.Score.Length(); !ok || !l.Equal(xentrack.Beats(10)) {
		t.Fatalf("song length %v, want the end event at 10", l)
	}
	if l := song.Score.TrackLength(&song.Score.Tracks[0]); !l.Equal(xentrack.Beats(12)) {
		t.Fatalf("track length %v, want 12", l)
	}
	if !song.Score.Conductor[0].Tempo.Equal(xentrack.NewSpan(280, 3)) {
		t.Fatalf("tempo change %v", song.Score.Conductor[0].Tempo)
	}
}

func TestWriteSongRoundTrip(t *testing.T) {
	song, err := xentrack.ReadSong(strings.NewReader(legacySong))
	if err != nil {
		t.Fatal(err)
	}
	send := 0.5
	song.Score.Tracks[0].Send = &send
	song.Tuning, _ = xentrack.EqualTemperament(31, 2, 440)
	var first bytes.Buffer
	if err := xentrack.WriteSong(&first, song); err != nil {
		t.Fatalf("WriteSong failed: %v", err)
	}
	back, err := xentrack.ReadSong(bytes.NewReader(first.Bytes()))
	if err != nil {
		t.Fatalf("reading the written song failed: %v\n%s", err, first.String())
	}
	var second bytes.Buffer
	if err := xentrack.WriteSong(&second, back); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() {
		t.Fatalf("song changed in a round trip:\n%s\n---\n%s", first.String(), second.String())
	}
	if back.Tuning.Degrees() != 31 || back.Score.Tracks[0].SendLevel() != 0.5 {
		t.Fatalf("tuning or send lost in a round trip")
	}
	if strings.Contains(first.String(), "volume") || strings.Contains(first.String(), "ticks") {
		t.Fatalf("legacy fields were written:\n%s", first.String())
	}
}

func TestSongValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *xentrack.Song)
	}{
		{"event past pattern end", func(s *xentrack.Song) { s.Score.Tracks[0].Patterns[0].Events[0].Pos = xentrack.Beats(4) }},
		{"conductor event in track", func(s *xentrack.Song) { s.Score.Tracks[0].Patterns[0].Events[0].Kind = xentrack.End }},
		{"note in conductor", func(s *xentrack.Song) { s.Score.Conductor[0].Kind = xentrack.NoteOn }},
		{"zero tempo change", func(s *xentrack.Song) { s.Score.Conductor[0].Tempo = xentrack.Span{} }},
		{"missing instrument", func(s *xentrack.Song) { s.Score.Tracks[0].Instrument = 1 }},
		{"missing bus", func(s *xentrack.Song) { s.Score.Tracks[0].Bus = 1 }},
		{"missing pattern", func(s *xentrack.Song) { s.Score.Tracks[0].Order[0] = 2 }},
		{"automation without param", func(s *xentrack.Song) { s.Score.Tracks[0].Patterns[0].Events[2].Param = "" }},
		{"missing kit instrument", func(s *xentrack.Song) { s.Kit = []xentrack.KitEntry{{Input: 36, Instrument: 1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			song, err := xentrack.ReadSong(strings.NewReader(legacySong))
			if err != nil {
				t.Fatal(err)
			}
			tt.modify(song)
			if err := song.Validate(); !errors.Is(err, xentrack.ErrInvalidSong) {
				t.Fatalf("expected ErrInvalidSong, got %v", err)
			}
		})
	}
}

func TestInstrumentValidate(t *testing.T) {
	tests := map[string]string{
		"duplicate id":   "nodes: [{id: a, type: lfo}, {id: a, type: lfo}]\noutput: a\n",
		"missing output": "nodes: [{id: a, type: lfo}]\noutput: b\n",
		"reserved id":    "nodes: [{id: velocity, type: lfo}]\noutput: velocity\n",
		"dotted id":      "nodes: [{id: a.b, type: lfo}]\noutput: a.b\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := xentrack.ReadInstrument(strings.NewReader(src)); !errors.Is(err, xentrack.ErrInvalidInstrumentDefinition) {
				t.Fatalf("expected ErrInvalidInstrumentDefinition, got %v", err)
			}
		})
	}
	if _, err := xentrack.ReadInstrument(strings.NewReader("nodes: [{id: a, type: lfo}]\noutput: a\nunknown: 1\n")); err == nil {
		t.Fatalf("an unknown field was accepted")
	}
}

func TestWav(t *testing.T) {
	buf := xentrack.AudioBuffer{{0, 1}, {-2, 0.5}}
	tests := []struct {
		name       string
		pcm16      bool
		size       int
		format     uint16
		dataOffset int
	}{
		{"float", false, 58 + 2*2*4, 3, 58},
		{"pcm16", true, 44 + 2*2*2, 1, 44},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wav, err := xentrack.Wav(buf, 48000, tt.pcm16)
			if err != nil {
				t.Fatalf("Wav failed: %v", err)
			}
			if len(wav) != tt.size || string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
				t.Fatalf("bad file of %d bytes: % x", len(wav), wav)
			}
			if n := binary.LittleEndian.Uint32(wav[4:]); int(n) != tt.size-8 {
				t.Fatalf("RIFF chunk size %d, want %d", n, tt.size-8)
			}
			if f := binary.LittleEndian.Uint16(wav[20:]); f != tt.format {
				t.Fatalf("format %d, want %d", f, tt.format)
			}
			if sr := binary.LittleEndian.Uint32(wav[24:]); sr != 48000 {
				t.Fatalf("sample rate %d", sr)
			}
			raw, err := xentrack.Raw(buf, tt.pcm16)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(wav[tt.dataOffset:], raw) {
				t.Fatalf("the wav data differs from the raw encoding")
			}
		})
	}
	pcm, _ := xentrack.Raw(buf, true)
	if v := int16(binary.LittleEndian.Uint16(pcm[4:])); v != -32767 {
		t.Fatalf("clipped sample %d, want -32767", v)
	}
}
