package xentrack

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ReadSong decodes a song from yaml, migrating records written by older
// versions of the format, and validates it. Unknown fields are rejected.
func ReadSong(r io.Reader) (*Song, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var song Song
	if err := dec.Decode(&song); err != nil {
		return nil, fmt.Errorf("could not decode song: %w", err)
	}
	song.migrate()
	if err := song.Validate(); err != nil {
		return nil, err
	}
	return &song, nil
}

// WriteSong encodes a song as yaml in the current version of the format.
func WriteSong(w io.Writer, song *Song) error {
	s := song.Copy()
	s.migrate()
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&s); err != nil {
		return fmt.Errorf("could not encode song: %w", err)
	}
	return enc.Close()
}

// ReadInstrument decodes a single instrument record.
func ReadInstrument(r io.Reader) (*Instrument, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var instr Instrument
	if err := dec.Decode(&instr); err != nil {
		return nil, fmt.Errorf("could not decode instrument: %w", err)
	}
	instr.migrate()
	if err := instr.Validate(); err != nil {
		return nil, err
	}
	return &instr, nil
}
