package tracker

import (
	"fmt"
	"os"

	"github.com/xentrack/xentrack/vm"
	"gopkg.in/yaml.v3"
)

// Config holds the session settings of the engine. Zero fields of a loaded
// config keep their defaults.
type Config struct {
	SampleRate     int     `yaml:",omitempty"`
	QuantumFrames  int     `yaml:",omitempty"` // frames per render quantum, at most MaxQuantum
	Polyphony      int     `yaml:",omitempty"` // voices in the pool, at most vm.MAX_VOICES
	MaxDenominator int64   `yaml:",omitempty"` // the transport snaps positions with larger denominators
	MIDIReference  int     `yaml:",omitempty"` // MIDI note played as degree 0
	KitChannel     int     `yaml:",omitempty"` // 1-based MIDI channel that plays the kit, 0 for none
	BendRange      float64 `yaml:",omitempty"` // pitch bend range in scale degrees
	Channels       int     `yaml:",omitempty"`
	MaxTail        float64 `yaml:",omitempty"` // seconds rendered after the song end at most
}

// MaxQuantum is the largest render quantum in frames.
const MaxQuantum = 4096

func DefaultConfig() Config {
	return Config{
		SampleRate:     44100,
		QuantumFrames:  256,
		Polyphony:      32,
		MaxDenominator: 1 << 40,
		MIDIReference:  69,
		BendRange:      2,
		Channels:       2,
		MaxTail:        10,
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that every setting is in its range.
func (c *Config) Validate() error {
	switch {
	case c.SampleRate < 1000 || c.SampleRate > 384000:
		return fmt.Errorf("sample rate %d out of range", c.SampleRate)
	case c.QuantumFrames < 1 || c.QuantumFrames > MaxQuantum:
		return fmt.Errorf("quantum of %d frames out of range 1..%d", c.QuantumFrames, MaxQuantum)
	case c.Polyphony < 1 || c.Polyphony > vm.MAX_VOICES:
		return fmt.Errorf("polyphony %d out of range 1..%d", c.Polyphony, vm.MAX_VOICES)
	case c.MaxDenominator < 2:
		return fmt.Errorf("maximum denominator %d must be at least 2", c.MaxDenominator)
	case c.MIDIReference < 0 || c.MIDIReference > 127:
		return fmt.Errorf("MIDI reference note %d out of range", c.MIDIReference)
	case c.KitChannel < 0 || c.KitChannel > 16:
		return fmt.Errorf("kit channel %d out of range 0..16", c.KitChannel)
	case c.BendRange < 0:
		return fmt.Errorf("bend range %v must not be negative", c.BendRange)
	case c.Channels < 1 || c.Channels > 32:
		return fmt.Errorf("channel count %d out of range", c.Channels)
	case c.MaxTail < 0:
		return fmt.Errorf("maximum tail %v must not be negative", c.MaxTail)
	}
	return nil
}
