package xentrack

import "errors"

// Errors of the audio core. They are wrapped with context using fmt.Errorf and
// "%w", so callers should test them with errors.Is.
var (
	// ErrInvalidTuningData is returned when a tuning cannot be built from the
	// given steps, period or imported scale file.
	ErrInvalidTuningData = errors.New("invalid tuning data")

	// ErrInvalidInstrumentDefinition is returned when an instrument refers to
	// an unknown node type, waveform, parameter or a node that does not exist.
	ErrInvalidInstrumentDefinition = errors.New("invalid instrument definition")

	// ErrCyclicModulationGraph is returned when the audio inputs and modulation
	// links of an instrument do not form a directed acyclic graph.
	ErrCyclicModulationGraph = errors.New("cyclic modulation graph")

	// ErrVoiceAllocationExhausted names the case where every voice of the pool
	// is in use. It is resolved by voice stealing and never returned.
	ErrVoiceAllocationExhausted = errors.New("voice allocation exhausted")

	// ErrRenderUnderrun is reported when a quantum could not be rendered in
	// time or rendering failed. The quantum is replaced with silence.
	ErrRenderUnderrun = errors.New("render underrun")

	// ErrNoSongEnd is returned by offline export when the song has neither an
	// end event nor any pattern data that would give it a length.
	ErrNoSongEnd = errors.New("song has no end")

	// ErrInvalidSong is returned by Song.Validate.
	ErrInvalidSong = errors.New("invalid song")
)
