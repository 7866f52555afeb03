package xentrack

import "fmt"

type (
	// Sample is decoded PCM data handed to the core by a sample decoder.
	// Frames are interleaved. LoopStart is negative for one-shot samples;
	// LoopEnd of zero means the end of the data. BasePitch is the frequency in
	// Hz at which the sample plays back at its original rate.
	Sample struct {
		Rate      int
		Channels  int
		Frames    []float32
		LoopStart int
		LoopEnd   int
		BasePitch float64
	}

	// SampleSet maps the names used by instrument sample nodes to decoded
	// samples.
	SampleSet map[string]*Sample
)

// Len returns the number of frames in the sample.
func (s *Sample) Len() int {
	if s.Channels <= 0 {
		return 0
	}
	return len(s.Frames) / s.Channels
}

// Looped reports whether the sample has a loop.
func (s *Sample) Looped() bool { return s.LoopStart >= 0 }

// Validate checks that the metadata is consistent with the data.
func (s *Sample) Validate() error {
	if s.Rate <= 0 {
		return fmt.Errorf("sample rate %d must be positive", s.Rate)
	}
	if s.Channels <= 0 {
		return fmt.Errorf("channel count %d must be positive", s.Channels)
	}
	if len(s.Frames)%s.Channels != 0 {
		return fmt.Errorf("%d samples is not a whole number of %d-channel frames", len(s.Frames), s.Channels)
	}
	if !(s.BasePitch > 0) {
		return fmt.Errorf("base pitch %v must be positive", s.BasePitch)
	}
	n := s.Len()
	if s.LoopStart >= n && n > 0 {
		return fmt.Errorf("loop start %d is beyond the %d frames", s.LoopStart, n)
	}
	if s.LoopEnd > n || (s.LoopEnd != 0 && s.LoopStart >= 0 && s.LoopEnd <= s.LoopStart) {
		return fmt.Errorf("loop end %d is outside the loop or the data", s.LoopEnd)
	}
	return nil
}

// LoopBounds returns the looped frame range [start, end).
func (s *Sample) LoopBounds() (start, end int) {
	end = s.LoopEnd
	if end == 0 {
		end = s.Len()
	}
	return s.LoopStart, end
}
