package xentrack

type (
	// AudioBuffer is a buffer of stereo frames.
	AudioBuffer [][2]float32

	// AudioSource fills interleaved buffers with the given number of channels
	// on demand. It is the pull contract between the core and an audio host:
	// Fill always fills the whole buffer, with silence on failure.
	AudioSource interface {
		Fill(out []float32, channels int)
	}
)

// Interleave returns the frames of b as interleaved left and right samples,
// appended to dst.
func (b AudioBuffer) Interleave(dst []float32) []float32 {
	for _, f := range b {
		dst = append(dst, f[0], f[1])
	}
	return dst
}

// Peak returns the largest absolute sample value in the buffer.
func (b AudioBuffer) Peak() float32 {
	var p float32
	for _, f := range b {
		for _, v := range f {
			if v < 0 {
				v = -v
			}
			if v > p {
				p = v
			}
		}
	}
	return p
}
