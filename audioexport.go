package xentrack

import (
	"encoding/binary"
	"math"
)

// wavFormat describes how samples are stored in a .wav file. Float files carry
// the 2-byte fmt extension and a fact chunk, integer files neither.
type wavFormat struct {
	tag            uint16
	bytesPerSample int
	fmtSize        uint32
	fact           bool
}

var (
	wavFloat32 = wavFormat{tag: 3, bytesPerSample: 4, fmtSize: 18, fact: true}
	wavPCM16   = wavFormat{tag: 1, bytesPerSample: 2, fmtSize: 16}
)

const numChannels = 2

// Wav encodes a stereo buffer as a .wav file, either as 32-bit float (pcm16 =
// false) or as 16-bit integer samples.
func Wav(buffer AudioBuffer, sampleRate int, pcm16 bool) ([]byte, error) {
	f := wavFloat32
	if pcm16 {
		f = wavPCM16
	}
	dataSize := len(buffer) * numChannels * f.bytesPerSample
	b := make([]byte, 0, 58+dataSize)
	b = appendWavHeader(b, f, len(buffer), sampleRate)
	return appendSamples(b, buffer, pcm16), nil
}

// Raw encodes a stereo buffer as headerless interleaved little-endian
// samples.
func Raw(buffer AudioBuffer, pcm16 bool) ([]byte, error) {
	n := 4
	if pcm16 {
		n = 2
	}
	return appendSamples(make([]byte, 0, len(buffer)*numChannels*n), buffer, pcm16), nil
}

func appendSamples(b []byte, buffer AudioBuffer, pcm16 bool) []byte {
	le := binary.LittleEndian
	for _, frame := range buffer {
		for _, v := range frame {
			if pcm16 {
				b = le.AppendUint16(b, uint16(toInt16(v)))
			} else {
				b = le.AppendUint32(b, math.Float32bits(v))
			}
		}
	}
	return b
}

// toInt16 rounds to the nearest integer sample; values outside -1..1 clip
// symmetrically.
func toInt16(v float32) int16 {
	x := math.Round(float64(v) * math.MaxInt16)
	return int16(max(-math.MaxInt16, min(math.MaxInt16, x)))
}

// appendWavHeader appends the RIFF header, the fmt chunk, the optional fact
// chunk and the header of the data chunk for frames stereo frames.
// See http://www-mmsp.ece.mcgill.ca/Documents/AudioFormats/WAVE/WAVE.html
func appendWavHeader(b []byte, f wavFormat, frames, sampleRate int) []byte {
	le := binary.LittleEndian
	blockAlign := numChannels * f.bytesPerSample
	dataSize := uint32(frames * blockAlign)
	riffSize := 4 + (8 + f.fmtSize) + 8 + dataSize
	if f.fact {
		riffSize += 12
	}
	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, riffSize)
	b = append(b, "WAVE"...)

	b = append(b, "fmt "...)
	b = le.AppendUint32(b, f.fmtSize)
	b = le.AppendUint16(b, f.tag)
	b = le.AppendUint16(b, numChannels)
	b = le.AppendUint32(b, uint32(sampleRate))
	b = le.AppendUint32(b, uint32(sampleRate*blockAlign)) // bytes per second
	b = le.AppendUint16(b, uint16(blockAlign))
	b = le.AppendUint16(b, uint16(8*f.bytesPerSample))
	if f.fmtSize > 16 {
		b = le.AppendUint16(b, 0) // no extension
	}

	if f.fact {
		b = append(b, "fact"...)
		b = le.AppendUint32(b, 4)
		b = le.AppendUint32(b, uint32(frames))
	}

	b = append(b, "data"...)
	return le.AppendUint32(b, dataSize)
}
