package oto

import (
	"encoding/binary"
	"math"
)

// FloatBufferToLE converts a []float32 buffer to little-endian 32-bit float
// bytes, appended to dst. dst is typically a reused buffer with length 0.
func FloatBufferToLE(buff []float32, dst []byte) []byte {
	for _, v := range buff {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}
