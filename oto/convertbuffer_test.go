package oto_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/xentrack/xentrack/oto"
)

func TestFloatBufferToLE(t *testing.T) {
	in := []float32{0, 1, -0.5, 2}
	out := oto.FloatBufferToLE(in, []byte{0xAA})
	if len(out) != 1+4*len(in) || out[0] != 0xAA {
		t.Fatalf("expected the samples to be appended after the existing byte, got % x", out)
	}
	for i, v := range in {
		got := math.Float32frombits(binary.LittleEndian.Uint32(out[1+4*i:]))
		if got != v {
			t.Errorf("sample %d: got %v, want %v", i, got, v)
		}
	}
}
