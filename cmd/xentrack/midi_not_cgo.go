//go:build !cgo

package main

import (
	"errors"

	"github.com/xentrack/xentrack/tracker"
)

func openMIDI(prefix string, sampleRate int) (tracker.PlayerProcessContext, func(), error) {
	if prefix == "" {
		return tracker.NullContext{}, func() {}, nil
	}
	// with no cgo, there is no MIDI driver
	return tracker.NullContext{}, func() {}, errors.New("xentrack was built without cgo")
}
