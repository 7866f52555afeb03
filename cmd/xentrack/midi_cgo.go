//go:build cgo

package main

import (
	"log"

	"github.com/xentrack/xentrack/tracker"
	"github.com/xentrack/xentrack/tracker/gomidi"
)

// openMIDI connects the MIDI input matching prefix. Without a prefix, or
// when opening fails, the returned context has no events.
func openMIDI(prefix string, sampleRate int) (tracker.PlayerProcessContext, func(), error) {
	if prefix == "" {
		return tracker.NullContext{}, func() {}, nil
	}
	context := gomidi.NewContext(sampleRate)
	input, err := gomidi.OpenInput(context, prefix)
	if err != nil {
		if names, err := gomidi.InputNames(); err == nil {
			log.Printf("available MIDI inputs: %q", names)
		}
		return tracker.NullContext{}, func() {}, err
	}
	log.Printf("listening to MIDI input %v", input)
	return context, func() { input.Close() }, nil
}
