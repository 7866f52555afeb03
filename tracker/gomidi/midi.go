package gomidi

import (
	"github.com/xentrack/xentrack/tracker"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Context collects MIDI messages from an input, typically the listener
	// of a gomidi driver port, and hands them to the player as a
	// tracker.PlayerProcessContext. Messages are timestamped in milliseconds
	// when they arrive and converted into frames of the audio stream; the
	// clock of the stream is slowly pulled towards the clock of the messages.
	//
	// HandleMessage runs in the goroutine of the input and the rest in the
	// audio thread. Neither blocks; messages that arrive while the queue is
	// full are dropped.
	Context struct {
		sampleRate    int
		events        *tracker.Ring[tracker.MIDIEvent]
		eventsBuf     [maxPending]tracker.MIDIEvent
		numEvents     int
		eventIndex    int
		startFrame    int
		startFrameSet bool
	}
)

const (
	queueSize  = 1024
	maxPending = 1024
)

func NewContext(sampleRate int) *Context {
	return &Context{sampleRate: sampleRate, events: tracker.NewRing[tracker.MIDIEvent](queueSize)}
}

// HandleMessage queues a message received timestampms milliseconds after the
// input was opened. Its signature matches the listener of midi.ListenTo.
func (c *Context) HandleMessage(msg midi.Message, timestampms int32) {
	e, ok := Decode(msg)
	if !ok {
		return
	}
	e.Frame = int(int64(timestampms) * int64(c.sampleRate) / 1000)
	c.events.Push(e) // if the queue is full, just drop the message
}

// Decode converts a channel message to a tracker.MIDIEvent. ok is false for
// messages the player does not use. A note on with zero velocity is a note
// off.
func Decode(msg midi.Message) (e tracker.MIDIEvent, ok bool) {
	var channel, key, velocity, controller, value uint8
	var relative int16
	var absolute uint16
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		e = tracker.MIDIEvent{Kind: tracker.MIDINoteOn, Note: key, Velocity: velocity}
		if velocity == 0 {
			e.Kind = tracker.MIDINoteOff
		}
	case msg.GetNoteOff(&channel, &key, &velocity):
		e = tracker.MIDIEvent{Kind: tracker.MIDINoteOff, Note: key, Velocity: velocity}
	case msg.GetControlChange(&channel, &controller, &value):
		e = tracker.MIDIEvent{Kind: tracker.MIDIControlChange, Controller: controller, Value: int(value)}
	case msg.GetPitchBend(&channel, &relative, &absolute):
		e = tracker.MIDIEvent{Kind: tracker.MIDIPitchBend, Value: int(relative)}
	case msg.GetAfterTouch(&channel, &value):
		e = tracker.MIDIEvent{Kind: tracker.MIDIPressure, Value: int(value)}
	default:
		return tracker.MIDIEvent{}, false
	}
	e.Channel = int(channel)
	return e, true
}

func (c *Context) NextEvent(frame int) (event tracker.MIDIEvent, ok bool) {
	for c.numEvents < len(c.eventsBuf) {
		e, ok := c.events.Pop()
		if !ok {
			break
		}
		c.eventsBuf[c.numEvents] = e
		c.numEvents++
		if !c.startFrameSet {
			c.startFrame = e.Frame
			c.startFrameSet = true
		}
	}
	if c.eventIndex > 0 && c.eventIndex <= c.numEvents { // an event was consumed, check how badly we need to adjust the timing
		delta := frame + c.startFrame - c.eventsBuf[c.eventIndex-1].Frame
		// delta is never negative, because the player does not consume an
		// event before it has rendered up to its frame. A positive delta means
		// the event was consumed late, so adjust the clock towards it.
		c.startFrame -= delta / 5
	}
	if c.eventIndex < c.numEvents {
		e := c.eventsBuf[c.eventIndex]
		c.eventIndex++
		e.Frame -= c.startFrame
		return e, true
	}
	c.eventIndex = c.numEvents + 1
	return tracker.MIDIEvent{}, false
}

// FinishBlock advances the clock by the frames rendered. The last event
// returned by NextEvent is returned again in the next block, unless
// NextEvent has since reported that there are no more events.
func (c *Context) FinishBlock(frame int) {
	c.startFrame += frame
	if c.eventIndex > 0 {
		start := min(c.eventIndex-1, c.numEvents)
		c.numEvents = copy(c.eventsBuf[:], c.eventsBuf[start:c.numEvents])
		if c.numEvents > 0 {
			// events were not consumed this round; pull the clock towards
			// rendering them at the time they were received
			delta := c.startFrame - c.eventsBuf[0].Frame
			c.startFrame -= delta / 5
		}
	}
	c.eventIndex = 0
}
