package tracker

type (
	// MIDIEvent is a MIDI message for the player. Frame is relative to the
	// start of the buffer being processed.
	MIDIEvent struct {
		Frame      int
		Kind       MIDIEventKind
		Channel    int
		Note       byte
		Velocity   byte
		Controller byte
		// Value of a control change or channel pressure is 0..127 and of a
		// pitch bend -8192..8191.
		Value int
	}

	MIDIEventKind int

	// PlayerProcessContext is the context given to the player when processing
	// audio. It is used to get the MIDI events that happen during the buffer.
	PlayerProcessContext interface {
		// NextEvent returns the next event not yet returned. frame is the
		// frame the player has rendered up to.
		NextEvent(frame int) (event MIDIEvent, ok bool)
		FinishBlock(frame int)
	}

	// NullContext is a PlayerProcessContext without any MIDI events.
	NullContext struct{}
)

const (
	MIDINoteOn MIDIEventKind = iota
	MIDINoteOff
	MIDIControlChange
	MIDIPitchBend
	MIDIPressure
)

const (
	ccModulation    = 1
	ccAllSoundOff   = 120
	ccAllNotesOff   = 123
	pitchBendCenter = 8192
)

func (NullContext) NextEvent(frame int) (MIDIEvent, bool) { return MIDIEvent{}, false }
func (NullContext) FinishBlock(frame int)                 {}
