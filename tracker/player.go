package tracker

import (
	"fmt"
	"time"

	"github.com/xentrack/xentrack"
)

// Player is the audio player for the tracker, run in the audio thread of the
// host. It is controlled by the commands and schedules published through the
// broker and by MIDI events from the context, and reports back to the
// control side through the broker. The host pulls audio with Fill or
// Process; neither blocks and neither allocates unless rendering panics.
type Player struct {
	engine *Engine
	cfg    Config
	now    func() time.Time
}

const (
	underrunName    = "RenderUnderrun"
	underrunMessage = "render quantum took longer than its duration"
)

func NewPlayer(broker *Broker, cfg Config) (*Player, error) {
	e, err := NewEngine(broker, cfg)
	if err != nil {
		return nil, err
	}
	return &Player{engine: e, cfg: cfg, now: time.Now}, nil
}

func (p *Player) Engine() *Engine { return p.engine }

// Fill renders exactly len(out)/channels interleaved frames without MIDI
// input.
func (p *Player) Fill(out []float32, channels int) {
	p.Process(out, channels, NullContext{})
}

// Process renders exactly len(out)/channels interleaved frames into out.
// context tells the player which MIDI events happen during the buffer; they
// are applied at their frames by splitting the rendering there.
func (p *Player) Process(out []float32, channels int, context PlayerProcessContext) {
	if channels < 1 {
		return
	}
	frames := len(out) / channels
	frame := 0
	midi, midiOk := context.NextEvent(frame)
	for frame < frames {
		for midiOk && frame >= midi.Frame {
			p.handleMIDI(midi)
			midi, midiOk = context.NextEvent(frame)
		}
		framesUntilMidi := frames - frame
		if delta := midi.Frame - frame; midiOk && delta < framesUntilMidi {
			framesUntilMidi = delta
		}
		frame += p.render(out[frame*channels:(frame+framesUntilMidi)*channels], channels)
	}
	// the events at the very end of the buffer
	for midiOk && frame >= midi.Frame {
		p.handleMIDI(midi)
		midi, midiOk = context.NextEvent(frame)
	}
	context.FinishBlock(frame)
}

// render renders one quantum. A panic while rendering silences the quantum
// and resets the engine. A quantum that missed its deadline is silenced too,
// but the engine keeps its state. Both are reported as alerts.
func (p *Player) render(out []float32, channels int) (n int) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			n = min(len(out)/channels, p.cfg.QuantumFrames)
			clear(out[:n*channels])
			p.engine.Panic()
			p.engine.Alert(underrunName, fmt.Sprintf("%v: %v", xentrack.ErrRenderUnderrun, r), Error)
		}
	}()
	n = p.engine.RenderQuantum(out, channels)
	budget := time.Duration(n) * time.Second / time.Duration(p.cfg.SampleRate)
	if p.now().Sub(start) > budget {
		clear(out[:n*channels])
		p.engine.Alert(underrunName, underrunMessage, Warning)
	}
	return n
}

// handleMIDI applies a MIDI event. The MIDI channel selects the instrument,
// except that Config.KitChannel plays the kit, and MIDIReference is played as
// scale degree 0.
func (p *Player) handleMIDI(m MIDIEvent) {
	e := p.engine
	instr := m.Channel
	if p.cfg.KitChannel > 0 && m.Channel == p.cfg.KitChannel-1 {
		instr = KitInstrument
	}
	switch m.Kind {
	case MIDINoteOn:
		degree := int(m.Note) - p.cfg.MIDIReference
		if m.Velocity == 0 {
			e.NoteOff(instr, m.Channel, degree)
			return
		}
		e.NoteOn(instr, m.Channel, degree, float32(m.Velocity)/127)
	case MIDINoteOff:
		e.NoteOff(instr, m.Channel, int(m.Note)-p.cfg.MIDIReference)
	case MIDIControlChange:
		switch m.Controller {
		case ccModulation:
			e.Controller(instr, m.Channel, ControlModulation, float64(m.Value)/127)
		case ccAllSoundOff, ccAllNotesOff:
			e.ReleaseLive(m.Channel)
		}
	case MIDIPitchBend:
		e.Controller(instr, m.Channel, ControlBend, float64(m.Value)/pitchBendCenter*p.cfg.BendRange)
	case MIDIPressure:
		e.Controller(instr, m.Channel, ControlPressure, float64(m.Value)/127)
	}
}
