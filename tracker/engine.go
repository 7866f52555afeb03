package tracker

import (
	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/mixer"
	"github.com/xentrack/xentrack/vm"
)

type (
	// Engine renders the song one quantum at a time. It owns the voice pool,
	// the transport and the mixer, and is driven from a single goroutine: the
	// audio thread of a Player, or the loop of Export. Nothing it does on the
	// render path allocates, locks or blocks.
	Engine struct {
		broker   *Broker
		cfg      Config
		pool     *vm.Pool
		seq      *Sequencer
		sched    *Schedule
		mixer    *mixer.Mixer
		dispatch []Dispatch
		live     [MAX_LIVE_NOTES]liveNote
		liveNext int
		liveCtl  [MAX_LIVE_CHANNELS]controllers
		frame    int64
		endFrame int64
		rejected *Schedule
		collect  func(*vm.Program)
	}

	controllers struct {
		pressure   float32
		modulation float32
		bend       float64
	}

	liveNote struct {
		used       bool
		instrument int
		channel    int
		degree     int
		id         vm.VoiceID
	}
)

// MAX_LIVE_NOTES is the number of live notes the engine keeps track of for
// releasing them by degree.
const MAX_LIVE_NOTES = 64

// MAX_LIVE_CHANNELS is the number of live channels whose controller values
// are remembered for the notes started later.
const MAX_LIVE_CHANNELS = 16

const dispatchCapacity = 1024

const (
	rejectedName    = "ScheduleRejected"
	rejectedMessage = "schedule was compiled for another sample rate or quantum size"
)

// NewEngine creates an engine that takes its commands and schedules from
// broker. cfg must be the config the schedules are compiled with.
func NewEngine(broker *Broker, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := mixer.New(&xentrack.Song{}, cfg.SampleRate, cfg.QuantumFrames)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		broker:   broker,
		cfg:      cfg,
		pool:     vm.NewPool(cfg.SampleRate, cfg.Polyphony),
		seq:      NewSequencer(cfg.MaxDenominator),
		mixer:    m,
		dispatch: make([]Dispatch, 0, dispatchCapacity),
		endFrame: -1,
	}
	e.collect = e.sendRetired
	return e, nil
}

func (e *Engine) Config() Config            { return e.cfg }
func (e *Engine) Sequencer() *Sequencer     { return e.seq }
func (e *Engine) Pool() *vm.Pool            { return e.pool }
func (e *Engine) Schedule() *Schedule       { return e.sched }
func (e *Engine) Mixer() *mixer.Mixer       { return e.mixer }
func (e *Engine) Frame() int64              { return e.frame }
func (e *Engine) Status() Status            { return e.status() }

// EndFrame returns the frame at which the transport last reached the song
// end, counted from the creation of the engine.
func (e *Engine) EndFrame() (frame int64, ok bool) { return e.endFrame, e.endFrame >= 0 }

func (e *Engine) sendRetired(p *vm.Program) { e.send(MsgToModel{Retired: p}) }

// RenderQuantum renders one quantum into out, interleaved with the given
// number of channels. The quantum is len(out)/channels frames long, but at
// most Config.QuantumFrames; RenderQuantum returns the number of frames it
// rendered. Commands and a newly published schedule take effect at the start
// of the quantum.
func (e *Engine) RenderQuantum(out []float32, channels int) int {
	if channels < 1 {
		return 0
	}
	frames := min(len(out)/channels, e.cfg.QuantumFrames)
	if frames <= 0 {
		return 0
	}
	e.update()
	e.pool.BeginQuantum()
	e.mixer.Begin(frames)
	e.dispatch = e.dispatch[:0]
	if e.sched != nil {
		e.dispatch = e.seq.Advance(e.sched, frames, e.cfg.SampleRate, e.dispatch)
	}
	frame := 0
	for i := range e.dispatch {
		d := &e.dispatch[i]
		if d.Frame > frame {
			e.pool.Render(e.mixer, frame, d.Frame-frame)
			frame = d.Frame
		}
		if d.Event.Kind == xentrack.End {
			e.endFrame = e.frame + int64(d.Frame)
		}
		e.apply(&d.Event)
	}
	if frame < frames {
		e.pool.Render(e.mixer, frame, frames-frame)
	}
	for i := 1; i < min(e.mixer.Len(), MAX_METERED_BUSES); i++ {
		e.mixer.SetTrim(i, float32(e.broker.BusTrim[i].Load()))
	}
	left, right := e.mixer.Mix()
	gain := float32(e.broker.MasterGain.Load())
	for i := 0; i < frames; i++ {
		o := out[i*channels : (i+1)*channels]
		l, r := left[i]*gain, right[i]*gain
		switch channels {
		case 1:
			o[0] = (l + r) * 0.5
		default:
			o[0], o[1] = l, r
			clear(o[2:])
		}
	}
	e.pool.Collect(e.collect)
	e.frame += int64(frames)
	msg := MsgToModel{HasStatus: true, Status: e.status()}
	msg.NumLevels = len(e.mixer.Levels(msg.Levels[:0]))
	e.send(msg)
	return frames
}

// update swaps in a newly published schedule and applies the pending
// commands.
func (e *Engine) update() {
	if s := e.broker.Schedule(); s != nil && s != e.sched && s != e.rejected {
		e.swap(s)
	}
	for {
		c, ok := e.broker.ToPlayer.Pop()
		if !ok {
			return
		}
		e.command(&c)
	}
}

// swap replaces the schedule between quanta. The programs of the old
// schedule are retired; voices keep playing them until they finish. The
// mixer keeps its effect state if the buses did not change structurally.
// Held pattern notes and controller values stay with their track channels.
// A schedule compiled for another sample rate or a shorter quantum is
// rejected with an alert and the old one keeps playing.
func (e *Engine) swap(s *Schedule) {
	if s.sampleRate != e.cfg.SampleRate || s.mixer.MaxFrames() < e.cfg.QuantumFrames {
		e.rejected = s
		e.Alert(rejectedName, rejectedMessage, Error)
		return
	}
	old := e.sched
	if old != nil {
		for _, p := range old.Programs {
			if p.Refs() == 0 {
				e.sendRetired(p)
			} else {
				// Retire cannot fail: every program with references has a
				// voice, and there are no more programs than voices.
				e.pool.Retire(p)
			}
		}
		for i := range s.channels {
			for j := range old.channels {
				if old.channels[j].key == s.channels[i].key {
					key := s.channels[i].key
					s.channels[i] = old.channels[j]
					s.channels[i].key = key
					break
				}
			}
		}
	}
	if e.mixer.Compatible(s.Song) {
		e.mixer.Update(s.Song)
	} else {
		e.mixer = s.mixer
	}
	e.sched = s
	e.seq.Bind(s)
}

func (e *Engine) command(c *Command) {
	switch c.Kind {
	case CmdPlay:
		if e.sched == nil {
			return
		}
		e.releasePattern()
		e.seq.Play(e.sched, c.Pos)
		e.send(MsgToModel{Reset: true})
	case CmdStop:
		e.seq.Stop()
		e.releasePattern()
		e.mixer.Reset()
	case CmdSeek:
		if e.sched == nil {
			return
		}
		e.releasePattern()
		e.seq.Seek(e.sched, c.Pos)
	case CmdSetLoop:
		e.seq.SetLoop(c.Pos, c.End)
	case CmdSetLooping:
		e.seq.SetLooping(c.Flag)
	case CmdNoteOn:
		e.NoteOn(c.Instrument, c.Channel, c.Degree, c.Velocity)
	case CmdNoteOff:
		e.NoteOff(c.Instrument, c.Channel, c.Degree)
	case CmdPanic:
		e.Panic()
	}
}

// Panic stops the transport and silences everything immediately.
func (e *Engine) Panic() {
	e.seq.Stop()
	e.pool.Reset()
	e.mixer.Reset()
	e.live = [MAX_LIVE_NOTES]liveNote{}
	e.liveCtl = [MAX_LIVE_CHANNELS]controllers{}
	if e.sched != nil {
		for i := range e.sched.channels {
			e.sched.channels[i].voice = 0
		}
	}
}

func (e *Engine) apply(ev *ScheduledEvent) {
	s := e.sched
	switch ev.Kind {
	case xentrack.NoteOn:
		ch, t := &s.channels[ev.Slot], &s.tracks[ev.Track]
		if ch.voice != 0 {
			e.pool.NoteOff(ch.voice)
			ch.voice = 0
		}
		if t.mute || ev.Instrument < 0 || ev.Instrument >= len(s.Programs) {
			return
		}
		prog := s.Programs[ev.Instrument]
		ch.voice = e.pool.NoteOn(vm.Note{
			Program:    prog,
			Key:        ch.key,
			Tuning:     s.Tuning,
			Degree:     ev.Degree,
			Velocity:   ev.Velocity,
			Bend:       ch.bend,
			Pressure:   ch.pressure,
			Modulation: ch.modulation,
			Bus:        t.bus,
			Send:       t.send,
		})
		for _, a := range t.autos[:t.n] {
			if a.prog == prog {
				e.pool.Automate(ev.Track, prog, a.ref, a.value)
			}
		}
		e.send(MsgToModel{TriggerChannel: ev.Track + 1})
	case xentrack.NoteOff:
		ch := &s.channels[ev.Slot]
		e.pool.NoteOff(ch.voice)
		ch.voice = 0
	case xentrack.Automation:
		ch := &s.channels[ev.Slot]
		switch ev.Control {
		case ControlPressure:
			ch.pressure = ev.Value
			e.pool.SetPressure(ch.key, ev.Value)
		case ControlModulation:
			ch.modulation = ev.Value
			e.pool.SetModulation(ch.key, ev.Value)
		case ControlBend:
			ch.bend = float64(ev.Value)
			e.pool.SetBend(ch.key, ch.bend)
		default:
			prog := s.Programs[ev.Instrument]
			s.tracks[ev.Track].remember(prog, ev.Param, ev.Value)
			e.pool.Automate(ev.Track, prog, ev.Param, ev.Value)
		}
	case xentrack.End:
		// live notes keep playing past the song end
		for i := range s.channels {
			e.pool.Release(s.channels[i].key)
			s.channels[i].voice = 0
		}
	}
}

func (t *trackState) remember(prog *vm.Program, ref vm.ParamRef, value float32) {
	for i := range t.autos[:t.n] {
		if a := &t.autos[i]; a.prog == prog && a.ref == ref {
			a.value = value
			return
		}
	}
	if t.n < len(t.autos) {
		t.autos[t.n] = automation{prog: prog, ref: ref, value: value}
		t.n++
	}
}

func (e *Engine) releasePattern() {
	if e.sched == nil {
		return
	}
	for i := range e.sched.channels {
		if ch := &e.sched.channels[i]; ch.voice != 0 {
			e.pool.NoteOff(ch.voice)
			ch.voice = 0
		}
	}
}

// NoteOn plays a live note. Live notes of an instrument are routed like the
// first track playing it, or to the master bus if none does. Notes of
// KitInstrument play the kit entry of their degree and are routed like the
// first kit track.
func (e *Engine) NoteOn(instrument, channel, degree int, velocity float32) {
	s := e.sched
	if s == nil {
		return
	}
	prog, played := instrument, degree
	if instrument == KitInstrument {
		var ok bool
		if prog, played, ok = s.Song.MapKit(degree); !ok {
			return
		}
	}
	if prog < 0 || prog >= len(s.Programs) {
		return
	}
	e.NoteOff(instrument, channel, degree)
	n := vm.Note{
		Program:  s.Programs[prog],
		Key:      vm.Key{Source: vm.SourceMIDI, Track: instrument, Channel: channel},
		Tuning:   s.Tuning,
		Degree:   played,
		Velocity: velocity,
		Send:     1,
	}
	if channel >= 0 && channel < MAX_LIVE_CHANNELS {
		c := &e.liveCtl[channel]
		n.Pressure, n.Modulation, n.Bend = c.pressure, c.modulation, c.bend
	}
	for i, t := range s.Song.Score.Tracks {
		if (instrument == KitInstrument && t.Kit) || (instrument != KitInstrument && !t.Kit && t.Instrument == instrument) {
			n.Bus, n.Send = s.tracks[i].bus, s.tracks[i].send
			break
		}
	}
	slot := -1
	for i := range e.live {
		if !e.live[i].used {
			slot = i
			break
		}
	}
	if slot < 0 {
		slot = e.liveNext
		e.liveNext = (e.liveNext + 1) % MAX_LIVE_NOTES
		e.pool.NoteOff(e.live[slot].id)
	}
	e.live[slot] = liveNote{used: true, instrument: instrument, channel: channel, degree: degree, id: e.pool.NoteOn(n)}
}

// NoteOff releases a live note.
func (e *Engine) NoteOff(instrument, channel, degree int) {
	for i := range e.live {
		l := &e.live[i]
		if l.used && l.instrument == instrument && l.channel == channel && l.degree == degree {
			e.pool.NoteOff(l.id)
			*l = liveNote{}
		}
	}
}

// ReleaseLive releases every live note of a channel.
func (e *Engine) ReleaseLive(channel int) {
	for i := range e.live {
		if l := &e.live[i]; l.used && l.channel == channel {
			e.pool.NoteOff(l.id)
			*l = liveNote{}
		}
	}
}

// Controller sets a controller of the live notes of an instrument and a
// channel. Bend is in scale degrees.
func (e *Engine) Controller(instrument, channel int, c Control, value float64) {
	key := vm.Key{Source: vm.SourceMIDI, Track: instrument, Channel: channel}
	var ctl controllers // discarded for channels out of range
	if channel >= 0 && channel < MAX_LIVE_CHANNELS {
		ctl = e.liveCtl[channel]
	}
	switch c {
	case ControlPressure:
		ctl.pressure = float32(value)
		e.pool.SetPressure(key, ctl.pressure)
	case ControlModulation:
		ctl.modulation = float32(value)
		e.pool.SetModulation(key, ctl.modulation)
	case ControlBend:
		ctl.bend = value
		e.pool.SetBend(key, value)
	}
	if channel >= 0 && channel < MAX_LIVE_CHANNELS {
		e.liveCtl[channel] = ctl
	}
}

// Alert sends an alert to the control side without blocking.
func (e *Engine) Alert(name, message string, priority AlertPriority) {
	e.send(MsgToModel{HasAlert: true, Alert: Alert{Name: name, Priority: priority, Message: message}})
}

func (e *Engine) status() Status {
	return Status{
		Playing:  e.seq.Playing(),
		Looping:  e.seq.Looping(),
		Position: e.seq.Position(),
		Tempo:    e.seq.Tempo(),
		Voices:   e.pool.Active(),
		Snaps:    e.seq.Snaps(),
		Frame:    e.frame,
	}
}

// all sends from the engine are non-blocking; a full ring drops the message
func (e *Engine) send(msg MsgToModel) {
	e.broker.ToModel.Push(msg)
}
