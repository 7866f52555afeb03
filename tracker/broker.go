package tracker

import (
	"time"

	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/mixer"
	"github.com/xentrack/xentrack/vm"
)

type (
	// Broker is the centralized message broker between the control side (the
	// model, a CLI) and the audio thread. Discrete commands travel to the
	// player on ToPlayer and everything the player reports comes back on
	// ToModel; both are rings, so neither side ever blocks the other. The song
	// itself is not sent as a message: the control side compiles it and
	// publishes the Schedule, which the player picks up at the start of its
	// next quantum. MasterGain and the trims of the buses are continuous
	// parameters that the player reads every quantum.
	//
	// Each ring has exactly one producer and one consumer. If several
	// goroutines on the control side send commands, they must serialize
	// their sends.
	Broker struct {
		ToPlayer *Ring[Command]
		ToModel  *Ring[MsgToModel]

		schedule   Latest[Schedule]
		MasterGain LatestFloat
		BusTrim    [MAX_METERED_BUSES]LatestFloat // by bus number; 0, the master bus, is not used
	}

	// Command is a message to the player. Commands are applied at the start of
	// the quantum following their arrival, never in the middle of one.
	Command struct {
		Kind       CommandKind
		Pos        xentrack.Span // Play, Seek and the loop start of SetLoop
		End        xentrack.Span // the loop end of SetLoop
		Flag       bool          // SetLooping
		Instrument int           // live notes
		Channel    int
		Degree     int
		Velocity   float32
	}

	CommandKind int

	// MsgToModel is a message from the player. The frequently sent data
	// (status and meter levels) is stored in fixed size fields, so that the
	// player never allocates to send it.
	MsgToModel struct {
		HasStatus bool
		Status    Status
		Levels    [MAX_METERED_BUSES]mixer.Level
		NumLevels int

		HasAlert bool
		Alert    Alert

		TriggerChannel int // note: 0 = no trigger, 1 = first track, etc.
		Reset          bool
		// Retired is a program that no voice plays anymore after the schedule
		// that loaded it was replaced.
		Retired *vm.Program
	}

	// Status is a snapshot of the transport.
	Status struct {
		Playing  bool
		Looping  bool
		Position xentrack.Span
		Tempo    xentrack.Span
		Voices   int
		Snaps    int
		Frame    int64 // frames rendered since the player was created
	}
)

const (
	CmdPlay CommandKind = iota
	CmdStop
	CmdSeek
	CmdSetLoop
	CmdSetLooping
	CmdNoteOn
	CmdNoteOff
	CmdPanic
)

// MAX_METERED_BUSES is the number of buses, the master included, whose
// levels are reported.
const MAX_METERED_BUSES = 16

const (
	toPlayerCapacity = 1024
	toModelCapacity  = 1024
)

func NewBroker() *Broker {
	b := &Broker{
		ToPlayer: NewRing[Command](toPlayerCapacity),
		ToModel:  NewRing[MsgToModel](toModelCapacity),
	}
	b.MasterGain.Store(1)
	for i := range b.BusTrim {
		b.BusTrim[i].Store(1)
	}
	return b
}

// Publish makes sched the schedule the player plays from its next quantum
// on.
func (b *Broker) Publish(sched *Schedule) { b.schedule.Store(sched) }

// Schedule returns the most recently published schedule.
func (b *Broker) Schedule() *Schedule { return b.schedule.Load() }

// TrySend is a helper function to send a command to the player without
// blocking. It returns false if the ring was full and the command dropped.
func (b *Broker) TrySend(c Command) bool { return b.ToPlayer.Push(c) }

// TimeoutReceive waits for a message from the player, polling the ring every
// millisecond, and gives up after t. It is meant for the control side only.
func (b *Broker) TimeoutReceive(t time.Duration) (MsgToModel, bool) {
	deadline := time.Now().Add(t)
	for {
		if m, ok := b.ToModel.Pop(); ok {
			return m, true
		}
		if !time.Now().Before(deadline) {
			return MsgToModel{}, false
		}
		time.Sleep(time.Millisecond)
	}
}

func PlayCmd(from xentrack.Span) Command { return Command{Kind: CmdPlay, Pos: from} }
func StopCmd() Command                   { return Command{Kind: CmdStop} }
func SeekCmd(pos xentrack.Span) Command  { return Command{Kind: CmdSeek, Pos: pos} }
func SetLoopingCmd(looping bool) Command { return Command{Kind: CmdSetLooping, Flag: looping} }
func PanicCmd() Command                  { return Command{Kind: CmdPanic} }

func SetLoopCmd(start, end xentrack.Span) Command {
	return Command{Kind: CmdSetLoop, Pos: start, End: end}
}

// NoteOnCmd plays a live note on an instrument. Channel groups live notes
// the way MIDI channels do.
func NoteOnCmd(instrument, channel, degree int, velocity float32) Command {
	return Command{Kind: CmdNoteOn, Instrument: instrument, Channel: channel, Degree: degree, Velocity: velocity}
}

func NoteOffCmd(instrument, channel, degree int) Command {
	return Command{Kind: CmdNoteOff, Instrument: instrument, Channel: channel, Degree: degree}
}
