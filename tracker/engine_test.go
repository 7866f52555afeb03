package tracker_test

import (
	"math"
	"testing"
	"time"

	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/tracker"
	"github.com/xentrack/xentrack/vm"
)

func newPlayer(t *testing.T) (*tracker.Player, *tracker.Broker) {
	t.Helper()
	broker := tracker.NewBroker()
	player, err := tracker.NewPlayer(broker, tracker.DefaultConfig())
	if err != nil {
		t.Fatalf("NewPlayer failed: %v", err)
	}
	return player, broker
}

// drain returns the messages sent by the player since the last drain.
func drain(b *tracker.Broker) []tracker.MsgToModel {
	var ret []tracker.MsgToModel
	for {
		m, ok := b.ToModel.Pop()
		if !ok {
			return ret
		}
		ret = append(ret, m)
	}
}

func peak(buf []float32) float32 {
	var p float32
	for _, v := range buf {
		p = max(p, v, -v)
	}
	return p
}

func TestPlayerPlaysSong(t *testing.T) {
	player, broker := newPlayer(t)
	broker.Publish(compile(t, testSong(track(on(xentrack.Span{}, 0, 0), off(xentrack.Beats(1), 0)))))
	buf := make([]float32, 2*1000)
	player.Fill(buf, 2)
	if p := peak(buf); p != 0 {
		t.Fatalf("the player should be silent before playing, peak %v", p)
	}
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	player.Fill(buf, 2)
	if p := peak(buf); p == 0 {
		t.Fatalf("the player is silent while playing")
	}
	var status tracker.Status
	triggered := false
	for _, m := range drain(broker) {
		if m.HasStatus {
			status = m.Status
		}
		if m.TriggerChannel == 1 {
			triggered = true
		}
	}
	if !status.Playing || status.Voices != 1 || !triggered {
		t.Fatalf("unexpected status %+v, triggered %v", status, triggered)
	}
	if want := xentrack.NewSpan(1000, 22050); !status.Position.Equal(want) {
		t.Fatalf("position %v, want %v", status.Position, want)
	}
	if status.Frame != 2000 {
		t.Fatalf("expected 2000 frames rendered, got %d", status.Frame)
	}
}

func TestPlayerMonoOutput(t *testing.T) {
	player, broker := newPlayer(t)
	broker.Publish(compile(t, testSong(track(on(xentrack.Span{}, 0, 0)))))
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	stereo := make([]float32, 2*512)
	player.Fill(stereo[:2], 2) // applies the commands at frame 0
	player2, broker2 := newPlayer(t)
	broker2.Publish(compile(t, testSong(track(on(xentrack.Span{}, 0, 0)))))
	broker2.TrySend(tracker.PlayCmd(xentrack.Span{}))
	mono := make([]float32, 512)
	player2.Fill(mono[:1], 1)
	player.Fill(stereo[2:], 2)
	player2.Fill(mono[1:], 1)
	for i := range mono {
		if want := (stereo[2*i] + stereo[2*i+1]) * 0.5; math.Abs(float64(mono[i]-want)) > 1e-6 {
			t.Fatalf("frame %d: mono %v, want %v", i, mono[i], want)
		}
	}
}

func TestMutedTrackIsSilent(t *testing.T) {
	player, broker := newPlayer(t)
	song := testSong(track(on(xentrack.Span{}, 0, 0)))
	song.Score.Tracks[0].Mute = true
	broker.Publish(compile(t, song))
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	buf := make([]float32, 2*512)
	player.Fill(buf, 2)
	if p := peak(buf); p != 0 || player.Engine().Pool().Active() != 0 {
		t.Fatalf("a muted track played, peak %v", p)
	}
}

func TestLiveNotes(t *testing.T) {
	player, broker := newPlayer(t)
	broker.Publish(compile(t, testSong()))
	broker.TrySend(tracker.NoteOnCmd(0, 0, 3, 1))
	buf := make([]float32, 2*256)
	player.Fill(buf, 2)
	pool := player.Engine().Pool()
	voices := pool.Voices(nil)
	if len(voices) != 1 || voices[0].Degree != 3 || voices[0].Key.Source != vm.SourceMIDI {
		t.Fatalf("unexpected voices %+v", voices)
	}
	broker.TrySend(tracker.NoteOffCmd(0, 0, 3))
	for i := 0; i < 20; i++ {
		player.Fill(buf, 2)
	}
	if pool.Active() != 0 {
		t.Fatalf("the live note did not finish after its release")
	}
}

type midiEvents []tracker.MIDIEvent

func (m *midiEvents) NextEvent(frame int) (tracker.MIDIEvent, bool) {
	if len(*m) == 0 {
		return tracker.MIDIEvent{}, false
	}
	e := (*m)[0]
	*m = (*m)[1:]
	return e, true
}

func (m *midiEvents) FinishBlock(frame int) {}

func TestPlayerAppliesMIDIAtFrame(t *testing.T) {
	player, broker := newPlayer(t)
	broker.Publish(compile(t, testSong()))
	events := midiEvents{{Frame: 100, Kind: tracker.MIDINoteOn, Note: 69, Velocity: 127}}
	buf := make([]float32, 2*300)
	player.Process(buf, 2, &events)
	if p := peak(buf[:200]); p != 0 {
		t.Fatalf("sound before the note on, peak %v", p)
	}
	if p := peak(buf[200:]); p == 0 {
		t.Fatalf("no sound after the note on")
	}
	voices := player.Engine().Pool().Voices(nil)
	if len(voices) != 1 || voices[0].Degree != 0 {
		t.Fatalf("MIDI reference note should play degree 0, got %+v", voices)
	}
	events = midiEvents{{Frame: 0, Kind: tracker.MIDIControlChange, Controller: 123}}
	player.Process(buf, 2, &events)
	if v := player.Engine().Pool().Voices(nil); len(v) == 1 && v[0].State != vm.Release {
		t.Fatalf("all notes off did not release the note: %+v", v)
	}
}

func TestHotSwapRetiresPrograms(t *testing.T) {
	player, broker := newPlayer(t)
	song := testSong(track(on(xentrack.Span{}, 0, 0), off(xentrack.NewSpan(1, 8), 0)))
	first := compile(t, song)
	broker.Publish(first)
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	buf := make([]float32, 2*256)
	player.Fill(buf, 2)
	second := compile(t, song)
	broker.Publish(second)
	var retired []*vm.Program
	for i := 0; i < 100; i++ {
		player.Fill(buf, 2)
		for _, m := range drain(broker) {
			if m.Retired != nil {
				retired = append(retired, m.Retired)
			}
		}
	}
	if len(retired) != 1 || retired[0] != first.Programs[0] {
		t.Fatalf("expected the old program to be retired once, got %v", retired)
	}
	if first.Programs[0].Refs() != 0 {
		t.Fatalf("a retired program still has %d references", first.Programs[0].Refs())
	}
	if player.Engine().Schedule() != second {
		t.Fatalf("the new schedule was not taken into use")
	}
}

func TestStopReleasesNotes(t *testing.T) {
	player, broker := newPlayer(t)
	broker.Publish(compile(t, testSong(track(on(xentrack.Span{}, 0, 0)))))
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	buf := make([]float32, 2*256)
	player.Fill(buf, 2)
	broker.TrySend(tracker.StopCmd())
	player.Fill(buf, 2)
	for _, v := range player.Engine().Pool().Voices(nil) {
		if v.State != vm.Release {
			t.Fatalf("voice %+v still held after stop", v)
		}
	}
	broker.TrySend(tracker.PanicCmd())
	player.Fill(buf, 2)
	if player.Engine().Pool().Active() != 0 {
		t.Fatalf("panic did not silence every voice")
	}
}

func TestBusTrim(t *testing.T) {
	player, broker := newPlayer(t)
	song := testSong(track(on(xentrack.Span{}, 0, 0)))
	song.Buses = []xentrack.BusDef{{Name: "lead"}}
	song.Score.Tracks[0].Bus = 1
	broker.Publish(compile(t, song))
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	broker.BusTrim[1].Store(0)
	buf := make([]float32, 2*512)
	player.Fill(buf, 2)
	if p := peak(buf); p != 0 {
		t.Fatalf("a bus trimmed to zero is heard, peak %v", p)
	}
	broker.BusTrim[1].Store(1)
	player.Fill(buf, 2)
	if p := peak(buf); p == 0 {
		t.Fatalf("the bus is silent after restoring its trim")
	}
}

func TestSongEndKeepsLiveNotes(t *testing.T) {
	player, broker := newPlayer(t)
	song := testSong(track(on(xentrack.Span{}, 0, 0)))
	song.Score.Conductor = []xentrack.Event{{Pos: xentrack.NewSpan(1, 100), Kind: xentrack.End}}
	broker.Publish(compile(t, song))
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	broker.TrySend(tracker.NoteOnCmd(0, 0, 7, 1))
	buf := make([]float32, 2*512)
	player.Fill(buf, 2)
	if player.Engine().Sequencer().Playing() {
		t.Fatalf("the transport did not stop at the song end")
	}
	live := 0
	for _, v := range player.Engine().Pool().Voices(nil) {
		switch v.Key.Source {
		case vm.SourcePattern:
			if v.State != vm.Release {
				t.Fatalf("pattern voice %+v still held after the song end", v)
			}
		case vm.SourceMIDI:
			if v.State == vm.Release {
				t.Fatalf("the song end released the live note %+v", v)
			}
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected the live note to keep playing, found %d live voices", live)
	}
}

func TestLateQuantumIsSilenced(t *testing.T) {
	player, broker := newPlayer(t)
	clock := time.Unix(0, 0)
	// every quantum takes a second to render
	tracker.SetClock(player, func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	broker.Publish(compile(t, testSong(track(on(xentrack.Span{}, 0, 0)))))
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	buf := make([]float32, 2*512)
	player.Fill(buf, 2)
	if p := peak(buf); p != 0 {
		t.Fatalf("a late quantum was heard, peak %v", p)
	}
	alerts := 0
	for _, m := range drain(broker) {
		if m.HasAlert && m.Alert.Name == "RenderUnderrun" && m.Alert.Priority == tracker.Warning {
			alerts++
		}
	}
	if alerts != 2 {
		t.Fatalf("expected an underrun alert for both quanta, got %d", alerts)
	}
	if player.Engine().Pool().Active() != 1 || !player.Engine().Sequencer().Playing() {
		t.Fatalf("a late quantum should not stop the song")
	}
}

func TestMismatchedScheduleIsRejected(t *testing.T) {
	player, broker := newPlayer(t)
	playing := compile(t, testSong(track(on(xentrack.Span{}, 0, 0))))
	broker.Publish(playing)
	buf := make([]float32, 2*256)
	player.Fill(buf, 2)
	cfg := tracker.DefaultConfig()
	cfg.QuantumFrames = 64
	small, err := tracker.Compile(testSong(track(on(xentrack.Span{}, 0, 0))), nil, cfg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	broker.Publish(small)
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	alerts := 0
	for i := 0; i < 4; i++ {
		player.Fill(buf, 2)
		for _, m := range drain(broker) {
			if m.HasAlert && m.Alert.Name == "ScheduleRejected" && m.Alert.Priority == tracker.Error {
				alerts++
			}
		}
	}
	if alerts != 1 {
		t.Fatalf("expected one alert for the rejected schedule, got %d", alerts)
	}
	if player.Engine().Schedule() != playing {
		t.Fatalf("the rejected schedule replaced the playing one")
	}
	if p := peak(buf); p == 0 {
		t.Fatalf("the playing schedule stopped after the rejection")
	}
}

func TestKitPlaysMappedNotes(t *testing.T) {
	broker := tracker.NewBroker()
	cfg := tracker.DefaultConfig()
	cfg.KitChannel = 10
	player, err := tracker.NewPlayer(broker, cfg)
	if err != nil {
		t.Fatalf("NewPlayer failed: %v", err)
	}
	drums := track(on(xentrack.Span{}, 0, 2))
	drums.Kit = true
	sched := compile(t, kitSong(track(), drums))
	broker.Publish(sched)
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))
	// input degree 0 is mapped, degree 1 is not
	events := midiEvents{
		{Frame: 1, Kind: tracker.MIDINoteOn, Channel: 9, Note: 69, Velocity: 100},
		{Frame: 1, Kind: tracker.MIDINoteOn, Channel: 9, Note: 70, Velocity: 100},
	}
	buf := make([]float32, 2*256)
	player.Process(buf, 2, &events)
	var live, pattern []vm.VoiceInfo
	for _, v := range player.Engine().Pool().Voices(nil) {
		if v.Key.Source == vm.SourceMIDI {
			live = append(live, v)
		} else {
			pattern = append(pattern, v)
		}
	}
	if len(live) != 1 || live[0].Program != sched.Programs[1] || live[0].Degree != 5 {
		t.Fatalf("the kit channel played %+v, want degree 5 of the second instrument", live)
	}
	if len(pattern) != 1 || pattern[0].Program != sched.Programs[0] || pattern[0].Degree != -3 {
		t.Fatalf("the kit track played %+v, want degree -3 of the first instrument", pattern)
	}
	events = midiEvents{{Frame: 0, Kind: tracker.MIDINoteOff, Channel: 9, Note: 69}}
	player.Process(buf, 2, &events)
	for _, v := range player.Engine().Pool().Voices(nil) {
		if v.Key.Source == vm.SourceMIDI && v.State != vm.Release {
			t.Fatalf("note off on the kit channel did not release %+v", v)
		}
	}
}
