package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/oto"
	"github.com/xentrack/xentrack/tracker"
)

var (
	loop       bool
	startBeat  string
	midiInput  string
	bufferTime time.Duration
)

var playCmd = &cobra.Command{
	Use:   "play <song.yml>",
	Short: "Play a song through the sound card",
	Long: `Play a song live until it ends or until interrupted. With --midi-input,
notes played on the MIDI device are heard on the instrument of their channel.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().BoolVar(&loop, "loop", false, "loop the song, or its loop section if it has one")
	playCmd.Flags().StringVar(&startBeat, "start", "0", "beat to start playing from, e.g. 8 or 17/2")
	playCmd.Flags().StringVar(&midiInput, "midi-input", "", "connect the MIDI input whose name starts with the given prefix")
	playCmd.Flags().DurationVar(&bufferTime, "buffer", 0, "audio device buffer duration (default: the platform default)")
}

// liveSource feeds the player from a MIDI context.
type liveSource struct {
	player  *tracker.Player
	context tracker.PlayerProcessContext
}

func (s liveSource) Fill(out []float32, channels int) {
	s.player.Process(out, channels, s.context)
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	song, err := readSong(args[0])
	if err != nil {
		return err
	}
	start, err := xentrack.ParseSpan(startBeat)
	if err != nil {
		return fmt.Errorf("invalid start position: %w", err)
	}
	sched, err := tracker.Compile(song, nil, cfg)
	if err != nil {
		return err
	}
	broker := tracker.NewBroker()
	broker.Publish(sched)
	player, err := tracker.NewPlayer(broker, cfg)
	if err != nil {
		return err
	}
	midiContext, closeMIDI, err := openMIDI(midiInput, cfg.SampleRate)
	if err != nil {
		log.Printf("MIDI input not available: %v", err)
	}
	defer closeMIDI()
	output, err := oto.NewOutput(liveSource{player: player, context: midiContext}, cfg.SampleRate, bufferTime)
	if err != nil {
		return err
	}
	defer output.Close()
	broker.TrySend(tracker.SetLoopingCmd(loop))
	broker.TrySend(tracker.PlayCmd(start))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	started := false
	for {
		select {
		case <-ctx.Done():
			broker.TrySend(tracker.PanicCmd())
			time.Sleep(50 * time.Millisecond) // let the device play out the silence
			return nil
		default:
		}
		msg, ok := broker.TimeoutReceive(100 * time.Millisecond)
		if !ok {
			continue
		}
		if msg.HasAlert {
			log.Printf("%v: %v: %v", msg.Alert.Priority, msg.Alert.Name, msg.Alert.Message)
		}
		if msg.HasStatus {
			started = started || msg.Status.Playing
			// with a MIDI input the user may keep playing after the song
			if started && !msg.Status.Playing && msg.Status.Voices == 0 && midiInput == "" {
				return nil
			}
		}
	}
}
