package tracker_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"testing"

	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/tracker"
)

func readSong(t *testing.T, path string) *xentrack.Song {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	song, err := xentrack.ReadSong(f)
	if err != nil {
		t.Fatalf("ReadSong(%s) failed: %v", path, err)
	}
	return song
}

func hash(t *testing.T, buf xentrack.AudioBuffer) [32]byte {
	t.Helper()
	b, err := xentrack.Raw(buf, false)
	if err != nil {
		t.Fatalf("Raw failed: %v", err)
	}
	return sha256.Sum256(b)
}

func TestExportIsDeterministic(t *testing.T) {
	song := readSong(t, "testdata/pluck.yml")
	cfg := tracker.DefaultConfig()
	a, err := tracker.Export(context.Background(), song, nil, cfg, tracker.ExportOptions{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	b, err := tracker.Export(context.Background(), song, nil, cfg, tracker.ExportOptions{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if hash(t, a.Master) != hash(t, b.Master) {
		t.Fatalf("two exports of the same song differ")
	}
	if p := a.Master.Peak(); p == 0 || p > 4 {
		t.Fatalf("unexpected peak %v", p)
	}
}

func TestExportLength(t *testing.T) {
	song := readSong(t, "testdata/pluck.yml")
	cfg := tracker.DefaultConfig()
	res, err := tracker.Export(context.Background(), song, nil, cfg, tracker.ExportOptions{MaxTail: 1})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	// four beats at 120 bpm
	if res.SongFrames != 88200 {
		t.Fatalf("song end at frame %d, want 88200", res.SongFrames)
	}
	if n := len(res.Master); n <= res.SongFrames || n > res.SongFrames+cfg.SampleRate {
		t.Fatalf("%d frames rendered, want a tail of at most one second after %d", n, res.SongFrames)
	}
}

func TestExportMultiTrack(t *testing.T) {
	song := readSong(t, "testdata/pluck.yml")
	res, err := tracker.Export(context.Background(), song, nil, tracker.DefaultConfig(), tracker.ExportOptions{MultiTrack: true})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(res.Buses) != 1 || res.Buses[0].Name != "echo" {
		t.Fatalf("unexpected buses %+v", res.Buses)
	}
	if len(res.Buses[0].Audio) != len(res.Master) {
		t.Fatalf("bus has %d frames, master %d", len(res.Buses[0].Audio), len(res.Master))
	}
	if res.Buses[0].Audio.Peak() == 0 {
		t.Fatalf("the bus track is silent")
	}
	plain, err := tracker.Export(context.Background(), song, nil, tracker.DefaultConfig(), tracker.ExportOptions{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if hash(t, plain.Master) != hash(t, res.Master) {
		t.Fatalf("capturing the buses changed the master output")
	}
}

func TestExportRequiresEnd(t *testing.T) {
	song := readSong(t, "testdata/pluck.yml")
	song.Score.Conductor = nil
	_, err := tracker.Export(context.Background(), song, nil, tracker.DefaultConfig(), tracker.ExportOptions{})
	if !errors.Is(err, xentrack.ErrNoSongEnd) {
		t.Fatalf("expected ErrNoSongEnd, got %v", err)
	}
}

func TestExportCancel(t *testing.T) {
	song := readSong(t, "testdata/pluck.yml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tracker.Export(ctx, song, nil, tracker.DefaultConfig(), tracker.ExportOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExportRejectsInvalidSong(t *testing.T) {
	song := readSong(t, "testdata/pluck.yml")
	song.Instruments[0].Nodes[2].Inputs = []string{"vca"}
	_, err := tracker.Export(context.Background(), song, nil, tracker.DefaultConfig(), tracker.ExportOptions{})
	if !errors.Is(err, xentrack.ErrCyclicModulationGraph) {
		t.Fatalf("expected ErrCyclicModulationGraph, got %v", err)
	}
}
