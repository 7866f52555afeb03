package tracker

import (
	"context"
	"fmt"

	"github.com/xentrack/xentrack"
)

type (
	ExportOptions struct {
		// MultiTrack also captures the output of every bus after its effects,
		// gain and pan.
		MultiTrack bool
		// MaxTail overrides Config.MaxTail when positive.
		MaxTail float64
	}

	// Result is a rendered song. Every buffer in it has the same number of
	// frames.
	Result struct {
		Master     xentrack.AudioBuffer
		Buses      []BusAudio
		SongFrames int // frames until the song end; the rest is the tail
		SampleRate int
	}

	BusAudio struct {
		Name  string
		Audio xentrack.AudioBuffer
	}
)

// Export renders a song offline with the same engine that plays it live.
// The song is rendered until its end event and then until every voice has
// finished, but for at most the maximum tail. Looping is off. The result
// depends only on the song, the samples and cfg, never on timing. ctx is
// checked between quanta.
func Export(ctx context.Context, song *xentrack.Song, samples xentrack.SampleSet, cfg Config, opts ExportOptions) (*Result, error) {
	sched, err := Compile(song, samples, cfg)
	if err != nil {
		return nil, err
	}
	if !sched.HasEnd {
		return nil, fmt.Errorf("cannot export %q: %w", song.Title, xentrack.ErrNoSongEnd)
	}
	broker := NewBroker()
	broker.Publish(sched)
	broker.TrySend(SetLoopingCmd(false))
	broker.TrySend(PlayCmd(xentrack.Span{}))
	engine, err := NewEngine(broker, cfg)
	if err != nil {
		return nil, err
	}
	maxTail := cfg.MaxTail
	if opts.MaxTail > 0 {
		maxTail = opts.MaxTail
	}
	tailFrames := int64(maxTail * float64(cfg.SampleRate))
	res := &Result{SampleRate: cfg.SampleRate}
	buf := make([]float32, cfg.QuantumFrames*2)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("export cancelled: %w", err)
		}
		n := engine.RenderQuantum(buf, 2)
		for i := 0; i < n; i++ {
			res.Master = append(res.Master, [2]float32{buf[2*i], buf[2*i+1]})
		}
		if opts.MultiTrack {
			m := engine.Mixer()
			if res.Buses == nil {
				res.Buses = make([]BusAudio, m.Len()-1)
				for i := range res.Buses {
					res.Buses[i].Name = m.Bus(i + 1).Name
					if res.Buses[i].Name == "" {
						res.Buses[i].Name = fmt.Sprintf("bus%d", i+1)
					}
				}
			}
			for i := range res.Buses {
				l, r := m.Output(i + 1)
				for j := 0; j < n; j++ {
					res.Buses[i].Audio = append(res.Buses[i].Audio, [2]float32{l[j], r[j]})
				}
			}
		}
		for {
			if _, ok := broker.ToModel.Pop(); !ok {
				break
			}
		}
		end, ended := engine.EndFrame()
		if !ended {
			continue
		}
		total := int64(len(res.Master))
		if idle := engine.Pool().Active() == 0; idle || total-end >= tailFrames {
			length := min(total, end+tailFrames)
			res.trim(int(length))
			res.SongFrames = int(end)
			return res, nil
		}
	}
}

func (r *Result) trim(frames int) {
	r.Master = r.Master[:frames]
	for i := range r.Buses {
		r.Buses[i].Audio = r.Buses[i].Audio[:frames]
	}
}
