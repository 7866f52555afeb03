package oto

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/xentrack/xentrack"
)

type (
	// Output plays an AudioSource through the default audio device of the
	// system. The device pulls audio from the source in its own goroutine;
	// the source must not block.
	Output struct {
		ctx    *oto.Context
		player *oto.Player
	}

	// sourceReader adapts an AudioSource to the io.Reader that oto players
	// read float32 little-endian stereo samples from.
	sourceReader struct {
		source    xentrack.AudioSource
		floatBuf  []float32
		tmpBuffer []byte
	}
)

const (
	channelCount  = 2
	bytesPerFrame = channelCount * 4
)

// oto allows only one context per process
var (
	contextMu sync.Mutex
	context   *oto.Context
	contextSR int
)

// NewOutput opens the audio device at sampleRate and starts playing source.
// bufferSize is a hint for the device latency; 0 uses the default of the
// platform.
func NewOutput(source xentrack.AudioSource, sampleRate int, bufferSize time.Duration) (*Output, error) {
	ctx, err := acquireContext(sampleRate, bufferSize)
	if err != nil {
		return nil, err
	}
	player := ctx.NewPlayer(&sourceReader{source: source})
	player.Play()
	return &Output{ctx: ctx, player: player}, nil
}

func acquireContext(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	contextMu.Lock()
	defer contextMu.Unlock()
	if context != nil {
		if contextSR != sampleRate {
			return nil, fmt.Errorf("cannot open oto output at %d Hz: device already opened at %d Hz", sampleRate, contextSR)
		}
		return context, nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	context, contextSR = ctx, sampleRate
	return ctx, nil
}

// Close stops the playback. The device itself stays open for later outputs.
func (o *Output) Close() error {
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// Read implements io.Reader; only whole frames are read.
func (r *sourceReader) Read(p []byte) (int, error) {
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if cap(r.floatBuf) < frames*channelCount {
		r.floatBuf = make([]float32, frames*channelCount)
	}
	buf := r.floatBuf[:frames*channelCount]
	r.source.Fill(buf, channelCount)
	// we reuse the old capacity tmpBuffer by setting its length to zero
	r.tmpBuffer = FloatBufferToLE(buf, r.tmpBuffer[:0])
	return copy(p, r.tmpBuffer), nil
}
