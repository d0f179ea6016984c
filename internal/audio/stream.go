// Package audio feeds a rendering backend to the default output device.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Source renders interleaved stereo float32 frames.
type Source interface {
	Process(dst []float32)
}

// Stream adapts a Source to the little-endian float32 byte stream read by
// ebiten's F32 players. Once closed it reports io.EOF.
type Stream struct {
	mu     sync.Mutex
	source Source
	tap    func([]float32)
	buf    []float32

	frames atomic.Int64
	closed atomic.Bool
}

// NewStream wraps source. tap, if not nil, sees every rendered buffer on the
// audio thread before it is encoded.
func NewStream(source Source, tap func([]float32)) *Stream {
	return &Stream{source: source, tap: tap}
}

func (s *Stream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.EOF
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(s.buf) < need {
		s.buf = make([]float32, need)
	}
	s.buf = s.buf[:need]
	s.source.Process(s.buf)
	if s.tap != nil {
		s.tap(s.buf)
	}
	for i, v := range s.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	s.frames.Add(int64(frames))
	return frames * 8, nil
}

// Frames returns how many frames have been rendered so far.
func (s *Stream) Frames() int64 { return s.frames.Load() }

func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

// Output plays a Stream on the shared audio context.
type Output struct {
	player *ebitaudio.Player
	stream *Stream
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Open creates a paused output for stream. bufferSize bounds the device
// latency; zero keeps ebiten's default.
func Open(sampleRate int, stream *Stream, bufferSize time.Duration) (*Output, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, err
	}
	pl, err := ctx.NewPlayerF32(stream)
	if err != nil {
		return nil, fmt.Errorf("audio player: %w", err)
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	return &Output{player: pl, stream: stream}, nil
}

func (o *Output) Play()           { o.player.Play() }
func (o *Output) Pause()          { o.player.Pause() }
func (o *Output) IsPlaying() bool { return o.player.IsPlaying() }

// Position returns what the listener hears right now.
func (o *Output) Position() time.Duration {
	return o.player.Position()
}

func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.stream.Close()
}
