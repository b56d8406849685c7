package playback

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

var _ Sink = (*OtoSink)(nil)

// pcmBuffer is the io.Reader feeding the oto player. Reads return whatever is
// buffered, or zero-fill silence when the buffer is empty, so the player never
// starves and never blocks the audio thread.
type pcmBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond
	data []byte
}

func newPCMBuffer() *pcmBuffer {
	b := &pcmBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pcmBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		// Silence keeps the device fed between utterances.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.cond.Broadcast()
	}
	return n, nil
}

func (b *pcmBuffer) write(pcm []byte) {
	b.mu.Lock()
	b.data = append(b.data, pcm...)
	b.mu.Unlock()
}

func (b *pcmBuffer) flush() {
	b.mu.Lock()
	b.data = nil
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *pcmBuffer) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// OtoSink plays PCM through the default output device via oto.
type OtoSink struct {
	sampleRate int
	channels   int

	buf    *pcmBuffer
	player *oto.Player

	mu     sync.Mutex
	closed bool
}

// NewOtoSink opens the default output device at the given format. oto allows
// only one context per process, so create a single sink and share it.
func NewOtoSink(sampleRate, channels int) (*OtoSink, error) {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	<-ready

	buf := newPCMBuffer()
	player := otoCtx.NewPlayer(buf)
	player.Play()

	return &OtoSink{
		sampleRate: sampleRate,
		channels:   channels,
		buf:        buf,
		player:     player,
	}, nil
}

// Write implements Sink. The internal buffer is unbounded, so Write only
// blocks on ctx when the sink is already closed.
func (s *OtoSink) Write(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("playback: sink is closed")
	}
	s.buf.write(pcm)
	return nil
}

// Drain implements Sink. It waits for the buffer to empty and then for the
// device-side buffer to play out.
func (s *OtoSink) Drain(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for s.buf.pending() > 0 || s.player.BufferedSize() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

// Flush implements Sink.
func (s *OtoSink) Flush() {
	s.buf.flush()
}

// Close implements Sink.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.buf.flush()
	if err := s.player.Close(); err != nil && err != io.EOF {
		return fmt.Errorf("playback: close player: %w", err)
	}
	return nil
}
