package capture

import (
	"context"
	"sync"
	"time"

	"github.com/beakylabs/beaky/pkg/audio"
)

var _ Source = (*MockSource)(nil)

// MockSource is a scriptable Source for tests. Frames pushed with Push are
// delivered in order; Finish closes the channel.
type MockSource struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	err      error
	frames   chan audio.Frame
	StartErr error
}

// NewMockSource returns a mock source with the given channel capacity.
func NewMockSource(buffer int) *MockSource {
	return &MockSource{frames: make(chan audio.Frame, buffer)}
}

// Push delivers a frame of raw PCM to the consumer.
func (m *MockSource) Push(pcm []byte, sampleRate, channels int, ts time.Duration) {
	m.frames <- audio.Frame{Data: pcm, SampleRate: sampleRate, Channels: channels, Timestamp: ts}
}

// Finish closes the frames channel, optionally recording a terminal error.
func (m *MockSource) Finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.err = err
	close(m.frames)
}

func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	m.started = true
	return nil
}

// Started reports whether Start was called.
func (m *MockSource) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *MockSource) Frames() <-chan audio.Frame { return m.frames }

func (m *MockSource) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MockSource) Close() error {
	m.Finish(nil)
	return nil
}
