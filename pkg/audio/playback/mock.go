package playback

import (
	"context"
	"sync"
)

var _ Sink = (*MockSink)(nil)

// MockSink records written PCM for assertions in tests.
type MockSink struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
	closed  bool

	// WriteErr, when set, is returned from every Write.
	WriteErr error
}

func NewMockSink() *MockSink { return &MockSink{} }

func (m *MockSink) Write(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	m.mu.Lock()
	m.writes = append(m.writes, cp)
	m.mu.Unlock()
	return nil
}

func (m *MockSink) Drain(ctx context.Context) error { return ctx.Err() }

func (m *MockSink) Flush() {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Writes returns a copy of all PCM chunks written so far.
func (m *MockSink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// FlushCount reports how many times Flush was called.
func (m *MockSink) FlushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Closed reports whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
