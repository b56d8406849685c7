// Package mock provides test doubles for the vad.Engine and vad.SessionHandle
// interfaces.
package mock

import (
	"sync"

	"github.com/beakylabs/beaky/pkg/provider/vad"
)

// Engine is a mock vad.Engine that hands out a pre-built Session.
type Engine struct {
	// Session is returned from NewSession. If nil, a fresh empty Session is
	// created per call.
	Session *Session

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	mu       sync.Mutex
	sessions []*Session
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := e.Session
	if s == nil {
		s = &Session{}
	}
	s.Config = cfg
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a scriptable vad.SessionHandle. Events are consumed in order;
// when exhausted, ProcessFrame returns Silence.
type Session struct {
	mu sync.Mutex

	// Config is the configuration NewSession was called with.
	Config vad.Config

	// Events is the ordered list of events to return from ProcessFrame.
	Events []vad.Event

	// ProcessErr, if non-nil, is returned from every ProcessFrame call.
	ProcessErr error

	// Frames records every frame passed to ProcessFrame.
	Frames [][]byte

	// Resets counts Reset calls.
	Resets int

	next   int
	closed bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if s.ProcessErr != nil {
		return vad.Event{}, s.ProcessErr
	}
	if s.next >= len(s.Events) {
		return vad.Event{Type: vad.Silence}, nil
	}
	ev := s.Events[s.next]
	s.next++
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resets++
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)
