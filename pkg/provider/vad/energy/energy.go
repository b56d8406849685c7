// Package energy implements a vad.Engine based on frame RMS energy.
//
// It has no model dependencies: a frame whose normalised RMS exceeds the
// configured speech threshold counts as speech. A debounce window suppresses
// transient noise before SpeechStart fires, and a trailing-silence window
// decides when an utterance has ended. This matches the behaviour of simple
// push-to-talk-free kiosk microphones well enough that a neural VAD has not
// been needed.
package energy

import (
	"errors"
	"fmt"

	"github.com/beakylabs/beaky/pkg/audio"
	"github.com/beakylabs/beaky/pkg/provider/vad"
)

const (
	defaultSpeechThreshold   = 0.03
	defaultMinSpeechMs       = 90
	defaultTrailingSilenceMs = 1500
)

// Engine creates RMS-energy VAD sessions.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine { return &Engine{} }

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: SampleRate must be positive")
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, errors.New("energy: FrameSizeMs must be positive")
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: SpeechThreshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.MinSpeechMs <= 0 {
		cfg.MinSpeechMs = defaultMinSpeechMs
	}
	if cfg.TrailingSilenceMs <= 0 {
		cfg.TrailingSilenceMs = defaultTrailingSilenceMs
	}

	return &session{
		cfg:       cfg,
		frameSize: cfg.SampleRate * 2 * cfg.FrameSizeMs / 1000,
	}, nil
}

// session tracks the detection state for one audio stream. Not safe for
// concurrent use; the ingest loop owns it.
type session struct {
	cfg       vad.Config
	frameSize int // expected bytes per mono frame

	inSpeech  bool
	pendingMs int // consecutive above-threshold ms while idle
	silenceMs int // consecutive below-threshold ms while in speech
	closed    bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("energy: session is closed")
	}
	if len(frame) != s.frameSize {
		return vad.Event{}, fmt.Errorf("energy: frame size %d, want %d", len(frame), s.frameSize)
	}

	level := audio.RMS(frame)
	loud := level >= s.cfg.SpeechThreshold

	if !s.inSpeech {
		if !loud {
			s.pendingMs = 0
			return vad.Event{Type: vad.Silence, Level: level}, nil
		}
		s.pendingMs += s.cfg.FrameSizeMs
		if s.pendingMs < s.cfg.MinSpeechMs {
			// Still debouncing.
			return vad.Event{Type: vad.Silence, Level: level}, nil
		}
		s.inSpeech = true
		s.pendingMs = 0
		s.silenceMs = 0
		return vad.Event{Type: vad.SpeechStart, Level: level}, nil
	}

	if loud {
		s.silenceMs = 0
		return vad.Event{Type: vad.SpeechContinue, Level: level}, nil
	}
	s.silenceMs += s.cfg.FrameSizeMs
	if s.silenceMs >= s.cfg.TrailingSilenceMs {
		s.inSpeech = false
		s.silenceMs = 0
		return vad.Event{Type: vad.SpeechEnd, Level: level}, nil
	}
	return vad.Event{Type: vad.SpeechContinue, Level: level}, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.inSpeech = false
	s.pendingMs = 0
	s.silenceMs = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}
