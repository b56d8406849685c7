package energy

import (
	"testing"

	"github.com/beakylabs/beaky/pkg/provider/vad"
)

const (
	testSampleRate = 16000
	testFrameMs    = 30
)

func newTestSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = testSampleRate
	}
	if cfg.FrameSizeMs == 0 {
		cfg.FrameSizeMs = testFrameMs
	}
	s, err := New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

// loudFrame returns a 30 ms frame whose RMS is well above the default threshold.
func loudFrame() []byte {
	frame := make([]byte, testSampleRate*2*testFrameMs/1000)
	for i := 0; i < len(frame); i += 2 {
		// Constant amplitude 8000 -> RMS ~0.24.
		amp := int16(8000)
		frame[i] = byte(amp)
		frame[i+1] = byte(amp >> 8)
	}
	return frame
}

func quietFrame() []byte {
	return make([]byte, testSampleRate*2*testFrameMs/1000)
}

func TestSilenceNeverStartsSpeech(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, vad.Config{})
	for i := 0; i < 100; i++ {
		ev, err := s.ProcessFrame(quietFrame())
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != vad.Silence {
			t.Fatalf("frame %d: got %v, want silence", i, ev.Type)
		}
	}
}

func TestDebounceSuppressesShortBursts(t *testing.T) {
	t.Parallel()

	// MinSpeechMs of 90 means 3 consecutive 30 ms loud frames are required.
	s := newTestSession(t, vad.Config{MinSpeechMs: 90})

	// Two loud frames then silence: never starts.
	for i := 0; i < 2; i++ {
		ev, err := s.ProcessFrame(loudFrame())
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != vad.Silence {
			t.Fatalf("loud frame %d during debounce: got %v, want silence", i, ev.Type)
		}
	}
	ev, err := s.ProcessFrame(quietFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.Silence {
		t.Errorf("after burst: got %v, want silence", ev.Type)
	}

	// Three sustained loud frames: the third fires SpeechStart.
	for i := 0; i < 2; i++ {
		if _, err := s.ProcessFrame(loudFrame()); err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
	}
	ev, err = s.ProcessFrame(loudFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.SpeechStart {
		t.Errorf("third sustained frame: got %v, want speech_start", ev.Type)
	}
}

func TestTrailingSilenceEndsSpeech(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, vad.Config{MinSpeechMs: 30, TrailingSilenceMs: 90})

	ev, err := s.ProcessFrame(loudFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.SpeechStart {
		t.Fatalf("got %v, want speech_start", ev.Type)
	}

	// Two quiet frames: still inside the trailing window.
	for i := 0; i < 2; i++ {
		ev, err = s.ProcessFrame(quietFrame())
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != vad.SpeechContinue {
			t.Fatalf("quiet frame %d: got %v, want speech_continue", i, ev.Type)
		}
	}

	// Third quiet frame crosses 90 ms.
	ev, err = s.ProcessFrame(quietFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.SpeechEnd {
		t.Errorf("got %v, want speech_end", ev.Type)
	}
}

func TestLoudFrameResetsTrailingSilence(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, vad.Config{MinSpeechMs: 30, TrailingSilenceMs: 60})

	if _, err := s.ProcessFrame(loudFrame()); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	// quiet, loud, quiet: the loud frame must reset the silence counter.
	if _, err := s.ProcessFrame(quietFrame()); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if _, err := s.ProcessFrame(loudFrame()); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	ev, err := s.ProcessFrame(quietFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.SpeechContinue {
		t.Errorf("got %v, want speech_continue after counter reset", ev.Type)
	}
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, vad.Config{MinSpeechMs: 30, TrailingSilenceMs: 60})

	if _, err := s.ProcessFrame(loudFrame()); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	s.Reset()

	ev, err := s.ProcessFrame(quietFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.Silence {
		t.Errorf("after Reset: got %v, want silence", ev.Type)
	}
}

func TestWrongFrameSizeRejected(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, vad.Config{})
	if _, err := s.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("ProcessFrame with wrong frame size: got nil error")
	}
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	e := New()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero sample rate", vad.Config{FrameSizeMs: 30}},
		{"zero frame size", vad.Config{SampleRate: 16000}},
		{"threshold above one", vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := e.NewSession(tt.cfg); err == nil {
				t.Error("NewSession: got nil error")
			}
		})
	}
}
