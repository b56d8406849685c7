// Package audioin turns the raw microphone frame stream into discrete
// utterances. An Ingest owns one goroutine that feeds every captured frame
// through a VAD session, buffers audio while speech is active, and emits the
// finished segment once trailing silence closes it. A separate coalesced
// speech-start signal lets the orchestrator react to barge-in before the
// utterance completes.
package audioin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beakylabs/beaky/pkg/audio"
	"github.com/beakylabs/beaky/pkg/audio/capture"
	"github.com/beakylabs/beaky/pkg/provider/vad"
)

const (
	defaultMinUtteranceMs = 300
	defaultQueueDepth     = 4
)

// Utterance is one finalized speech segment, trailing silence included.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Channels   int

	// Start and End are capture-relative timestamps of the segment bounds.
	Start time.Duration
	End   time.Duration
}

// Duration returns the play time of the utterance.
func (u Utterance) Duration() time.Duration {
	return audio.Frame{Data: u.PCM, SampleRate: u.SampleRate, Channels: u.Channels}.Duration()
}

// Config holds the ingest parameters.
type Config struct {
	// VAD configures the speech detector. SampleRate and FrameSizeMs must
	// match the capture source.
	VAD vad.Config

	// MinUtteranceMs is the minimum speech duration (trailing silence
	// excluded) for a segment to be emitted. Shorter segments are dropped
	// silently. Default 300 ms.
	MinUtteranceMs int

	// QueueDepth is the utterance channel capacity. Default 4.
	QueueDepth int
}

func (c *Config) applyDefaults() {
	if c.MinUtteranceMs <= 0 {
		c.MinUtteranceMs = defaultMinUtteranceMs
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
}

// Ingest gates a capture source with VAD and emits utterances.
type Ingest struct {
	cfg     Config
	source  capture.Source
	session vad.SessionHandle

	utterances  chan Utterance
	speechStart chan struct{}

	mu      sync.Mutex
	started bool
	err     error

	done chan struct{}
}

// New creates an Ingest over the given source. The VAD session is created
// immediately so configuration errors surface before the loop starts.
func New(source capture.Source, engine vad.Engine, cfg Config) (*Ingest, error) {
	cfg.applyDefaults()
	session, err := engine.NewSession(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("audioin: create vad session: %w", err)
	}
	return &Ingest{
		cfg:         cfg,
		source:      source,
		session:     session,
		utterances:  make(chan Utterance, cfg.QueueDepth),
		speechStart: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Start begins capture and launches the ingest loop. The loop runs until the
// source's frame channel closes or ctx is cancelled.
func (in *Ingest) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return errors.New("audioin: already started")
	}
	in.started = true
	in.mu.Unlock()

	if err := in.source.Start(ctx); err != nil {
		return fmt.Errorf("audioin: start capture: %w", err)
	}
	go in.loop(ctx)
	return nil
}

// Utterances delivers finalized speech segments. Closed when the loop exits.
func (in *Ingest) Utterances() <-chan Utterance { return in.utterances }

// SpeechStart fires once per detected utterance onset, coalesced: a signal
// not yet consumed is not duplicated. Used for barge-in.
func (in *Ingest) SpeechStart() <-chan struct{} { return in.speechStart }

// Err reports the terminal error after the loop has exited, nil on a clean
// shutdown.
func (in *Ingest) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Done is closed when the ingest loop has exited.
func (in *Ingest) Done() <-chan struct{} { return in.done }

func (in *Ingest) loop(ctx context.Context) {
	defer close(in.done)
	defer close(in.utterances)
	defer in.session.Close()

	// The debounce window means SpeechStart fires a few frames into the
	// utterance; a short pre-roll ring preserves the onset.
	preRollFrames := 2
	if in.cfg.VAD.FrameSizeMs > 0 {
		preRollFrames += in.cfg.VAD.MinSpeechMs / in.cfg.VAD.FrameSizeMs
	}

	var (
		preRoll   []audio.Frame
		seg       []byte
		segStart  time.Duration
		capturing bool
		vadErrs   int
	)

	for frame := range in.source.Frames() {
		if ctx.Err() != nil {
			break
		}

		ev, err := in.session.ProcessFrame(frame.Data)
		if err != nil {
			vadErrs++
			if vadErrs == 1 {
				slog.Warn("vad rejected frame", "error", err)
			}
			continue
		}

		switch ev.Type {
		case vad.SpeechStart:
			capturing = true
			seg = seg[:0]
			if len(preRoll) > 0 {
				segStart = preRoll[0].Timestamp
				for _, f := range preRoll {
					seg = append(seg, f.Data...)
				}
			} else {
				segStart = frame.Timestamp
			}
			seg = append(seg, frame.Data...)
			select {
			case in.speechStart <- struct{}{}:
			default:
			}

		case vad.SpeechContinue:
			if capturing {
				seg = append(seg, frame.Data...)
			}

		case vad.SpeechEnd:
			if capturing {
				seg = append(seg, frame.Data...)
				in.emit(ctx, seg, segStart, frame)
			}
			capturing = false
			seg = nil

		case vad.Silence:
			// Keep a rolling window of recent frames for pre-roll.
			preRoll = append(preRoll, frame)
			if len(preRoll) > preRollFrames {
				preRoll = preRoll[1:]
			}
		}
		if ev.Type != vad.Silence {
			preRoll = preRoll[:0]
		}
	}

	if err := in.source.Err(); err != nil {
		slog.Error("microphone capture failed", "error", err)
		in.mu.Lock()
		in.err = err
		in.mu.Unlock()
	}
}

// emit delivers a finalized segment unless it is too short to be speech.
func (in *Ingest) emit(ctx context.Context, seg []byte, start time.Duration, last audio.Frame) {
	u := Utterance{
		PCM:        append([]byte(nil), seg...),
		SampleRate: last.SampleRate,
		Channels:   last.Channels,
		Start:      start,
		End:        last.Timestamp + last.Duration(),
	}

	speech := u.Duration() - time.Duration(in.cfg.VAD.TrailingSilenceMs)*time.Millisecond
	if speech < time.Duration(in.cfg.MinUtteranceMs)*time.Millisecond {
		slog.Debug("discarding short segment", "speech", speech)
		return
	}

	select {
	case in.utterances <- u:
	case <-ctx.Done():
	}
}
