// Package whisper implements stt.Provider using the whisper.cpp CGO bindings.
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH environment
// variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/beakylabs/beaky/pkg/audio"
	"github.com/beakylabs/beaky/pkg/provider/stt"
)

const defaultLanguage = "en"

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using whisper.cpp Go bindings (CGO). The
// model is loaded once at startup and shared across all Transcribe calls; each
// call creates its own whisper context because contexts are not thread-safe.
type Provider struct {
	model    whisperlib.Model
	language string

	mu     sync.Mutex
	closed bool
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from the given file
// path. The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. Inference is CPU-bound and cannot be
// interrupted mid-run, so cancellation is checked before and after; a cancelled
// ctx after inference discards the result and returns ctx.Err().
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("whisper: provider is closed")
	}
	p.mu.Unlock()

	if len(req.PCM) == 0 {
		return &stt.Transcript{Language: p.resolveLanguage(req)}, nil
	}
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}

	samples := audio.Float32Mono(req.PCM, channels)
	if req.SampleRate > 0 && req.SampleRate != modelSampleRate {
		samples = resample(samples, req.SampleRate, modelSampleRate)
	}
	lang := p.resolveLanguage(req)

	start := time.Now()
	text, err := p.infer(samples, lang)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dur := pcmDuration(req)
	slog.Debug("utterance transcribed",
		"audio_duration", dur,
		"inference_time", time.Since(start),
		"chars", len(text),
	)

	return &stt.Transcript{
		Text:          text,
		Language:      lang,
		AudioDuration: dur,
	}, nil
}

func (p *Provider) resolveLanguage(req stt.Request) string {
	if req.Language != "" {
		return req.Language
	}
	return p.language
}

// infer runs whisper.cpp inference on a fresh context and returns the
// concatenated segment text.
func (p *Provider) infer(samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

func pcmDuration(req stt.Request) time.Duration {
	sr := req.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	ch := req.Channels
	if ch <= 0 {
		ch = 1
	}
	samples := len(req.PCM) / 2 / ch
	return time.Duration(samples) * time.Second / time.Duration(sr)
}
