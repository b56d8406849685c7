// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/beakylabs/beaky/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider. By default it returns a
// deterministic PCM payload derived from the input text, so ordering tests can
// identify which sentence produced which audio.
type Provider struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every Synthesize call.
	Err error

	// SynthesizeFn, if non-nil, replaces the default behaviour entirely.
	// Useful for injecting per-sentence delays in ordering tests.
	SynthesizeFn func(ctx context.Context, text string) (*tts.Audio, error)

	// SampleRate of generated audio. Defaults to 22050.
	SampleRate int

	// Calls records the text of every Synthesize invocation in order.
	Calls []string
}

// Synthesize records the call and returns PCM whose bytes are the UTF-8 text
// itself (padded to even length), making playback order observable in tests.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, text)
	fn := p.SynthesizeFn
	err := p.Err
	rate := p.SampleRate
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if rate == 0 {
		rate = 22050
	}

	pcm := []byte(text)
	if len(pcm)%2 != 0 {
		pcm = append(pcm, 0)
	}
	return &tts.Audio{PCM: pcm, SampleRate: rate, Channels: 1}, nil
}

// CallTexts returns a copy of the recorded call texts.
func (p *Provider) CallTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	copy(out, p.Calls)
	return out
}

var _ tts.Provider = (*Provider)(nil)
