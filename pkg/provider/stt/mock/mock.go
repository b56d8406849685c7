// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/beakylabs/beaky/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
//
// Results are consumed in order: the first Transcribe call returns Results[0],
// the second Results[1], and so on. When the list is exhausted (or empty) an
// empty transcript is returned. Set Err to make every call fail.
type Provider struct {
	mu sync.Mutex

	// Results is the ordered list of transcripts to return.
	Results []stt.Transcript

	// Err, if non-nil, is returned from every Transcribe call.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.next >= len(p.Results) {
		return &stt.Transcript{}, nil
	}
	t := p.Results[p.next]
	p.next++
	return &t, nil
}

// Reset clears recorded calls and rewinds the result cursor.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}

var _ stt.Provider = (*Provider)(nil)
