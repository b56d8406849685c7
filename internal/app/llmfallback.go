package app

import (
	"context"

	"github.com/beakylabs/beaky/internal/resilience"
	"github.com/beakylabs/beaky/pkg/provider/llm"
)

var _ llm.Provider = (*fallbackLLM)(nil)

// fallbackLLM presents a resilience.FallbackGroup of models as a single
// llm.Provider. Completions route through the group so an unhealthy primary
// falls over to the secondary; token counting and capabilities always come
// from the primary, whose model defines the history budget.
type fallbackLLM struct {
	group   *resilience.FallbackGroup[llm.Provider]
	primary llm.Provider
}

func newFallbackLLM(group *resilience.FallbackGroup[llm.Provider], primary llm.Provider) *fallbackLLM {
	return &fallbackLLM{group: group, primary: primary}
}

func (f *fallbackLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return resilience.ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

func (f *fallbackLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return resilience.ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

func (f *fallbackLLM) CountTokens(messages []llm.Message) (int, error) {
	return f.primary.CountTokens(messages)
}

func (f *fallbackLLM) Capabilities() llm.ModelCapabilities {
	return f.primary.Capabilities()
}
