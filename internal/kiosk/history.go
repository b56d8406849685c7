package kiosk

import (
	"log/slog"

	"github.com/beakylabs/beaky/pkg/provider/llm"
)

const (
	defaultTokenBudget = 4096
	defaultMaxTurns    = 20
)

// TokenCounter estimates prompt size. Satisfied by llm.Provider.
type TokenCounter interface {
	CountTokens(messages []llm.Message) (int, error)
}

// History is the bounded conversation record. It is owned by the orchestrator
// worker goroutine and is not safe for concurrent use; nothing else may hold a
// reference to its messages.
//
// Eviction drops the oldest user/assistant pair once the token budget is
// exceeded, falling back to a turn cap when the counter fails.
type History struct {
	counter     TokenCounter
	tokenBudget int
	maxTurns    int
	msgs        []llm.Message
}

// NewHistory creates a History. Zero budget or turn cap selects the defaults.
func NewHistory(counter TokenCounter, tokenBudget, maxTurns int) *History {
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &History{counter: counter, tokenBudget: tokenBudget, maxTurns: maxTurns}
}

// Commit appends one completed exchange and evicts oldest pairs as needed.
// Cancelled turns never reach Commit, so an interrupted reply leaves the
// history untouched.
func (h *History) Commit(userText, assistantText string) {
	h.msgs = append(h.msgs,
		llm.Message{Role: "user", Content: userText},
		llm.Message{Role: "assistant", Content: assistantText},
	)
	h.evict()
}

// Messages returns a copy of the history for a prompt. The caller may append
// to it freely.
func (h *History) Messages() []llm.Message {
	out := make([]llm.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Turns reports the number of committed exchanges.
func (h *History) Turns() int { return len(h.msgs) / 2 }

func (h *History) evict() {
	for len(h.msgs) > 2 && h.overBudget() {
		h.msgs = h.msgs[2:]
	}
}

func (h *History) overBudget() bool {
	if len(h.msgs)/2 > h.maxTurns {
		return true
	}
	if h.counter == nil {
		return false
	}
	tokens, err := h.counter.CountTokens(h.msgs)
	if err != nil {
		slog.Warn("token count failed, falling back to turn cap", "error", err)
		return false
	}
	return tokens > h.tokenBudget
}
