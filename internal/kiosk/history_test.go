package kiosk

import (
	"errors"
	"strings"
	"testing"

	llmmock "github.com/beakylabs/beaky/pkg/provider/llm/mock"
)

func TestHistoryCommitAndOrder(t *testing.T) {
	t.Parallel()

	h := NewHistory(&llmmock.Provider{TokenCount: 1}, 1000, 10)
	h.Commit("first question", "first answer")
	h.Commit("second question", "second answer")

	msgs := h.Messages()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	wantOrder := []string{"first question", "first answer", "second question", "second answer"}
	for i, want := range wantOrder {
		if msgs[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Content, want)
		}
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestHistoryEvictsOldestOverTokenBudget(t *testing.T) {
	t.Parallel()

	// The mock counts roughly len/4 tokens per message; long answers blow
	// through a small budget quickly.
	h := NewHistory(&llmmock.Provider{}, 100, 100)
	long := strings.Repeat("chatter ", 40)
	h.Commit("one", long)
	h.Commit("two", long)
	h.Commit("three", "short")

	msgs := h.Messages()
	for _, m := range msgs {
		if m.Content == "one" {
			t.Error("oldest pair not evicted")
		}
	}
	if len(msgs) < 2 {
		t.Error("eviction removed the newest pair")
	}
	if msgs[len(msgs)-2].Content != "three" {
		t.Errorf("newest user message = %q, want %q", msgs[len(msgs)-2].Content, "three")
	}
}

func TestHistoryTurnCapFallback(t *testing.T) {
	t.Parallel()

	// Counter always fails: the turn cap is the only bound.
	h := NewHistory(&llmmock.Provider{CountTokensErr: errors.New("no tokenizer")}, 10, 2)
	h.Commit("a", "1")
	h.Commit("b", "2")
	h.Commit("c", "3")

	if got := h.Turns(); got != 2 {
		t.Errorf("turns = %d, want 2", got)
	}
	if msgs := h.Messages(); msgs[0].Content != "b" {
		t.Errorf("oldest surviving message = %q, want %q", msgs[0].Content, "b")
	}
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	h := NewHistory(nil, 0, 0)
	h.Commit("hello", "hi")

	msgs := h.Messages()
	msgs[0].Content = "mutated"
	if h.Messages()[0].Content != "hello" {
		t.Error("Messages exposed internal state")
	}
}
