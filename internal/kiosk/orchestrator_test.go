package kiosk

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beakylabs/beaky/internal/audioin"
	"github.com/beakylabs/beaky/internal/display"
	"github.com/beakylabs/beaky/internal/identity"
	"github.com/beakylabs/beaky/internal/resilience"
	"github.com/beakylabs/beaky/pkg/provider/llm"
	llmmock "github.com/beakylabs/beaky/pkg/provider/llm/mock"
	"github.com/beakylabs/beaky/pkg/provider/stt"
	sttmock "github.com/beakylabs/beaky/pkg/provider/stt/mock"
)

// ---- fakes ----

type fakeSource struct {
	utterances  chan audioin.Utterance
	speechStart chan struct{}
	err         error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		utterances:  make(chan audioin.Utterance, 4),
		speechStart: make(chan struct{}, 1),
	}
}

func (f *fakeSource) Utterances() <-chan audioin.Utterance { return f.utterances }
func (f *fakeSource) SpeechStart() <-chan struct{}         { return f.speechStart }
func (f *fakeSource) Err() error                           { return f.err }

type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	cancels int
	waitErr error
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeSpeaker) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.waitErr
}

func (f *fakeSpeaker) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeSpeaker) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

func (f *fakeSpeaker) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

type fakePerceptor struct {
	perception Perception
	err        error
}

func (f *fakePerceptor) Perceive(ctx context.Context) (Perception, error) {
	return f.perception, f.err
}

// ---- helpers ----

func testUtterance() audioin.Utterance {
	return audioin.Utterance{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func eventsOfType(evs []display.Event, t display.EventType) []display.Event {
	var out []display.Event
	for _, ev := range evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ---- tests ----

func TestTurnCommitsExchange(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	speaker := &fakeSpeaker{}
	ch := display.NewChannel()
	sttP := &sttmock.Provider{Results: []stt.Transcript{{Text: "Hello there, who are you?"}}}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "I'm Beaky, "},
		{Text: "the parrot at the front desk. "},
		{Text: "Nice to meet you!"},
		{FinishReason: "stop"},
	}}

	o, err := New(Config{
		Source:  source,
		STT:     sttP,
		LLM:     llmP,
		Speech:  speaker,
		Display: ch,
		Persona: "You are Beaky.",
		Retry:   fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source.utterances <- testUtterance()
	close(source.utterances)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := o.History().Turns(); got != 1 {
		t.Errorf("history turns = %d, want 1", got)
	}

	const wantReply = "I'm Beaky, the parrot at the front desk. Nice to meet you!"
	evs := ch.TryDrain()
	if got := eventsOfType(evs, display.EventUserText); len(got) != 1 || got[0].Text != "Hello there, who are you?" {
		t.Errorf("user_text events = %+v", got)
	}
	var partial strings.Builder
	for _, ev := range eventsOfType(evs, display.EventAssistantPartial) {
		partial.WriteString(ev.Text)
	}
	if partial.String() != wantReply {
		t.Errorf("partials concat = %q, want %q", partial.String(), wantReply)
	}
	if got := eventsOfType(evs, display.EventAssistantFinal); len(got) != 1 || got[0].Text != wantReply {
		t.Errorf("assistant_final events = %+v", got)
	}

	if joined := strings.Join(speaker.Spoken(), " "); joined != wantReply {
		t.Errorf("spoken = %q, want %q", joined, wantReply)
	}

	if len(llmP.StreamCalls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(llmP.StreamCalls))
	}
	req := llmP.StreamCalls[0].Req
	if req.SystemPrompt != "You are Beaky." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	last := req.Messages[len(req.Messages)-1]
	if !strings.Contains(last.Content, "[PERSON] "+UnknownVisitor) {
		t.Errorf("prompt missing anonymous identity: %q", last.Content)
	}
}

func TestEmptyTranscriptDiscarded(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	speaker := &fakeSpeaker{}
	ch := display.NewChannel()
	llmP := &llmmock.Provider{}

	o, err := New(Config{
		Source:  source,
		STT:     &sttmock.Provider{Results: []stt.Transcript{{Text: "   "}}},
		LLM:     llmP,
		Speech:  speaker,
		Display: ch,
		Retry:   fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source.utterances <- testUtterance()
	close(source.utterances)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(llmP.StreamCalls) != 0 {
		t.Error("empty transcript reached the LLM")
	}
	if o.History().Turns() != 0 {
		t.Error("empty transcript was committed")
	}
	if got := eventsOfType(ch.TryDrain(), display.EventUserText); len(got) != 0 {
		t.Errorf("user_text published for empty transcript: %+v", got)
	}
}

func TestBargeInLeavesHistoryUnchanged(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	speaker := &fakeSpeaker{}
	ch := display.NewChannel()
	// The stream never yields: generation stays in flight until cancelled.
	llmP := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "never delivered"}},
		StreamDelay:  make(chan struct{}),
	}

	o, err := New(Config{
		Source:  source,
		STT:     &sttmock.Provider{Results: []stt.Transcript{{Text: "Tell me a long story."}}},
		LLM:     llmP,
		Speech:  speaker,
		Display: ch,
		Retry:   fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()

	source.utterances <- testUtterance()

	// Wait until generation has started, then barge in.
	deadline := time.Now().Add(2 * time.Second)
	for llmP.StreamCallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("generation never started")
		}
		time.Sleep(time.Millisecond)
	}
	source.speechStart <- struct{}{}

	close(source.utterances)
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if o.History().Turns() != 0 {
		t.Error("interrupted turn was committed to history")
	}
	if speaker.Cancels() == 0 {
		t.Error("barge-in did not cancel the speech pipeline")
	}
	if got := eventsOfType(ch.TryDrain(), display.EventAssistantFinal); len(got) != 0 {
		t.Errorf("assistant_final published for interrupted turn: %+v", got)
	}
}

func TestBargeInKeepsListeningPhase(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	ch := display.NewChannel()
	llmP := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "never delivered"}},
		StreamDelay:  make(chan struct{}),
	}

	o, err := New(Config{
		Source:  source,
		STT:     &sttmock.Provider{Results: []stt.Transcript{{Text: "Tell me a long story."}}},
		LLM:     llmP,
		Speech:  &fakeSpeaker{},
		Display: ch,
		Retry:   fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()

	source.utterances <- testUtterance()
	deadline := time.Now().Add(2 * time.Second)
	for llmP.StreamCallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("generation never started")
		}
		time.Sleep(time.Millisecond)
	}
	source.speechStart <- struct{}{}

	close(source.utterances)
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The interrupting utterance is being captured, so the last phase shown
	// must be listening; idle on top of it would flicker the display.
	statuses := eventsOfType(ch.TryDrain(), display.EventStatus)
	if len(statuses) == 0 {
		t.Fatal("no status events published")
	}
	if got := statuses[len(statuses)-1].Text; got != Listening.String() {
		t.Errorf("final status = %q, want %q", got, Listening.String())
	}
}

func TestCompletedTurnIgnoresLateOnset(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	speaker := &fakeSpeaker{}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello!"}, {FinishReason: "stop"}}}

	o, err := New(Config{
		Source:  source,
		STT:     &sttmock.Provider{Results: []stt.Transcript{{Text: "Hi."}}},
		LLM:     llmP,
		Speech:  speaker,
		Display: display.NewChannel(),
		Retry:   fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()

	source.utterances <- testUtterance()
	deadline := time.Now().Add(2 * time.Second)
	for o.History().Turns() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("turn never committed")
		}
		time.Sleep(time.Millisecond)
	}

	// The turn is committed, so this onset opens the next turn; the retired
	// watcher must not treat it as a barge-in.
	source.speechStart <- struct{}{}

	close(source.utterances)
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := speaker.Cancels(); got != 0 {
		t.Errorf("speech pipeline cancelled %d times for a post-turn onset, want 0", got)
	}
	if o.History().Turns() != 1 {
		t.Errorf("history turns = %d, want 1", o.History().Turns())
	}
}

func TestEnrollmentEndToEnd(t *testing.T) {
	t.Parallel()

	emb := make([]float32, 128)
	emb[0] = 0.42

	store, err := identity.NewFileStore(filepath.Join(t.TempDir(), "people.json"), identity.DefaultMatchThreshold)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	source := newFakeSource()
	speaker := &fakeSpeaker{}
	ch := display.NewChannel()
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Lovely to meet you, Alex!"},
		{FinishReason: "stop"},
	}}

	o, err := New(Config{
		Source:    source,
		STT:       &sttmock.Provider{Results: []stt.Transcript{{Text: "my name is Alex."}}},
		LLM:       llmP,
		Speech:    speaker,
		Display:   ch,
		Identity:  store,
		Perceptor: &fakePerceptor{perception: Perception{Caption: "a person at a desk", Embedding: emb}},
		Retry:     fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source.utterances <- testUtterance()
	close(source.utterances)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	people, err := store.People(ctx)
	if err != nil {
		t.Fatalf("People: %v", err)
	}
	if len(people) != 1 || people[0].Name != "Alex" {
		t.Fatalf("people = %+v, want one record named Alex", people)
	}

	evs := ch.TryDrain()
	if got := eventsOfType(evs, display.EventIdentity); len(got) != 1 || got[0].Name != "Alex" {
		t.Errorf("identity events = %+v", got)
	}

	last := llmP.StreamCalls[0].Req.Messages
	prompt := last[len(last)-1].Content
	if !strings.Contains(prompt, "[PERSON] Alex") {
		t.Errorf("prompt missing enrolled name: %q", prompt)
	}
	if !strings.Contains(prompt, "[SCENE] a person at a desk") {
		t.Errorf("prompt missing scene: %q", prompt)
	}

	if o.History().Turns() != 1 {
		t.Error("enrollment turn was not committed")
	}
}

func TestRecognisedVisitorNamedInPrompt(t *testing.T) {
	t.Parallel()

	emb := make([]float32, 128)
	emb[3] = 0.9

	store, err := identity.NewFileStore(filepath.Join(t.TempDir(), "people.json"), identity.DefaultMatchThreshold)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.Enroll(ctx, "Grace", emb); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	source := newFakeSource()
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Welcome back!"}, {FinishReason: "stop"}}}

	o, err := New(Config{
		Source:    source,
		STT:       &sttmock.Provider{Results: []stt.Transcript{{Text: "Good morning!"}}},
		LLM:       llmP,
		Speech:    &fakeSpeaker{},
		Display:   display.NewChannel(),
		Identity:  store,
		Perceptor: &fakePerceptor{perception: Perception{Embedding: emb}},
		Retry:     fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source.utterances <- testUtterance()
	close(source.utterances)
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := llmP.StreamCalls[0].Req.Messages
	if prompt := msgs[len(msgs)-1].Content; !strings.Contains(prompt, "[PERSON] Grace") {
		t.Errorf("prompt missing recognised name: %q", prompt)
	}
}

func TestGenerationFailureApologizes(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	speaker := &fakeSpeaker{}
	ch := display.NewChannel()

	o, err := New(Config{
		Source:  source,
		STT:     &sttmock.Provider{Results: []stt.Transcript{{Text: "Hello?"}}},
		LLM:     &llmmock.Provider{StreamErr: errors.New("backend unreachable")},
		Speech:  speaker,
		Display: ch,
		Retry:   fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source.utterances <- testUtterance()
	close(source.utterances)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if o.History().Turns() != 0 {
		t.Error("failed turn was committed")
	}
	if got := eventsOfType(ch.TryDrain(), display.EventErrorBanner); len(got) != 1 {
		t.Errorf("error_banner events = %d, want 1", len(got))
	}
	spoken := speaker.Spoken()
	if len(spoken) != 1 || spoken[0] != apologyText {
		t.Errorf("spoken = %q, want the apology", spoken)
	}
}

func TestPerceptionFailureDegradesTurn(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello!"}, {FinishReason: "stop"}}}

	o, err := New(Config{
		Source:    source,
		STT:       &sttmock.Provider{Results: []stt.Transcript{{Text: "Hi."}}},
		LLM:       llmP,
		Speech:    &fakeSpeaker{},
		Display:   display.NewChannel(),
		Perceptor: &fakePerceptor{err: errors.New("camera unplugged")},
		Retry:     fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source.utterances <- testUtterance()
	close(source.utterances)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if o.History().Turns() != 1 {
		t.Error("turn with failed perception was not committed")
	}
	msgs := llmP.StreamCalls[0].Req.Messages
	if prompt := msgs[len(msgs)-1].Content; strings.Contains(prompt, "[SCENE]") {
		t.Errorf("prompt contains scene despite capture failure: %q", prompt)
	}
}

func TestNewValidatesRequiredFields(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty config")
	}
	if _, err := New(Config{Source: newFakeSource()}); err == nil {
		t.Error("New accepted a config without STT")
	}
}
