// Package kiosk runs the conversation turn state machine.
//
// One worker goroutine owns the whole cycle: an utterance arrives from the
// audio ingest, gets transcribed, the camera resolves who is talking and what
// the scene looks like, the LLM streams a reply that is simultaneously shown
// on the display and spoken sentence-by-sentence, and the committed exchange
// lands in the bounded history. A second speech onset during generation or
// playback is barge-in: the turn is cancelled wholesale, nothing is committed,
// and the machine is back listening before the interrupting utterance ends.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/beakylabs/beaky/internal/audioin"
	"github.com/beakylabs/beaky/internal/display"
	"github.com/beakylabs/beaky/internal/identity"
	"github.com/beakylabs/beaky/internal/resilience"
	"github.com/beakylabs/beaky/internal/speech"
	"github.com/beakylabs/beaky/pkg/provider/llm"
	"github.com/beakylabs/beaky/pkg/provider/stt"
)

// UnknownVisitor is the identity used in prompts when nobody is recognised.
const UnknownVisitor = "unknown visitor"

// apologyText is spoken when the language model stays unreachable after the
// retry budget.
const apologyText = "Sorry, I'm having trouble thinking right now. Give me a moment and try again."

// ---- collaborator interfaces ----

// UtteranceSource delivers finalized utterances and barge-in onsets.
// Satisfied by audioin.Ingest.
type UtteranceSource interface {
	Utterances() <-chan audioin.Utterance
	SpeechStart() <-chan struct{}
	Err() error
}

// Speaker is the synthesis pipeline. Satisfied by speech.Pipeline.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Wait(ctx context.Context) error
	Cancel()
}

// Perception is what one camera frame tells the kiosk: a scene caption for
// the prompt and, when face models are loaded, an embedding for identity.
type Perception struct {
	Caption   string
	Embedding []float32
	At        time.Time
}

// Perceptor captures and interprets a single frame. A nil Perceptor means the
// kiosk runs blind: no scene, anonymous greetings.
type Perceptor interface {
	Perceive(ctx context.Context) (Perception, error)
}

// IdentityStore is the subset of identity.Store the orchestrator needs.
type IdentityStore interface {
	Match(ctx context.Context, embedding []float32) (*identity.Person, bool, error)
	Enroll(ctx context.Context, name string, embedding []float32) (*identity.Person, error)
	Touch(ctx context.Context, name string) error
}

// TurnLogger records committed turns. Write failures degrade to a log line.
type TurnLogger interface {
	LogTurn(ctx context.Context, role, name, text string) error
}

// Metrics receives pipeline measurements. Implementations must be cheap and
// non-blocking; a nil Metrics disables instrumentation.
type Metrics interface {
	TurnFinished(d time.Duration)
	BargeIn()
	TokensStreamed(n int)
}

// ---- orchestrator ----

// Config holds the orchestrator's collaborators and tuning.
type Config struct {
	// Source delivers utterances and barge-in signals. Must not be nil.
	Source UtteranceSource

	// STT transcribes utterances. Must not be nil.
	STT stt.Provider

	// LLM generates replies. Must not be nil.
	LLM llm.Provider

	// Speech speaks sentence chunks. Must not be nil.
	Speech Speaker

	// Display receives UI events. Must not be nil.
	Display *display.Channel

	// Identity is the face-identity store. Nil runs anonymous-only.
	Identity IdentityStore

	// Perceptor captions the scene and extracts face embeddings. Nil skips
	// perception entirely.
	Perceptor Perceptor

	// Log persists committed turns. Optional.
	Log TurnLogger

	// Metrics receives measurements. Optional.
	Metrics Metrics

	// Persona is the system prompt defining how the kiosk talks.
	Persona string

	// Greeting is spoken once at startup.
	Greeting string

	// Language hints the STT backend (BCP-47, e.g. "en").
	Language string

	// Temperature and MaxTokens are passed through to completion requests.
	Temperature float64
	MaxTokens   int

	// MinSentenceLen is the minimum sentence-chunk length for synthesis.
	MinSentenceLen int

	// TokenBudget and MaxTurns bound the conversation history.
	TokenBudget int
	MaxTurns    int

	// Retry bounds collaborator retries (transcription, generation start).
	Retry resilience.RetryConfig
}

// Orchestrator drives the turn cycle. Create with New, then call Run from a
// single goroutine.
type Orchestrator struct {
	cfg     Config
	history *History
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, errors.New("kiosk: Source must not be nil")
	}
	if cfg.STT == nil {
		return nil, errors.New("kiosk: STT must not be nil")
	}
	if cfg.LLM == nil {
		return nil, errors.New("kiosk: LLM must not be nil")
	}
	if cfg.Speech == nil {
		return nil, errors.New("kiosk: Speech must not be nil")
	}
	if cfg.Display == nil {
		return nil, errors.New("kiosk: Display must not be nil")
	}
	return &Orchestrator{
		cfg:     cfg,
		history: NewHistory(cfg.LLM, cfg.TokenBudget, cfg.MaxTurns),
	}, nil
}

// Greet speaks and displays the startup greeting, if one is configured.
func (o *Orchestrator) Greet(ctx context.Context) {
	if o.cfg.Greeting == "" {
		return
	}
	o.cfg.Display.Publish(display.Event{Type: display.EventStatus, Text: "ready"})
	o.cfg.Display.Publish(display.Event{Type: display.EventAssistantFinal, Text: o.cfg.Greeting})
	if err := o.cfg.Speech.Speak(ctx, o.cfg.Greeting); err != nil {
		slog.Warn("greeting synthesis failed", "error", err)
	}
}

// Run processes utterances until ctx is cancelled or the audio source closes.
// It returns the ingest's terminal error when capture died, nil on a clean
// source shutdown, and ctx.Err() on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.publishPhase(Idle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-o.cfg.Source.SpeechStart():
			// Someone started talking while we were idle.
			o.publishPhase(Listening)

		case u, ok := <-o.cfg.Source.Utterances():
			if !ok {
				if err := o.cfg.Source.Err(); err != nil {
					return fmt.Errorf("kiosk: audio ingest failed: %w", err)
				}
				return nil
			}
			// A barged-in turn already published Listening for the utterance
			// now being captured; writing Idle over it would flicker the
			// display.
			if interrupted := o.runTurn(ctx, u); !interrupted {
				o.publishPhase(Idle)
			}
		}
	}
}

// History exposes the conversation record for inspection in tests.
func (o *Orchestrator) History() *History { return o.history }

// ---- turn cycle ----

// runTurn drives one utterance through the full cycle. It reports whether the
// turn ended in a barge-in, in which case the kiosk is already listening to
// the interrupting utterance.
func (o *Orchestrator) runTurn(ctx context.Context, u audioin.Utterance) (interrupted bool) {
	started := time.Now()

	// Consume the onset signal belonging to this utterance so it cannot
	// masquerade as a barge-in.
	select {
	case <-o.cfg.Source.SpeechStart():
	default:
	}

	o.publishPhase(Transcribing)
	text, err := o.transcribe(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Error("transcription failed", "error", err)
		o.cfg.Display.Publish(display.Event{Type: display.EventErrorBanner, Text: "I couldn't hear that properly."})
		return false
	}
	if text == "" {
		// No recognisable speech. Not an error, not user-visible.
		return false
	}
	o.cfg.Display.Publish(display.Event{Type: display.EventUserText, Text: text})

	o.publishPhase(Perceiving)
	name, scene := o.resolveIdentity(ctx, text)

	// Everything from here on is cancellable by barge-in. The watcher owns
	// the cancellation; the turn body only ever observes turnCtx.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	barged := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-o.cfg.Source.SpeechStart():
			close(barged)
			o.cfg.Speech.Cancel()
			cancelTurn()
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.BargeIn()
			}
		case <-turnCtx.Done():
		}
	}()
	bargedIn := func() bool {
		select {
		case <-barged:
			return true
		default:
			return false
		}
	}

	o.publishPhase(Generating)
	reply, genErr := o.generate(turnCtx, name, scene, text)

	if bargedIn() {
		o.publishPhase(Listening)
		return true
	}
	if genErr != nil {
		if errors.Is(genErr, context.Canceled) {
			return bargedIn()
		}
		slog.Error("reply generation failed", "error", genErr)
		o.apologize(ctx)
		return false
	}

	o.cfg.Display.Publish(display.Event{Type: display.EventAssistantFinal, Text: reply})

	o.publishPhase(Speaking)
	if err := o.cfg.Speech.Wait(turnCtx); err != nil {
		if bargedIn() {
			o.publishPhase(Listening)
			return true
		}
		return false
	}

	// Playback finished: retire the watcher before committing so a speech
	// onset from here on belongs to the next turn instead of triggering a
	// pointless Speech.Cancel.
	cancelTurn()
	<-watchDone

	o.history.Commit(text, reply)
	o.logTurn(ctx, "user", name, text)
	o.logTurn(ctx, "assistant", "", reply)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.TurnFinished(time.Since(started))
	}
	return false
}

func (o *Orchestrator) transcribe(ctx context.Context, u audioin.Utterance) (string, error) {
	var transcript *stt.Transcript
	err := resilience.Retry(ctx, o.retryCfg("transcription"), func(ctx context.Context) error {
		t, err := o.cfg.STT.Transcribe(ctx, stt.Request{
			PCM:        u.PCM,
			SampleRate: u.SampleRate,
			Channels:   u.Channels,
			Language:   o.cfg.Language,
		})
		if err != nil {
			return err
		}
		transcript = t
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(transcript.Text), nil
}

// resolveIdentity runs perception once per turn: enrollment intent takes
// priority, otherwise the embedding is matched against the store. All failure
// modes degrade to an anonymous turn.
func (o *Orchestrator) resolveIdentity(ctx context.Context, text string) (name, scene string) {
	var p Perception
	if o.cfg.Perceptor != nil {
		var err error
		p, err = o.cfg.Perceptor.Perceive(ctx)
		if err != nil {
			slog.Warn("perception failed, continuing without scene", "error", err)
			p = Perception{}
		}
	}
	scene = p.Caption

	if enrollName, ok := EnrollmentName(text); ok {
		return o.enroll(ctx, enrollName, p.Embedding), scene
	}

	if o.cfg.Identity == nil || p.Embedding == nil {
		return "", scene
	}
	person, found, err := o.cfg.Identity.Match(ctx, p.Embedding)
	if err != nil {
		slog.Warn("identity match failed", "error", err)
		return "", scene
	}
	if !found {
		return "", scene
	}
	if err := o.cfg.Identity.Touch(ctx, person.Name); err != nil {
		slog.Warn("identity touch failed", "name", person.Name, "error", err)
	}
	o.cfg.Display.Publish(display.Event{Type: display.EventIdentity, Name: person.Name})
	return person.Name, scene
}

// enroll binds the spoken name to the captured face. Without a store or an
// embedding the name is still used for this turn's phrasing, it just is not
// remembered.
func (o *Orchestrator) enroll(ctx context.Context, name string, embedding []float32) string {
	if o.cfg.Identity == nil || embedding == nil {
		slog.Info("enrollment without identity capability, name bound for this turn only", "name", name)
		o.cfg.Display.Publish(display.Event{Type: display.EventIdentity, Name: name})
		return name
	}
	person, err := o.cfg.Identity.Enroll(ctx, name, embedding)
	if err != nil {
		slog.Warn("enrollment failed", "name", name, "error", err)
		return name
	}
	o.cfg.Display.Publish(display.Event{Type: display.EventIdentity, Name: person.Name})
	return person.Name
}

// generate streams the reply: every token is shown on the display and fed to
// the sentence splitter, finished sentences go to synthesis immediately. The
// returned string is the full reply accumulated so far, even on error.
func (o *Orchestrator) generate(ctx context.Context, name, scene, text string) (string, error) {
	req := llm.CompletionRequest{
		Messages:     append(o.history.Messages(), llm.Message{Role: "user", Content: buildUserPrompt(scene, name, text)}),
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
		SystemPrompt: o.cfg.Persona,
	}

	var stream <-chan llm.Chunk
	err := resilience.Retry(ctx, o.retryCfg("generation"), func(ctx context.Context) error {
		s, err := o.cfg.LLM.StreamCompletion(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return "", err
	}

	splitter := speech.NewSplitter(o.cfg.MinSentenceLen)
	var reply strings.Builder
	tokens := 0

recv:
	for {
		select {
		case <-ctx.Done():
			// Free the producer; the provider closes the channel on cancel.
			go func() {
				for range stream {
				}
			}()
			return reply.String(), ctx.Err()

		case chunk, ok := <-stream:
			if !ok {
				break recv
			}
			if chunk.FinishReason == "error" {
				return reply.String(), fmt.Errorf("kiosk: completion stream: %s", chunk.Text)
			}
			if chunk.Text == "" {
				continue
			}
			tokens++
			reply.WriteString(chunk.Text)
			o.cfg.Display.Publish(display.Event{Type: display.EventAssistantPartial, Text: chunk.Text})
			for _, sentence := range splitter.Feed(chunk.Text) {
				if err := o.cfg.Speech.Speak(ctx, sentence); err != nil {
					slog.Warn("sentence dispatch failed", "error", err)
				}
			}
		}
	}

	if tail := splitter.Flush(); tail != "" {
		if err := o.cfg.Speech.Speak(ctx, tail); err != nil {
			slog.Warn("sentence dispatch failed", "error", err)
		}
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.TokensStreamed(tokens)
	}
	return reply.String(), nil
}

// apologize degrades a failed turn to a spoken and displayed apology. The
// failed turn is never committed to history.
func (o *Orchestrator) apologize(ctx context.Context) {
	o.cfg.Speech.Cancel()
	o.cfg.Display.Publish(display.Event{Type: display.EventErrorBanner, Text: apologyText})
	if err := o.cfg.Speech.Speak(ctx, apologyText); err != nil {
		return
	}
	if err := o.cfg.Speech.Wait(ctx); err != nil {
		slog.Debug("apology playback interrupted", "error", err)
	}
}

func (o *Orchestrator) logTurn(ctx context.Context, role, name, text string) {
	if o.cfg.Log == nil {
		return
	}
	if err := o.cfg.Log.LogTurn(ctx, role, name, text); err != nil {
		slog.Warn("transcript log write failed", "role", role, "error", err)
	}
}

func (o *Orchestrator) publishPhase(p Phase) {
	o.cfg.Display.Publish(display.Event{Type: display.EventStatus, Text: p.String()})
}

func (o *Orchestrator) retryCfg(name string) resilience.RetryConfig {
	cfg := o.cfg.Retry
	cfg.Name = name
	return cfg
}

// buildUserPrompt prefixes the transcript with what the camera knows. The
// model sees the scene and the speaker's name without either polluting the
// committed history text.
func buildUserPrompt(scene, name, text string) string {
	var b strings.Builder
	if scene != "" {
		b.WriteString("[SCENE] ")
		b.WriteString(scene)
		b.WriteString("\n")
	}
	if name == "" {
		name = UnknownVisitor
	}
	b.WriteString("[PERSON] ")
	b.WriteString(name)
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}
