// Package app wires all Beaky subsystems into a running kiosk.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the processing loops, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithSource, WithSink,
// WithIdentityStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/beakylabs/beaky/internal/audioin"
	"github.com/beakylabs/beaky/internal/config"
	"github.com/beakylabs/beaky/internal/display"
	"github.com/beakylabs/beaky/internal/health"
	"github.com/beakylabs/beaky/internal/identity"
	"github.com/beakylabs/beaky/internal/kiosk"
	"github.com/beakylabs/beaky/internal/observe"
	"github.com/beakylabs/beaky/internal/resilience"
	"github.com/beakylabs/beaky/internal/speech"
	"github.com/beakylabs/beaky/internal/transcriptlog"
	"github.com/beakylabs/beaky/internal/vision"
	"github.com/beakylabs/beaky/pkg/audio/capture"
	"github.com/beakylabs/beaky/pkg/audio/playback"
	"github.com/beakylabs/beaky/pkg/provider/caption"
	"github.com/beakylabs/beaky/pkg/provider/llm"
	"github.com/beakylabs/beaky/pkg/provider/stt"
	"github.com/beakylabs/beaky/pkg/provider/tts"
	"github.com/beakylabs/beaky/pkg/provider/vad"
	"github.com/beakylabs/beaky/pkg/provider/vad/energy"
)

// PlaybackSampleRate is the rate the speaker sink runs at. TTS factories
// resample their output to this rate so the sink never has to renegotiate.
const PlaybackSampleRate = 22050

// Providers holds one interface value per provider slot. The first four are
// required; Caption and LLMFallback are optional. Populated by main.go via
// the config registry.
type Providers struct {
	LLM         llm.Provider
	LLMFallback llm.Provider
	STT         stt.Provider
	TTS         tts.Provider
	Caption     caption.Captioner
}

// App owns all subsystem lifetimes and drives the kiosk pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	channel  *display.Channel
	server   *display.Server
	metrics  *observe.Metrics
	pipeline *speech.Pipeline
	ingest   *audioin.Ingest
	orch     *kiosk.Orchestrator

	// Injectable collaborators. Nil means New builds the real thing.
	source    capture.Source
	sink      playback.Sink
	store     identity.Store
	perceptor kiosk.Perceptor

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of opening the microphone.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects a playback sink instead of opening the speaker.
func WithSink(s playback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithIdentityStore injects an identity store instead of creating one from config.
func WithIdentityStore(s identity.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPerceptor injects a perceptor instead of opening the camera.
func WithPerceptor(p kiosk.Perceptor) Option {
	return func(a *App) { a.perceptor = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// Hardware that cannot be opened degrades rather than fails where the session
// can continue without it: a missing camera or face models disable identity,
// an unreachable identity backend runs the session anonymous-only. A missing
// microphone is fatal.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, fmt.Errorf("app: llm, stt, and tts providers are required")
	}

	a.metrics = observe.DefaultMetrics()
	a.channel = display.NewChannel()

	// ── 1. Identity store ────────────────────────────────────────────────
	a.initIdentity(ctx)

	// ── 2. Camera + face models + captioner ──────────────────────────────
	a.initPerception()

	// ── 3. Microphone + VAD ingest ───────────────────────────────────────
	if err := a.initIngest(); err != nil {
		return nil, fmt.Errorf("app: init audio ingest: %w", err)
	}

	// ── 4. Speaker + speech pipeline ─────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech pipeline: %w", err)
	}

	// ── 5. Transcript log ────────────────────────────────────────────────
	var turnLog kiosk.TurnLogger
	var transcripts *transcriptlog.Store
	if cfg.Transcript.Path != "" {
		store, err := transcriptlog.Open(ctx, cfg.Transcript.Path)
		if err != nil {
			slog.Warn("transcript log unavailable, turns will not be persisted", "err", err)
		} else {
			turnLog = store
			transcripts = store
			a.closers = append(a.closers, store.Close)
		}
	}

	// ── 6. Display server ────────────────────────────────────────────────
	a.server = display.NewServer(cfg.Server.ListenAddr, a.channel, a.metricsHandler(),
		display.WithMiddleware(observe.Middleware(a.metrics)),
		display.WithHealth(a.buildHealth(transcripts)))
	if err := a.metrics.ObserveRenderClients(a.server.ClientCount); err != nil {
		slog.Warn("render client gauge registration failed", "err", err)
	}

	// ── 7. Orchestrator ──────────────────────────────────────────────────
	orch, err := kiosk.New(kiosk.Config{
		Source:         a.ingest,
		STT:            providers.STT,
		LLM:            a.buildLLM(),
		Speech:         a.pipeline,
		Display:        a.channel,
		Identity:       a.kioskIdentity(),
		Perceptor:      a.perceptor,
		Log:            turnLog,
		Metrics:        a.metrics,
		Persona:        cfg.Persona.SystemPrompt,
		Greeting:       cfg.Persona.Greeting,
		Language:       cfg.Persona.Language,
		MinSentenceLen: cfg.Speech.MinSentenceLen,
		TokenBudget:    cfg.History.TokenBudget,
		MaxTurns:       cfg.History.MaxTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create orchestrator: %w", err)
	}
	a.orch = orch

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initIdentity opens the configured identity backend. Failure degrades to an
// anonymous-only session rather than aborting startup.
func (a *App) initIdentity(ctx context.Context) {
	if a.store != nil {
		return
	}

	switch a.cfg.Identity.Backend {
	case config.BackendPostgres:
		store, err := identity.NewPGStore(ctx, a.cfg.Identity.PostgresDSN, a.cfg.Identity.MatchThreshold)
		if err != nil {
			slog.Warn("identity store unavailable, running anonymous-only", "backend", "postgres", "err", err)
			return
		}
		if err := store.Migrate(ctx); err != nil {
			slog.Warn("identity store migration failed, running anonymous-only", "err", err)
			store.Close()
			return
		}
		a.store = store

	default:
		if a.cfg.Identity.Path == "" {
			return
		}
		store, err := identity.NewFileStore(a.cfg.Identity.Path, a.cfg.Identity.MatchThreshold)
		if err != nil {
			slog.Warn("identity store unavailable, running anonymous-only", "backend", "file", "err", err)
			return
		}
		a.store = store
	}

	a.closers = append(a.closers, a.store.Close)
}

// initPerception builds the camera-backed perceptor from the face models and
// captioner. Missing pieces disable the corresponding capability.
func (a *App) initPerception() {
	if a.perceptor != nil {
		return
	}

	var embedder *vision.FaceEmbedder
	if a.cfg.Identity.DetectorModel != "" {
		e, err := vision.NewFaceEmbedder(a.cfg.Identity.DetectorModel, a.cfg.Identity.RecognizerModel)
		if err != nil {
			slog.Warn("face models unavailable, visitors will not be recognised", "err", err)
		} else {
			embedder = e
			a.closers = append(a.closers, e.Close)
		}
	}

	if embedder == nil && a.providers.Caption == nil {
		// Nothing to perceive with; the kiosk runs blind.
		return
	}

	camera := vision.NewCamera(a.cfg.Identity.CameraDevice)
	a.closers = append(a.closers, camera.Close)
	a.perceptor = NewPerceptor(camera, embedder, a.providers.Caption)
}

// initIngest opens the microphone (unless injected) and builds the VAD-gated
// utterance stream.
func (a *App) initIngest() error {
	if a.source == nil {
		if a.cfg.Audio.Device != "" {
			slog.Warn("audio.device selection is not supported by the capture backend, using the system default")
		}
		src, err := capture.NewMalgoSource(capture.Config{
			SampleRate:  a.cfg.Audio.SampleRate,
			Channels:    1,
			FrameSizeMs: a.cfg.Audio.FrameSizeMs,
		})
		if err != nil {
			return err
		}
		a.source = src
		a.closers = append(a.closers, src.Close)
	}

	ingest, err := audioin.New(a.source, energy.New(), audioin.Config{
		VAD: vad.Config{
			SampleRate:        a.cfg.Audio.SampleRate,
			FrameSizeMs:       a.cfg.Audio.FrameSizeMs,
			SpeechThreshold:   a.cfg.Audio.SpeechThreshold,
			MinSpeechMs:       a.cfg.Audio.MinSpeechMs,
			TrailingSilenceMs: a.cfg.Audio.TrailingSilenceMs,
		},
		MinUtteranceMs: a.cfg.Audio.MinUtteranceMs,
	})
	if err != nil {
		return err
	}
	a.ingest = ingest
	return nil
}

// initSpeech opens the speaker sink (unless injected) and builds the
// sentence-chunk synthesis pipeline.
func (a *App) initSpeech() error {
	if a.sink == nil {
		sink, err := playback.NewOtoSink(PlaybackSampleRate, 1)
		if err != nil {
			return err
		}
		a.sink = sink
		a.closers = append(a.closers, sink.Close)
	}

	a.pipeline = speech.NewPipeline(a.providers.TTS, a.sink,
		speech.WithLookahead(a.cfg.Speech.Lookahead))
	a.closers = append(a.closers, a.pipeline.Close)

	if err := a.metrics.ObserveQueueDepth(a.pipeline.QueueDepth); err != nil {
		slog.Warn("queue depth gauge registration failed", "err", err)
	}
	return nil
}

// buildLLM wraps the primary model in a fallback group when a secondary is
// configured.
func (a *App) buildLLM() llm.Provider {
	if a.providers.LLMFallback == nil {
		return a.providers.LLM
	}
	group := resilience.NewFallbackGroup(a.providers.LLM, a.cfg.Providers.LLM.Name,
		resilience.FallbackConfig{})
	group.AddFallback(a.cfg.Providers.LLMFallback.Name, a.providers.LLMFallback)
	return newFallbackLLM(group, a.providers.LLM)
}

// kioskIdentity adapts the concrete store to the orchestrator's interface,
// preserving nil-ness (a nil identity.Store in a non-nil interface would
// defeat the orchestrator's degraded-mode check).
func (a *App) kioskIdentity() kiosk.IdentityStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) metricsHandler() http.Handler {
	return promhttp.Handler()
}

// buildHealth assembles the readiness probes: the capture loop must still be
// running and the transcript database, when configured, must answer a ping.
func (a *App) buildHealth(transcripts *transcriptlog.Store) *health.Handler {
	checkers := []health.Checker{
		{
			Name: "microphone",
			Check: func(context.Context) error {
				select {
				case <-a.ingest.Done():
					if err := a.ingest.Err(); err != nil {
						return err
					}
					return fmt.Errorf("capture loop stopped")
				default:
					return nil
				}
			},
		},
	}
	if transcripts != nil {
		checkers = append(checkers, health.Checker{
			Name:  "transcript_log",
			Check: transcripts.Ping,
		})
	}
	return health.New(checkers...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the capture loop, display server, and orchestrator, then blocks
// until ctx is cancelled or a fatal subsystem error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.ingest.Start(ctx); err != nil {
		return fmt.Errorf("app: start audio ingest: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})
	g.Go(func() error {
		a.orch.Greet(ctx)
		return a.orch.Run(ctx)
	})

	slog.Info("kiosk running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"identity", a.store != nil,
		"perception", a.perceptor != nil,
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.pipeline.Cancel()
		a.channel.Close()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
