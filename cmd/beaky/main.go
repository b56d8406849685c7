// Command beaky is the entry point for the Beaky conversational kiosk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/beakylabs/beaky/internal/app"
	"github.com/beakylabs/beaky/internal/config"
	"github.com/beakylabs/beaky/internal/observe"
	"github.com/beakylabs/beaky/pkg/provider/caption"
	captionoai "github.com/beakylabs/beaky/pkg/provider/caption/openai"
	"github.com/beakylabs/beaky/pkg/provider/llm"
	"github.com/beakylabs/beaky/pkg/provider/llm/anyllm"
	"github.com/beakylabs/beaky/pkg/provider/stt"
	"github.com/beakylabs/beaky/pkg/provider/stt/whisper"
	"github.com/beakylabs/beaky/pkg/provider/tts"
	"github.com/beakylabs/beaky/pkg/provider/tts/piper"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "beaky.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "beaky: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "beaky: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("beaky starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry providers ───────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "beaky",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("kiosk ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, mistral, groq, and llamacpp all share the
	// same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "mistral", "groq", "llamacpp",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	// whisper runs whisper.cpp in-process; Model is the ggml model path.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	// piper talks to a local Piper HTTP server; Model selects the voice.
	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []piper.Option{
			piper.WithOutputSampleRate(app.PlaybackSampleRate),
		}
		if entry.Model != "" {
			opts = append(opts, piper.WithVoice(entry.Model))
		}
		return piper.New(entry.BaseURL, opts...)
	})

	// ── Caption ───────────────────────────────────────────────────────────────

	reg.RegisterCaption("openai", func(entry config.ProviderEntry) (caption.Captioner, error) {
		var opts []captionoai.Option
		if entry.APIKey != "" {
			opts = append(opts, captionoai.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, captionoai.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, captionoai.WithPrompt(prompt))
		}
		return captionoai.New(entry.Model, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateLLM(withLanguage(cfg.Providers.LLM, cfg.Persona.Language))
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if name := cfg.Providers.LLMFallback.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLMFallback)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback provider %q: %w", name, err)
		}
		ps.LLMFallback = p
		slog.Info("provider created", "kind", "llm_fallback", "name", name)
	}

	s, err := reg.CreateSTT(withLanguage(cfg.Providers.STT, cfg.Persona.Language))
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = s
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	t, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = t
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if name := cfg.Providers.Caption.Name; name != "" {
		c, err := reg.CreateCaption(cfg.Providers.Caption)
		if err != nil {
			return nil, fmt.Errorf("create caption provider %q: %w", name, err)
		}
		ps.Caption = c
		slog.Info("provider created", "kind", "caption", "name", name)
	}

	return ps, nil
}

// withLanguage copies entry with the persona language filled into Options
// unless the entry already sets one.
func withLanguage(entry config.ProviderEntry, language string) config.ProviderEntry {
	if language == "" || optString(entry.Options, "language") != "" {
		return entry
	}
	opts := make(map[string]any, len(entry.Options)+1)
	for k, v := range entry.Options {
		opts[k] = v
	}
	opts["language"] = language
	entry.Options = opts
	return entry
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Beaky   startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("LLM fallback", cfg.Providers.LLMFallback.Name, cfg.Providers.LLMFallback.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Caption", cfg.Providers.Caption.Name, cfg.Providers.Caption.Model)
	fmt.Printf("║  Identity        : %-19s ║\n", string(cfg.Identity.Backend))
	if cfg.Identity.DetectorModel != "" {
		fmt.Printf("║  Face models     : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Face models     : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
