package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":     {"openai", "anthropic", "ollama", "gemini", "mistral", "groq", "llamacpp"},
	"stt":     {"whisper"},
	"tts":     {"piper"},
	"caption": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Environment references of the form ${VAR} are
// expanded before decoding so secrets can stay out of the file. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return ""
	})

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset numeric and enum fields with their documented
// defaults. It never overrides an explicitly configured value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.FrameSizeMs == 0 {
		cfg.Audio.FrameSizeMs = 30
	}
	if cfg.Audio.SpeechThreshold == 0 {
		cfg.Audio.SpeechThreshold = 0.03
	}
	if cfg.Audio.MinSpeechMs == 0 {
		cfg.Audio.MinSpeechMs = 90
	}
	if cfg.Audio.TrailingSilenceMs == 0 {
		cfg.Audio.TrailingSilenceMs = 1500
	}
	if cfg.Audio.MinUtteranceMs == 0 {
		cfg.Audio.MinUtteranceMs = 300
	}
	if cfg.Identity.Backend == "" {
		cfg.Identity.Backend = BackendFile
	}
	if cfg.History.TokenBudget == 0 {
		cfg.History.TokenBudget = 4096
	}
	if cfg.History.MaxTurns == 0 {
		cfg.History.MaxTurns = 20
	}
	if cfg.Speech.Lookahead == 0 {
		cfg.Speech.Lookahead = 3
	}
	if cfg.Speech.MinSentenceLen == 0 {
		cfg.Speech.MinSentenceLen = 12
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Unknown provider names only warn; they may be third-party.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("caption", cfg.Providers.Caption.Name)

	// The cascade cannot run without its three core stages.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.LLMFallback.Name != "" && cfg.Providers.LLMFallback.Name == cfg.Providers.LLM.Name &&
		cfg.Providers.LLMFallback.Model == cfg.Providers.LLM.Model {
		slog.Warn("providers.llm_fallback is identical to providers.llm; fallback will not add resilience")
	}

	// Audio
	if cfg.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is too low; minimum 8000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSizeMs <= 0 || cfg.Audio.FrameSizeMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_size_ms %d is out of range (0, 100]", cfg.Audio.FrameSizeMs))
	}
	if cfg.Audio.SpeechThreshold < 0 || cfg.Audio.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.speech_threshold %.3f is out of range [0.0, 1.0]", cfg.Audio.SpeechThreshold))
	}
	if cfg.Audio.TrailingSilenceMs < cfg.Audio.FrameSizeMs {
		errs = append(errs, fmt.Errorf("audio.trailing_silence_ms %d is shorter than one frame (%d ms)", cfg.Audio.TrailingSilenceMs, cfg.Audio.FrameSizeMs))
	}

	// Identity
	if !cfg.Identity.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("identity.backend %q is invalid; valid values: file, postgres", cfg.Identity.Backend))
	}
	if cfg.Identity.Backend == BackendFile && cfg.Identity.Path == "" {
		slog.Warn("identity.path is empty; enrolled faces will not persist across restarts")
	}
	if cfg.Identity.Backend == BackendPostgres && cfg.Identity.PostgresDSN == "" {
		errs = append(errs, errors.New("identity.postgres_dsn is required when identity.backend is postgres"))
	}
	if cfg.Identity.MatchThreshold < 0 {
		errs = append(errs, fmt.Errorf("identity.match_threshold %.3f must not be negative", cfg.Identity.MatchThreshold))
	}
	if (cfg.Identity.DetectorModel == "") != (cfg.Identity.RecognizerModel == "") {
		errs = append(errs, errors.New("identity.detector_model and identity.recognizer_model must be set together"))
	}
	if cfg.Identity.DetectorModel == "" {
		slog.Warn("no face models configured; visitors will not be recognised")
	}

	// Caption availability
	if cfg.Providers.Caption.Name == "" {
		slog.Warn("providers.caption is not configured; replies will not reference the scene")
	}

	// Speech
	if cfg.Speech.Lookahead < 1 {
		errs = append(errs, fmt.Errorf("speech.lookahead %d must be at least 1", cfg.Speech.Lookahead))
	}
	if cfg.Speech.MinSentenceLen < 1 {
		errs = append(errs, fmt.Errorf("speech.min_sentence_len %d must be at least 1", cfg.Speech.MinSentenceLen))
	}

	// History
	if cfg.History.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("history.max_turns %d must be at least 1", cfg.History.MaxTurns))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
