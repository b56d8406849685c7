package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beakylabs/beaky/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
providers:
  llm:
    name: ollama
  stt:
    name: whisper
  tts:
    name: piper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingCoreProviders(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for missing providers, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"providers.llm", "providers.stt", "providers.tts"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_PostgresBackendRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: ollama
  stt:
    name: whisper
  tts:
    name: piper
identity:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without DSN, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_InvalidIdentityBackend(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: ollama
  stt:
    name: whisper
  tts:
    name: piper
identity:
  backend: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid identity backend, got nil")
	}
	if !strings.Contains(err.Error(), "identity.backend") {
		t.Errorf("error should mention identity.backend, got: %v", err)
	}
}

func TestValidate_FaceModelsMustBePaired(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: ollama
  stt:
    name: whisper
  tts:
    name: piper
identity:
  detector_model: /models/yunet.onnx
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for detector model without recognizer model, got nil")
	}
	if !strings.Contains(err.Error(), "recognizer_model") {
		t.Errorf("error should mention recognizer_model, got: %v", err)
	}
}

func TestValidate_SpeechThresholdRange(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: ollama
  stt:
    name: whisper
  tts:
    name: piper
audio:
  speech_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range speech_threshold, got nil")
	}
	if !strings.Contains(err.Error(), "speech_threshold") {
		t.Errorf("error should mention speech_threshold, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
identity:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("BEAKY_TEST_KEY", "sk-123")
	yaml := `
providers:
  llm:
    name: ollama
  stt:
    name: whisper
  tts:
    name: piper
  caption:
    name: openai
    api_key: ${BEAKY_TEST_KEY}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.Caption.APIKey != "sk-123" {
		t.Errorf("caption.api_key = %q, want expanded env value", cfg.Providers.Caption.APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "beaky.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Persona.Greeting != "Hello! Come say hi." {
		t.Errorf("persona.greeting: got %q", cfg.Persona.Greeting)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "ollama" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"ollama\"")
	}
}
