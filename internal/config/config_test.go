package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDurationJSON(t *testing.T) {
	d := Duration{90 * time.Second}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"1m30s"` {
		t.Errorf("marshaled = %s", data)
	}

	var decoded Duration
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Duration != 90*time.Second {
		t.Errorf("decoded = %v", decoded.Duration)
	}

	if err := json.Unmarshal([]byte(`"not a duration"`), &decoded); err == nil {
		t.Error("invalid duration must fail to unmarshal")
	}
}

func TestNewDefaults(t *testing.T) {
	cfg := New()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Translation.ChunkSize != 10000 {
		t.Errorf("ChunkSize = %d", cfg.Translation.ChunkSize)
	}
	if cfg.Translation.MaxWorkers != 1 {
		t.Errorf("MaxWorkers = %d", cfg.Translation.MaxWorkers)
	}
	if cfg.Translation.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d", cfg.Translation.RequestsPerMinute)
	}
	if !cfg.Translation.EnableSafetyRetry {
		t.Error("safety retry must default on")
	}
	if cfg.Translation.PromptTemplate == "" {
		t.Error("prompt template must have a default")
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := New()
	cfg.Server.Port = 9090
	cfg.API.Key = "sk-test"
	cfg.Translation.Model = "custom-model"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := New()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Server.Port != 9090 || loaded.API.Key != "sk-test" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Translation.Model != "custom-model" {
		t.Errorf("Model = %q", loaded.Translation.Model)
	}
	if loaded.Server.ReadTimeout.Duration != 30*time.Second {
		t.Errorf("ReadTimeout = %v", loaded.Server.ReadTimeout.Duration)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("TRANSLATOR_API_KEY", "env-key")
	t.Setenv("TRANSLATOR_MODEL", "env-model")
	t.Setenv("PORT", "3000")
	t.Setenv("TRANSLATOR_RPM", "42")
	t.Setenv("TRANSLATOR_MAX_WORKERS", "7")
	t.Setenv("TRANSLATOR_BASE_URL", "https://example.com/v1")

	cfg := New()
	cfg.LoadFromEnv()

	if cfg.API.Key != "env-key" {
		t.Errorf("Key = %q", cfg.API.Key)
	}
	if cfg.API.BaseURL != "https://example.com/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Translation.Model != "env-model" {
		t.Errorf("Model = %q", cfg.Translation.Model)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Translation.RequestsPerMinute != 42 {
		t.Errorf("RPM = %d", cfg.Translation.RequestsPerMinute)
	}
	if cfg.Translation.MaxWorkers != 7 {
		t.Errorf("MaxWorkers = %d", cfg.Translation.MaxWorkers)
	}
}

func TestLoadFromEnvFallbackKey(t *testing.T) {
	t.Setenv("TRANSLATOR_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg := New()
	cfg.LoadFromEnv()

	if cfg.API.Key != "openai-key" {
		t.Errorf("Key = %q, want OPENAI_API_KEY fallback", cfg.API.Key)
	}
}

func TestLoadFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("TRANSLATOR_RPM", "-5")

	cfg := New()
	cfg.LoadFromEnv()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default kept", cfg.Server.Port)
	}
	if cfg.Translation.RequestsPerMinute != 10 {
		t.Errorf("RPM = %d, want default kept", cfg.Translation.RequestsPerMinute)
	}
}
