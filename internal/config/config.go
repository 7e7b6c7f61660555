package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/translation"
)

// Duration is a custom type that handles JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

type ServerConfig struct {
	Port         int      `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
}

type APIConfig struct {
	Key string `json:"api_key"`
	// BaseURL points the client at any OpenAI-compatible endpoint. Empty
	// means the provider default.
	BaseURL string `json:"base_url,omitempty"`
}

type AppConfig struct {
	TempDir   string `json:"temp_dir"`
	OutputDir string `json:"output_dir"`
}

type Config struct {
	Server      ServerConfig         `json:"server"`
	API         APIConfig            `json:"api"`
	Translation translation.Settings `json:"translation"`
	App         AppConfig            `json:"app"`
}

func New() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
		},
		Translation: translation.Settings{
			ChunkSize:          10000,
			MaxWorkers:         1,
			RequestsPerMinute:  10,
			Model:              "gpt-4o",
			Temperature:        0.7,
			TopP:               0.9,
			MaxTokens:          8192,
			PromptTemplate:     translation.DefaultPromptTemplate,
			EnableSafetyRetry:  true,
			MinSafetyChunkSize: 100,
			MaxSafetyAttempts:  3,
			EnableGlossary:     true,
			GlossaryMaxEntries: 20,
			GlossaryMaxChars:   2000,
			EPUBChunkSize:      4000,
			EPUBMaxNodes:       80,
		},
		App: AppConfig{
			TempDir:   "tmp",
			OutputDir: "output",
		},
	}
}

func (c *Config) LoadFromFile(filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) SaveToFile(filepath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadFromEnv overrides file settings with environment variables. A .env
// file beside the working directory is honored first.
func (c *Config) LoadFromEnv() {
	_ = godotenv.Load()

	if apiKey := os.Getenv("TRANSLATOR_API_KEY"); apiKey != "" {
		c.API.Key = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && c.API.Key == "" {
		c.API.Key = apiKey
	}
	if baseURL := os.Getenv("TRANSLATOR_BASE_URL"); baseURL != "" {
		c.API.BaseURL = baseURL
	}
	if model := os.Getenv("TRANSLATOR_MODEL"); model != "" {
		c.Translation.Model = model
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if rpm := os.Getenv("TRANSLATOR_RPM"); rpm != "" {
		if v, err := strconv.Atoi(rpm); err == nil && v > 0 {
			c.Translation.RequestsPerMinute = v
		}
	}
	if workers := os.Getenv("TRANSLATOR_MAX_WORKERS"); workers != "" {
		if v, err := strconv.Atoi(workers); err == nil && v > 0 {
			c.Translation.MaxWorkers = v
		}
	}
	if tempDir := os.Getenv("TEMP_DIR"); tempDir != "" {
		c.App.TempDir = tempDir
	}
	if outputDir := os.Getenv("OUTPUT_DIR"); outputDir != "" {
		c.App.OutputDir = outputDir
	}
}

// Load loads configuration with the following priority:
// 1. Command line flags (handled in main.go)
// 2. Environment variables
// 3. Configuration file (config.json)
// 4. Default values
func Load(configPath string) (*Config, error) {
	cfg := New()

	if err := ensureConfigFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to ensure config file: %w", err)
	}

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	cfg.LoadFromEnv()

	return cfg, nil
}

// ensureConfigFile creates a default config.json if none exists yet.
func ensureConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	fmt.Printf("No config file found, creating %s with defaults...\n", configPath)
	cfg := New()
	return cfg.SaveToFile(configPath)
}

// GetConfigPath returns the path to the config file. It looks for
// config.json in the same directory as the executable.
func GetConfigPath() string {
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		return filepath.Join(execDir, "config.json")
	}

	if pwd, err := os.Getwd(); err == nil {
		return filepath.Join(pwd, "config.json")
	}

	return "config.json"
}
