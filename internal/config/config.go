// Package config loads and validates gateway configuration.
//
// Sources, lowest to highest precedence: built-in defaults, an optional YAML
// file (ollama-proxy.yaml), environment variables (a .env file is loaded
// first if present). The resulting Config is immutable for the process
// lifetime and passed into the core by reference.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TelemetryConfig controls the sqlite-backed request event store.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// Config holds all gateway settings.
type Config struct {
	// OllamaHost is the backend base URL, e.g. http://127.0.0.1:11434.
	OllamaHost string `yaml:"ollama_host"`

	// ListenAddr is the client-facing bind address.
	ListenAddr string `yaml:"listen_addr"`

	// MaxEmbeddingInputLength is the per-input character cap for embeddings.
	MaxEmbeddingInputLength int `yaml:"max_embedding_input_length"`

	// AutoChunking enables splitting oversized embedding inputs.
	AutoChunking bool `yaml:"auto_chunking"`

	// MaxContextOverride caps num_ctx regardless of model capabilities.
	MaxContextOverride int `yaml:"max_context_override"`

	// RequestTimeoutSeconds bounds each outbound backend call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	LogLevel  string          `yaml:"log_level"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RequestTimeout returns the outbound call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "ollama-proxy.yaml"

// Load builds the configuration from defaults, an optional YAML file and
// environment variables.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		OllamaHost:              DefaultOllamaHost,
		ListenAddr:              DefaultListenAddr,
		MaxEmbeddingInputLength: DefaultMaxEmbeddingInputLength,
		AutoChunking:            true,
		MaxContextOverride:      DefaultMaxContextOverride,
		RequestTimeoutSeconds:   int(DefaultRequestTimeout / time.Second),
		LogLevel:                "info",
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.OllamaHost = v
	}
	if v := os.Getenv("PROXY_PORT"); v != "" {
		cfg.ListenAddr = "127.0.0.1:" + v
	}
	if v := os.Getenv("PROXY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := envInt("MAX_EMBEDDING_INPUT_LENGTH"); ok {
		cfg.MaxEmbeddingInputLength = v
	}
	if v, ok := envBool("AUTO_CHUNKING"); ok {
		cfg.AutoChunking = v
	}
	if v, ok := envInt("MAX_CONTEXT_OVERRIDE"); ok {
		cfg.MaxContextOverride = v
	}
	if v, ok := envInt("REQUEST_TIMEOUT_SECONDS"); ok {
		cfg.RequestTimeoutSeconds = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TELEMETRY_DB"); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.DBPath = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate checks configured limits against their documented minimums.
func (c *Config) Validate() error {
	if c.OllamaHost == "" {
		return fmt.Errorf("ollama_host must not be empty")
	}
	if c.MaxEmbeddingInputLength < MinEmbeddingInputLength {
		return fmt.Errorf("max_embedding_input_length must be >= %d, got %d",
			MinEmbeddingInputLength, c.MaxEmbeddingInputLength)
	}
	if c.MaxContextOverride < MinContextOverride {
		return fmt.Errorf("max_context_override must be >= %d, got %d",
			MinContextOverride, c.MaxContextOverride)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive, got %d", c.RequestTimeoutSeconds)
	}
	return nil
}
