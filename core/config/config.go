// Package config loads the querymend.yaml application config.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration unmarshals YAML strings like "5m" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig controls the HTTP surface. Port is a string so it can be
// env-substituted; resolution order is CLI flag, config file, PORT env var.
// RateLimit is requests per minute per client IP, 0 disables limiting.
type ServerConfig struct {
	Port        string   `yaml:"port"`
	LogLevel    int      `yaml:"log_level" validate:"min=0,max=4"`
	LogTags     string   `yaml:"log_tags"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   int      `yaml:"rate_limit" validate:"min=0"`
}

// GenerationConfig points at an OpenAI-compatible chat completions API.
type GenerationConfig struct {
	Endpoint       string  `yaml:"endpoint" validate:"omitempty,url"`
	Model          string  `yaml:"model"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	ContextWindow  int     `yaml:"context_window" validate:"min=0"`
	Temperature    float64 `yaml:"temperature" validate:"min=0,max=2"`
	RateLimit      float64 `yaml:"rate_limit" validate:"min=0"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"min=0"`
}

// PipelineConfig bounds the repair loop.
type PipelineConfig struct {
	MaxAttempts int  `yaml:"max_attempts" validate:"min=0,max=20"`
	RequireRows bool `yaml:"require_rows"`
	FanOutLimit int  `yaml:"fan_out_limit" validate:"min=0,max=64"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend       string   `yaml:"backend" validate:"omitempty,oneof=memory redis none"`
	TTL           Duration `yaml:"ttl"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// CatalogConfig locates the data source catalog file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Generation GenerationConfig `yaml:"generation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Cache      CacheConfig      `yaml:"cache"`
	History    HistoryConfig    `yaml:"history"`
	Catalog    CatalogConfig    `yaml:"catalog"`
}

// Default returns a config with working defaults for every section.
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			Endpoint:       "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			ContextWindow:  16000,
			TimeoutSeconds: 60,
		},
		Pipeline: PipelineConfig{
			MaxAttempts: 6,
			FanOutLimit: 4,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     Duration(5 * time.Minute),
		},
		History: HistoryConfig{
			Path: "querymend.db",
		},
		Catalog: CatalogConfig{
			Path: "datasources.yaml",
		},
	}
}

// Environment variable pattern: {{ env.VARIABLE_NAME }}
var envVarPattern = regexp.MustCompile(`\{\{\s*env\.(\w+)\s*\}\}`)

func substituteEnvVars(value string) (string, error) {
	result := value
	seen := make(map[string]bool)
	for _, match := range envVarPattern.FindAllStringSubmatch(value, -1) {
		placeholder, name := match[0], match[1]
		if seen[placeholder] {
			continue
		}
		seen[placeholder] = true

		envValue, exists := os.LookupEnv(name)
		if !exists {
			return "", fmt.Errorf("environment variable '%s' not found", name)
		}
		result = strings.ReplaceAll(result, placeholder, envValue)
	}
	return result, nil
}

// Load reads, substitutes and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config error in %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes over the defaults. Absent keys keep their
// default values.
func Parse(data []byte) (*Config, error) {
	substituted, err := substituteEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ResolvePort resolves the port from CLI flag, config file, env var, or default
func ResolvePort(cliPort string, cfg *Config) string {
	if cliPort != "" {
		return cliPort
	}
	if cfg != nil && cfg.Server.Port != "" {
		return cfg.Server.Port
	}
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// GenerationTimeout returns the per-request generation timeout.
func (c *Config) GenerationTimeout() time.Duration {
	if c.Generation.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Generation.TimeoutSeconds) * time.Second
}
