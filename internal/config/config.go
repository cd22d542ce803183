// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quotapilot/quotapilot/internal/budget"
	"github.com/quotapilot/quotapilot/internal/provider"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Storage   StorageConfig    `yaml:"storage"`
	Providers []ProviderConfig `yaml:"providers"`
	Limits    budget.Table     `yaml:"limits"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimitConfig defines inbound rate limiting parameters.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// StorageConfig selects and configures the usage store backend.
type StorageConfig struct {
	Backend  string         `yaml:"backend"` // memory, postgres, redis
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds the Postgres backend settings. The DSN is read from
// the named environment variable so it never appears in the config file.
type PostgresConfig struct {
	DSNEnv string `yaml:"dsn_env"`
}

// RedisConfig holds the Redis backend settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ProviderConfig defines a single upstream provider.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Type      string        `yaml:"type"` // mistral, cerebras, openai
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	ModelsEnv string        `yaml:"models_env"`
	Timeout   time.Duration `yaml:"timeout"`

	// Models is the static model table. When present it takes precedence
	// over discovery against the provider's /models endpoint.
	Models []ModelConfig `yaml:"models"`
}

// ModelConfig is a statically configured model. Capability flags are
// tri-state: unset means the adapter applies its own defaults.
type ModelConfig struct {
	Name           string `yaml:"name"`
	ContextWindow  int    `yaml:"context_window"`
	SupportsJSON   *bool  `yaml:"supports_json"`
	SupportsTools  *bool  `yaml:"supports_tools"`
	SupportsStream *bool  `yaml:"supports_stream"`
}

// AdapterConfig converts the YAML provider entry into the adapter
// construction config.
func (p ProviderConfig) AdapterConfig() provider.Config {
	cfg := provider.Config{
		Name:      p.Name,
		Type:      p.Type,
		BaseURL:   p.BaseURL,
		APIKey:    p.APIKey,
		APIKeyEnv: p.APIKeyEnv,
		ModelsEnv: p.ModelsEnv,
		Timeout:   p.Timeout,
	}
	for _, m := range p.Models {
		cfg.Models = append(cfg.Models, provider.ModelSpec{
			Name:           m.Name,
			ContextWindow:  m.ContextWindow,
			SupportsJSON:   m.SupportsJSON,
			SupportsTools:  m.SupportsTools,
			SupportsStream: m.SupportsStream,
		})
	}
	return cfg
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     50,
			Burst:   100,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				DSNEnv: "DATABASE_URL",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "quotapilot:usage:",
			},
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"redis":    true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes cannot be negative")
	}

	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend %q (want memory, postgres, or redis)", c.Storage.Backend)
	}

	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps cannot be negative")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst cannot be negative")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if strings.Contains(p.Name, ":") {
			return fmt.Errorf("provider[%d] %q: name must not contain a colon", i, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider[%d] %q: duplicate provider name", i, p.Name)
		}
		seen[p.Name] = true
		if p.Type == "" {
			return fmt.Errorf("provider[%d] %q: type is required", i, p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.Name)
		}
		for j, m := range p.Models {
			if m.Name == "" {
				return fmt.Errorf("provider[%d] %q: models[%d]: name is required", i, p.Name, j)
			}
		}
	}

	for providerName, models := range c.Limits {
		for modelName, limits := range models {
			if err := validateLimits(providerName, modelName, limits); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateLimits(providerName, modelName string, l budget.Limits) error {
	axes := []struct {
		name  string
		value *int64
	}{{"rpm", l.RPM}, {"rpd", l.RPD}, {"tpm", l.TPM}, {"tpd", l.TPD}}

	for _, a := range axes {
		if a.value != nil && *a.value < 0 {
			return fmt.Errorf("limits[%s][%s]: %s cannot be negative", providerName, modelName, a.name)
		}
	}
	return nil
}
