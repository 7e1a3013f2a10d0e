// Package config provides configuration management for ThreatLens.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/threatlens/internal/analyst"
	"github.com/lvonguyen/threatlens/internal/api/gateway"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/ranking"
	"github.com/lvonguyen/threatlens/internal/sources"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all ThreatLens configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Redis     RedisConfig             `yaml:"redis"`
	Sources   sources.Config          `yaml:"sources"`
	Ranking   ranking.Weights         `yaml:"ranking"`
	Analyst   analyst.Rules           `yaml:"analyst"`
	RateLimit gateway.RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig           `yaml:"logging"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AnalyzeTimeout  time.Duration `yaml:"analyze_timeout"`
	TrustProxy      bool          `yaml:"trust_proxy"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Password reads the configured env var; empty when unset.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TelemetryConfig holds tracing and metrics settings.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// Load reads configuration from a YAML file over the defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	tel := observability.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AnalyzeTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "localhost:6379",
			PasswordEnv: "REDIS_PASSWORD",
			DB:          0,
			PoolSize:    10,
			DialTimeout: 2 * time.Second,
		},
		Sources:   sources.DefaultConfig(),
		Ranking:   ranking.DefaultWeights(),
		Analyst:   analyst.DefaultRules(),
		RateLimit: gateway.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  tel.LogLevel,
			Format: tel.LogFormat,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    tel.ServiceName,
			ServiceVersion: tel.ServiceVersion,
			Environment:    tel.Environment,
			TracingEnabled: tel.TracingEnabled,
			OTLPEndpoint:   tel.OTLPEndpoint,
			SamplingRate:   tel.SamplingRate,
			MetricsEnabled: tel.MetricsEnabled,
		},
	}
}

// Validate rejects non-positive timeouts and caps.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.AnalyzeTimeout <= 0 {
		return fmt.Errorf("%w: server analyze_timeout must be positive", ErrInvalidConfig)
	}

	for name, sc := range map[string]sources.SourceConfig{
		"nvd":      c.Sources.NVD,
		"cisa_kev": c.Sources.KEV,
		"github":   c.Sources.GitHub,
		"shodan":   c.Sources.Shodan,
	} {
		if sc.Timeout <= 0 {
			return fmt.Errorf("%w: sources.%s timeout must be positive", ErrInvalidConfig, name)
		}
		if sc.Limit <= 0 {
			return fmt.Errorf("%w: sources.%s limit must be positive", ErrInvalidConfig, name)
		}
	}
	for _, f := range c.Sources.VendorFeeds {
		if f.Timeout <= 0 || f.Limit <= 0 {
			return fmt.Errorf("%w: vendor feed %q needs a positive timeout and limit", ErrInvalidConfig, f.Name)
		}
	}
	if c.Sources.WebSearch.Timeout <= 0 || c.Sources.WebSearch.ResultsPerSite <= 0 {
		return fmt.Errorf("%w: web_search needs a positive timeout and results_per_site", ErrInvalidConfig)
	}

	if err := c.Ranking.Validate(); err != nil {
		return fmt.Errorf("%w: ranking: %v", ErrInvalidConfig, err)
	}
	if c.Analyst.MaxPriorities <= 0 {
		return fmt.Errorf("%w: analyst max_priorities must be positive", ErrInvalidConfig)
	}
	return nil
}

// TelemetryOptions merges the logging and telemetry sections.
func (c *Config) TelemetryOptions() observability.Config {
	return observability.Config{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: c.Telemetry.ServiceVersion,
		Environment:    c.Telemetry.Environment,
		LogLevel:       c.Logging.Level,
		LogFormat:      c.Logging.Format,
		TracingEnabled: c.Telemetry.TracingEnabled,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
		MetricsEnabled: c.Telemetry.MetricsEnabled,
	}
}
