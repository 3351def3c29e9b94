// Package config loads the aiko runtime configuration.
//
// Values are resolved in order: defaults, then a YAML file, then environment
// variables prefixed with AIKO_ (for example AIKO_STORE_DRIVER or
// AIKO_PIPELINE_VALIDATED_THRESHOLD).
//
//	cfg, err := config.NewLoader().WithConfigPath("aiko.yaml").Load()
package config

import (
	"fmt"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderMock      = "mock"
)

// Config is the complete runtime configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Pipeline  PipelineConfig  `yaml:"pipeline" env:"PIPELINE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, mysql, redis.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the SQLite database file.
	Path string `yaml:"path" env:"PATH"`
	// DSN is the MySQL data source name.
	DSN   string      `yaml:"dsn" env:"DSN"`
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Lock enables the Redis distributed thread lock. Requires Redis.Addr.
	Lock    bool          `yaml:"lock" env:"LOCK"`
	LockTTL time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

// RedisConfig configures the Redis store and lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Prefix   string        `yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// LLMConfig selects and tunes the chat model.
type LLMConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	Model    string `yaml:"model" env:"MODEL"`
	// APIKey falls back to the provider's usual variable (OPENAI_API_KEY,
	// ANTHROPIC_API_KEY, GOOGLE_API_KEY) when empty.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// RateLimit is the sustained requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `yaml:"burst" env:"BURST"`
	// MaxAttempts bounds attempts per generation, first call included.
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// EngineConfig bounds execution.
type EngineConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxSteps      int           `yaml:"max_steps" env:"MAX_STEPS"`
	NodeTimeout   time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
}

// PipelineConfig holds the run configuration handed to pipeline nodes.
type PipelineConfig struct {
	ValidatedThreshold int `yaml:"validated_threshold" env:"VALIDATED_THRESHOLD"`
	ItemsPerCategory   int `yaml:"items_per_category" env:"ITEMS_PER_CATEGORY"`
	NeedsPerRound      int `yaml:"needs_per_round" env:"NEEDS_PER_ROUND"`
}

// LogConfig configures process logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// Events also logs engine events at debug level.
	Events bool `yaml:"events" env:"EVENTS"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns a configuration usable without any file: a SQLite
// store in the working directory and the OpenAI provider.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:  DriverSQLite,
			Path:    "aiko.db",
			LockTTL: 5 * time.Minute,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "aiko",
			},
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Burst:       1,
			MaxAttempts: 2,
			RetryDelay:  500 * time.Millisecond,
		},
		Engine: EngineConfig{
			MaxConcurrent: 10,
			MaxSteps:      100,
		},
		Pipeline: PipelineConfig{
			ValidatedThreshold: 5,
			ItemsPerCategory:   5,
			NeedsPerRound:      10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "aiko",
			SampleRate:   1,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case DriverMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for mysql")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, "store.redis.addr is required for redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.Lock {
		if c.Store.Redis.Addr == "" {
			errs = append(errs, "store.lock requires store.redis.addr")
		}
		if c.Store.LockTTL <= 0 {
			errs = append(errs, "store.lock_ttl must be positive")
		}
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderMock:
	default:
		errs = append(errs, fmt.Sprintf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.LLM.RateLimit < 0 {
		errs = append(errs, "llm.rate_limit must not be negative")
	}
	if c.LLM.RateLimit > 0 && c.LLM.Burst < 1 {
		errs = append(errs, "llm.burst must be at least 1")
	}
	if c.LLM.MaxAttempts < 1 {
		errs = append(errs, "llm.max_attempts must be at least 1")
	}

	if c.Engine.MaxConcurrent < 1 {
		errs = append(errs, "engine.max_concurrent must be at least 1")
	}
	if c.Engine.MaxSteps < 1 {
		errs = append(errs, "engine.max_steps must be at least 1")
	}
	if c.Engine.NodeTimeout < 0 {
		errs = append(errs, "engine.node_timeout must not be negative")
	}

	if c.Pipeline.ValidatedThreshold < 1 {
		errs = append(errs, "pipeline.validated_threshold must be at least 1")
	}
	if c.Pipeline.ItemsPerCategory < 1 {
		errs = append(errs, "pipeline.items_per_category must be at least 1")
	}
	if c.Pipeline.NeedsPerRound < 1 {
		errs = append(errs, "pipeline.needs_per_round must be at least 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log.format %q", c.Log.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
