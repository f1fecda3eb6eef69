// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.roadkit/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Storage: PostgreSQL connection (see storage.go)
//   - Embedder: model selection and vector dimension
//   - Pipeline: queue name, batch size, visibility timeout, drain interval
//   - API: HTTP listen address
//   - Tracing: OTLP agent endpoint (optional)
//
// Security: sensitive data (passwords) are never logged; see MarshalJSON.
// Validation: range checks in validation.go with clear error messages,
// using sentinel errors for errors.Is() checking.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder vector dimension is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidBatchSize indicates the drain batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidVisibilityTimeout indicates the queue visibility timeout is out of range.
	ErrInvalidVisibilityTimeout = errors.New("invalid visibility timeout")

	// ErrInvalidDrainInterval indicates the scheduler drain interval is out of range.
	ErrInvalidDrainInterval = errors.New("invalid drain interval")

	// ErrInvalidMaxReadCount indicates the dead-letter read-count threshold is out of range.
	ErrInvalidMaxReadCount = errors.New("invalid max read count")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality (Matryoshka Representation Learning).
	// The pgvector schema uses 1536 dimensions; see embedding.VectorDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultQueueName is the queue embedding jobs are sent to.
	DefaultQueueName = "embedding_jobs"

	// DefaultBatchSize is the maximum number of messages leased per drain tick.
	DefaultBatchSize = 10

	// DefaultVisibilityTimeout is how long a leased message stays invisible
	// to other readers before it becomes retryable.
	DefaultVisibilityTimeout = 60 * time.Second

	// DefaultDrainInterval is how often the scheduler drains the queue.
	DefaultDrainInterval = 5 * time.Second

	// DefaultMaxReadCount is the read-count threshold after which a message
	// is quarantined to the dead-letter table instead of retried.
	DefaultMaxReadCount = 5
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedder configuration
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Pipeline configuration
	QueueName         string        `mapstructure:"queue_name" json:"queue_name"`
	BatchSize         int           `mapstructure:"batch_size" json:"batch_size"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" json:"visibility_timeout"`
	DrainInterval     time.Duration `mapstructure:"drain_interval" json:"drain_interval"`
	MaxReadCount      int           `mapstructure:"max_read_count" json:"max_read_count"`
	DrainConcurrency  int           `mapstructure:"drain_concurrency" json:"drain_concurrency"`

	// Embedding API rate limit (requests per second; 0 disables limiting)
	EmbedRatePerSecond float64 `mapstructure:"embed_rate_per_second" json:"embed_rate_per_second"`

	// API configuration
	APIAddr string `mapstructure:"api_addr" json:"api_addr"`

	// Tracing configuration (OTLP/HTTP, e.g. a local Datadog agent)
	TracingEnabled  bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	TracingEndpoint string `mapstructure:"tracing_endpoint" json:"tracing_endpoint"`
	TracingService  string `mapstructure:"tracing_service" json:"tracing_service"`
	TracingEnv      string `mapstructure:"tracing_env" json:"tracing_env"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	// Configuration directory: ~/.roadkit/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".roadkit")

	// Ensure directory exists (0750 for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	// Read configuration file (if exists)
	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "roadkit")
	v.SetDefault("postgres_password", "roadkit_dev_password")
	v.SetDefault("postgres_db_name", "roadkit")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Embedder defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", 1536)

	// Pipeline defaults
	v.SetDefault("queue_name", DefaultQueueName)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("visibility_timeout", DefaultVisibilityTimeout)
	v.SetDefault("drain_interval", DefaultDrainInterval)
	v.SetDefault("max_read_count", DefaultMaxReadCount)
	v.SetDefault("drain_concurrency", 4)
	v.SetDefault("embed_rate_per_second", 10.0)

	// API defaults
	v.SetDefault("api_addr", "127.0.0.1:3500")

	// Tracing defaults
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_endpoint", "localhost:4318")
	v.SetDefault("tracing_service", "roadkit")
	v.SetDefault("tracing_env", "dev")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
// Validation checks its presence where an embedder is actually constructed.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("embedder_model", "ROADKIT_EMBEDDER_MODEL")
	mustBind("queue_name", "ROADKIT_QUEUE_NAME")
	mustBind("batch_size", "ROADKIT_BATCH_SIZE")
	mustBind("visibility_timeout", "ROADKIT_VISIBILITY_TIMEOUT")
	mustBind("drain_interval", "ROADKIT_DRAIN_INTERVAL")
	mustBind("max_read_count", "ROADKIT_MAX_READ_COUNT")
	mustBind("api_addr", "ROADKIT_API_ADDR")
	mustBind("tracing_enabled", "ROADKIT_TRACING_ENABLED")
	mustBind("tracing_endpoint", "ROADKIT_TRACING_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matching against
// real secret material.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets show the
// first and last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is not cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
