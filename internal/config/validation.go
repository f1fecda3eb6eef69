package config

import (
	"fmt"
	"slices"
	"time"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// Check for nil config (defensive programming)
	if c == nil {
		return ErrConfigNil
	}

	// 1. Embedder configuration validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// gemini-embedding-001 supports output dimensionality from 128 to 3072.
	if c.EmbedderDimension < 128 || c.EmbedderDimension > 3072 {
		return fmt.Errorf("%w: must be between 128 and 3072, got %d",
			ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	// 2. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable).
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 3. Pipeline configuration validation
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidBatchSize, c.BatchSize)
	}

	// The visibility timeout must comfortably exceed a single embed call so a
	// live worker never loses its lease mid-flight.
	if c.VisibilityTimeout < time.Second || c.VisibilityTimeout > time.Hour {
		return fmt.Errorf("%w: must be between 1s and 1h, got %s", ErrInvalidVisibilityTimeout, c.VisibilityTimeout)
	}

	if c.DrainInterval < time.Second || c.DrainInterval > time.Hour {
		return fmt.Errorf("%w: must be between 1s and 1h, got %s", ErrInvalidDrainInterval, c.DrainInterval)
	}

	if c.MaxReadCount < 1 || c.MaxReadCount > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidMaxReadCount, c.MaxReadCount)
	}

	if c.DrainConcurrency < 1 || c.DrainConcurrency > 64 {
		return fmt.Errorf("%w: drain_concurrency must be between 1 and 64, got %d",
			ErrInvalidBatchSize, c.DrainConcurrency)
	}

	return nil
}
