// Package config loads the small set of settings the SOVD command
// execution backend needs at startup: database connectivity (delegated to
// pkg/database), the command orchestrator's per-command timeout and default
// connector, the JWT secret, rate-limit tuning, and the HTTP listen address.
//
// There is no registry of pluggable named components to load from a
// directory of config files here — this system has a single extension
// point (pkg/connector.Registry), constructed directly at startup — so
// Config stays a flat, env-driven struct in the spirit of
// database.LoadConfigFromEnv rather than a directory-scanning loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sovd/cmdexec/pkg/database"
	"github.com/sovd/cmdexec/pkg/ratelimit"
)

// Config aggregates every setting the server needs to start.
type Config struct {
	Database database.Config

	// ServerAddr is the address the HTTP server listens on, e.g. ":8080".
	ServerAddr string

	// JWTSecret signs and verifies bearer tokens (pkg/authn).
	JWTSecret string

	// CommandTimeout bounds how long the orchestrator waits on a connector
	// before terminating a command as failed (pkg/queue).
	CommandTimeout time.Duration

	// DefaultConnectorType is read from DEFAULT_CONNECTOR_TYPE but is not
	// passed to the dispatcher: a vehicle whose metadata carries no
	// connector_type runs on queue.DefaultConnectorType ("mock").
	DefaultConnectorType string

	RateLimit ratelimit.Config
}

// Load reads Config from the environment, applying the same defaults a
// developer running this locally would expect, and validates the result.
func Load() (Config, error) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("database config: %w", err)
	}

	commandTimeout, err := time.ParseDuration(getEnv("COMMAND_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid COMMAND_TIMEOUT: %w", err)
	}

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "10"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	burst, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "20"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}
	maxTrackedKeys, err := strconv.Atoi(getEnv("RATE_LIMIT_MAX_TRACKED_KEYS", "10000"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RATE_LIMIT_MAX_TRACKED_KEYS: %w", err)
	}

	cfg := Config{
		Database:             dbCfg,
		ServerAddr:           getEnv("SERVER_ADDR", ":8080"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		CommandTimeout:       commandTimeout,
		DefaultConnectorType: getEnv("DEFAULT_CONNECTOR_TYPE", "mock"),
		RateLimit: ratelimit.Config{
			RequestsPerSecond: rps,
			Burst:             burst,
			MaxTrackedKeys:    maxTrackedKeys,
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants Load cannot express through parsing alone.
func (c Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be positive")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
