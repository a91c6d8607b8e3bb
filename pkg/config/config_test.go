package config

import (
	"testing"

	"github.com/sovd/cmdexec/pkg/database"
	"github.com/sovd/cmdexec/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Database: database.Config{
			Host:         "localhost",
			Port:         5432,
			User:         "sovd",
			Password:     "secret",
			Database:     "sovd",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 10,
		},
		ServerAddr:           ":8080",
		JWTSecret:            "test-secret",
		CommandTimeout:       30,
		DefaultConnectorType: "mock",
		RateLimit:            ratelimit.Config{RequestsPerSecond: 10, Burst: 20, MaxTrackedKeys: 1000},
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing JWT secret fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWTSecret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive command timeout fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.CommandTimeout = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive rate limit RPS fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.RequestsPerSecond = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero burst fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.Burst = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid database config surfaces its own error", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Password = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad_RequiresDatabasePassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("JWT_SECRET", "test-secret")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "mock", cfg.DefaultConnectorType)
	assert.Equal(t, float64(10), cfg.RateLimit.RequestsPerSecond)
}
