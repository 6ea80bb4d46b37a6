package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("LLM_DEFAULT_PROVIDER", "")
	t.Setenv("TEST_RUN_CONCURRENCY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, "gemini", cfg.LLM.DefaultProvider)
	assert.Equal(t, 4, cfg.Tests.RunConcurrency)
	assert.Equal(t, 50, cfg.RateLimit.AIPerUserPerDay)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("JWT_ACCESS_EXPIRES_MIN", "30")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("TEST_RUN_CONCURRENCY", "0")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 1, cfg.Tests.RunConcurrency)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.0001)
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Database.URL = "postgres://localhost/hub"
	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
