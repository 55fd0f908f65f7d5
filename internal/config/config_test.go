package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "paracord.db", cfg.Database.SQLite.Path)
	assert.True(t, cfg.Voice.PerChannelTopics)

	// A missing JWT_SECRET is generated and flagged as ephemeral.
	assert.Len(t, cfg.Security.JWTSecret, 64)
	assert.True(t, cfg.Security.JWTSecretGenerated)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_PATH", "/tmp/other.db")
	t.Setenv("JWT_SECRET", "explicit-secret-explicit-secret-32")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/tmp/other.db", cfg.Database.SQLite.Path)
	assert.Equal(t, "explicit-secret-explicit-secret-32", cfg.Security.JWTSecret)
	assert.False(t, cfg.Security.JWTSecretGenerated)
	assert.Equal(t, zerolog.DebugLevel, cfg.GetLogLevel())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Security.JWTSecret = "s"

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
	cfg.Server.Port = 3000

	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())
	cfg.Database.Driver = "sqlite"

	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
	cfg.Logging.Level = "info"

	require.NoError(t, cfg.Validate())
}

func TestProductionRequiresLongSecret(t *testing.T) {
	cfg := Default()
	cfg.App.Environment = "production"
	cfg.Security.JWTSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg.Security.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())
}
