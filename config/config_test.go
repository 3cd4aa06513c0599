package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"LEAVE_ENV", "LEAVE_PORT", "LEAVE_DB_PATH", "LEAVE_JWT_SECRET", "LEAVE_TOKEN_TTL",
	"LEAVE_API_URL", "LEAVE_TOKEN", "LEAVE_POLL_INTERVAL", "LEAVE_EXPIRY_CHECK",
}

// clearEnv blanks every variable for the test; empty counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "leave.db", cfg.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.ExpiryCheck)
	assert.Empty(t, cfg.EnvFile)
	assert.ErrorIs(t, cfg.RequireSecret(), ErrMissingSecret)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEAVE_ENV", "production")
	t.Setenv("LEAVE_PORT", "9090")
	t.Setenv("LEAVE_API_URL", "http://api.school.test/")
	t.Setenv("LEAVE_POLL_INTERVAL", "250ms")
	t.Setenv("LEAVE_JWT_SECRET", "s3cret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://api.school.test", cfg.APIURL)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.NoError(t, cfg.RequireSecret())
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("LEAVE_DB_PATH")
	os.Unsetenv("LEAVE_TOKEN_TTL")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEAVE_DB_PATH=/tmp/school.db\nLEAVE_TOKEN_TTL=30m\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		os.Unsetenv("LEAVE_DB_PATH")
		os.Unsetenv("LEAVE_TOKEN_TTL")
	})

	assert.Equal(t, path, cfg.EnvFile)
	assert.Equal(t, "/tmp/school.db", cfg.DBPath)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LEAVE_PORT", "eighty"},
		{"LEAVE_PORT", "-1"},
		{"LEAVE_TOKEN_TTL", "forever"},
		{"LEAVE_POLL_INTERVAL", "0s"},
		{"LEAVE_EXPIRY_CHECK", "-1h"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
