package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"addr": "127.0.0.1:9090"},
		"collaborators": {"backend": "openai", "model": "gpt-4.1-mini", "timeout": "5s"},
		"sessions": {"max_open": 8, "ambient_interval": "1m30s"},
		"voice": {"enabled": true},
		"retention": {"keep_days": 30}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, BackendOpenAI, cfg.Collaborators.Backend)
	assert.Equal(t, 5*time.Second, cfg.Collaborators.Timeout)
	assert.Equal(t, 8, cfg.Sessions.MaxOpen)
	assert.Equal(t, 90*time.Second, cfg.Sessions.AmbientInterval)
	assert.True(t, cfg.Voice.Enabled)
	assert.Equal(t, "Matthew", cfg.Voice.VoiceID)
	assert.Equal(t, 30, cfg.Retention.KeepDays)
	assert.Equal(t, Default().Database.Path, cfg.Database.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"server": {"addr": ":7000"}}`)
	t.Setenv("PILOTSIM_SERVER_ADDR", ":7001")
	t.Setenv("PILOTSIM_SESSIONS_MAX_OPEN", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Sessions.MaxOpen)
}

func TestLoad_RejectsSchemaViolations(t *testing.T) {
	path := writeConfig(t, `{
		"collaborators": {"backend": "carrier-pigeon", "timeout": "soon"},
		"sessions": {"max_open": 0}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidSettings)
	assert.Contains(t, err.Error(), "config schema validation failed")
	assert.Contains(t, err.Error(), "collaborators.backend")
	assert.Contains(t, err.Error(), "sessions.max_open")
}

func TestLoad_RequiresModelForRemoteBackend(t *testing.T) {
	path := writeConfig(t, `{"collaborators": {"backend": "gemini"}}`)

	_, err := Load(path)
	require.ErrorContains(t, err, "collaborators.model is required")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorContains(t, err, "read config")
}

func TestValidateSettings_AcceptsEmpty(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSettings(map[string]any{}))
}
