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
	path := filepath.Join(t.TempDir(), "sitekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "google-site-kit", config.API.Namespace)
	assert.Equal(t, 30*time.Second, config.API.Timeout)
	assert.Equal(t, "info", config.Log.Level)
}

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	config, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, config.Cache.TTL)
}

func TestLoadConfigYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
log:
  level: debug
api:
  base_url: https://example.com/wp-json
  timeout: 5s
cache:
  ttl: 10m
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "https://example.com/wp-json", config.API.BaseURL)
	assert.Equal(t, 5*time.Second, config.API.Timeout)
	assert.Equal(t, 10*time.Minute, config.Cache.TTL)
	assert.Equal(t, "google-site-kit", config.API.Namespace)
}

func TestLoadConfigEnvOverridesYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "api:\n  base_url: https://yaml.example\n")
	t.Setenv("SITEKIT_API_BASE_URL", "https://env.example")
	t.Setenv("SITEKIT_LOG_LEVEL", "warn")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example", config.API.BaseURL)
	assert.Equal(t, "warn", config.Log.Level)
	assert.Equal(t, "redis://localhost:6379/0", config.Cache.RedisURL)
}

func TestLoadConfigRejectsInvalidBaseURL(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "api:\n  base_url: example.com\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "api.base_url")
}

func TestLoadConfigRejectsBrokenYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "api: [\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "error parsing YAML")
}
