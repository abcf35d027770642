package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoad_RoundTripsAndPreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	err := os.WriteFile(path, []byte(`{
		"ai_backend": "groq",
		"groq_api_key": "abc123",
		"some_future_key": {"nested": true}
	}`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendGroq, cfg.AIBackend)
	assert.Equal(t, "abc123", cfg.GroqAPIKey)
	assert.Contains(t, cfg.Extra, "some_future_key")

	cfg.ClaudeAPIKey = "xyz"
	require.NoError(t, Save(path, cfg))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "xyz", reloaded.ClaudeAPIKey)
	assert.Contains(t, reloaded.Extra, "some_future_key")
}
