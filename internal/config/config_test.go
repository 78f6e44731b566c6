package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/config"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`data_dir = "`+dir+`"`+"\n"), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 20, cfg.Perception.WindowSeconds)
	assert.Equal(t, "aggressive", cfg.ImageOptimizer.CompressionLevel)
	assert.Equal(t, 2, cfg.Agents.MinEventActions)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 500, cfg.ImageCache.Capacity)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, filepath.Join(dir, "rewind.db"), cfg.Database.Path)
}

func TestLoadConfigMissingFileStillDefaults(t *testing.T) {
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("REWIND_LLM_API_KEY", "sk-test-123")
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
}
