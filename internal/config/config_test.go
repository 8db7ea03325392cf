package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/config"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFillsDefaultsForOmittedFields(t *testing.T) {
	path := writeTemp(t, "debug: true\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, config.EngineModeSerial, cfg.Engine)
	assert.Greater(t, cfg.PoolSize, 0)
}

func TestLoadNonPositivePoolSizeDefaultsToTwiceCores(t *testing.T) {
	path := writeTemp(t, "pool_size: 0\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Greater(t, cfg.PoolSize, 0)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTemp(t, "not_a_real_field: 1\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidateRequiresDSNWhenNotInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.InMemory = false
	assert.Error(t, cfg.Validate())

	cfg.Storage.PostgresDSN = "postgres://example"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Engine = "quantum"
	assert.Error(t, cfg.Validate())
}
