package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 200, cfg.Pipeline.CommitBatchSize)
	assert.Equal(t, 500, cfg.Pipeline.ChunkBatchSize)
	assert.Equal(t, 0.3, cfg.Pipeline.MinConfidence)
	assert.False(t, cfg.Pipeline.ResetGraph)
	assert.Greater(t, cfg.Pipeline.MaxWorkers, 0)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pipeline.CommitBatchSize, cfg.Pipeline.CommitBatchSize)
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Pipeline.MinConfidence = 0.5
	cfg.Pipeline.ChunkBatchSize = 777
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, loaded.Pipeline.MinConfidence)
	assert.Equal(t, 777, loaded.Pipeline.ChunkBatchSize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KGINGEST_MIN_CONFIDENCE", "0.75")
	t.Setenv("KGINGEST_MAX_WORKERS", "4")
	t.Setenv("KGINGEST_STORE_PATH", filepath.Join(t.TempDir(), "graph.db"))

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.Pipeline.MinConfidence)
	assert.Equal(t, 4, cfg.Pipeline.MaxWorkers)
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, DefaultConfig().Save(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
