package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, false, "info", false))

	Get(CategoryScan).Info("should not be written")
	_, err := os.Stat(filepath.Join(dir, ".kgingest", "logs"))
	assert.True(t, os.IsNotExist(err), "logs directory should not be created when debug mode is off")
}

func TestInitializeEnabledWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, true, "debug", false))
	defer CloseAll()

	Get(CategoryCommits).Info("hello %s", "world")

	entries, err := os.ReadDir(filepath.Join(dir, ".kgingest", "logs"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, true, "warn", false))
	defer CloseAll()

	l := Get(CategoryStore)
	assert.Equal(t, LevelWarn, logLevel)
	// Debug/Info below the configured level are silently dropped; this must not panic.
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
}

func TestTimerStopReturnsElapsed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, true, "debug", false))
	defer CloseAll()

	timer := StartTimer(CategoryChunk, "unit-test-op")
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}
