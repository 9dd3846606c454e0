package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgingest/internal/audit"
	"kgingest/internal/orchestrator"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestExitCodeForMapsEveryTerminalStatus(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(orchestrator.StatusSucceeded))
	assert.Equal(t, 2, exitCodeFor(orchestrator.StatusCancelled))
	assert.Equal(t, 1, exitCodeFor(orchestrator.StatusFailed))
}

func TestPrintJobSummaryIncludesStageCounters(t *testing.T) {
	job := &orchestrator.Job{
		ID:        "job-1",
		Status:    orchestrator.StatusSucceeded,
		StartedAt: time.Now().Add(-time.Second),
		EndedAt:   time.Now(),
		Stages: []orchestrator.StageTelemetry{
			{Stage: "scan", DurationMS: 12, Counters: map[string]int{"files_found": 3}},
		},
	}
	out := captureOutput(t, func() { printJobSummary(job) })
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "scan")
	assert.Contains(t, out, "succeeded")
}

func TestPrintReportShowsQualityScore(t *testing.T) {
	r := &audit.Report{
		GeneratedAt:  time.Now(),
		NodeCounts:   audit.NodeCounts{"File": 2},
		EdgeCounts:   audit.EdgeCounts{},
		OrphanNodes:  map[string][]string{},
		QualityScore: 87.5,
	}
	out := captureOutput(t, func() { printReport(r) })
	assert.Contains(t, out, "87.5")
	assert.NotContains(t, out, "excellent")
}

func TestJobFileRoundTrips(t *testing.T) {
	storeDir = t.TempDir()
	job := &orchestrator.Job{ID: "abc", Status: orchestrator.StatusSucceeded}
	require.NoError(t, saveJob(job))

	loaded, err := loadJob()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "abc", loaded.ID)
}

func TestLoadJobReturnsNilWhenAbsent(t *testing.T) {
	storeDir = t.TempDir()
	job, err := loadJob()
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestReportFileRoundTrips(t *testing.T) {
	storeDir = t.TempDir()
	r := &audit.Report{QualityScore: 42}
	require.NoError(t, saveReport(r))

	loaded, err := loadReport()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 42.0, loaded.QualityScore)
}

func TestPIDFileRoundTrips(t *testing.T) {
	storeDir = t.TempDir()
	require.NoError(t, writePIDFile())
	pid, err := readPIDFile()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	removePIDFile()
	_, err = readPIDFile()
	assert.Error(t, err)
}

func TestSortedKeysIsDeterministic(t *testing.T) {
	keys := sortedKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestJoinedOutputContainsNoPanicOnEmptyJob(t *testing.T) {
	out := captureOutput(t, func() {
		job := &orchestrator.Job{ID: "x", Status: orchestrator.StatusFailed, Error: "scan: boom", StartedAt: time.Now(), EndedAt: time.Now()}
		printJobSummary(job)
	})
	assert.True(t, strings.Contains(out, "scan: boom"))
}
