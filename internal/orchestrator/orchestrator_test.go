package orchestrator

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/kgerrors"
)

func openTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.Open(filepath.Join(t.TempDir(), "graph.db"), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "a@b.c")
	run("config", "user.name", "tester")
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	run("add", "-A")
	run("commit", "-q", "-m", "init")
	return root
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	store := openTestStore(t)
	repo := initRepo(t, map[string]string{"main.go": "package main\n"})
	o := New(store, repo, t.TempDir(), 0)

	_, err := o.Start(Options{})
	require.NoError(t, err)

	_, err = o.Start(Options{})
	assert.ErrorIs(t, err, kgerrors.ErrJobAlreadyRunning)

	require.NoError(t, o.Stop())
}

func TestStatusReflectsTerminalStateAfterStop(t *testing.T) {
	store := openTestStore(t)
	repo := initRepo(t, map[string]string{"main.go": "package main\n", "docs/readme.md": "# Title\n"})
	o := New(store, repo, t.TempDir(), 0)

	id, err := o.Start(Options{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, o.Stop())

	status := o.Status()
	require.NotNil(t, status)
	assert.Equal(t, id, status.ID)
	assert.Contains(t, []JobStatus{StatusSucceeded, StatusCancelled, StatusFailed}, status.Status)
	assert.NotEmpty(t, status.Stages)
}

func TestReportIsAliasForStatus(t *testing.T) {
	store := openTestStore(t)
	repo := initRepo(t, map[string]string{"main.go": "package main\n"})
	o := New(store, repo, t.TempDir(), 0)

	_, err := o.Start(Options{})
	require.NoError(t, err)
	require.NoError(t, o.Stop())

	assert.Equal(t, o.Status().ID, o.Report().ID)
}

func TestStopOnIdleOrchestratorIsNoop(t *testing.T) {
	store := openTestStore(t)
	o := New(store, t.TempDir(), t.TempDir(), 0)
	assert.NoError(t, o.Stop())
	assert.Nil(t, o.Status())
}

func TestEndToEndPipelineWritesFilesAndCommits(t *testing.T) {
	repo := initRepo(t, map[string]string{
		"main.go":        "package main\n\nfunc main() {}\n",
		"docs/readme.md": "# Title\n\nSome notes.\n",
	})
	store := openTestStore(t)
	o := New(store, repo, t.TempDir(), 0)

	id, err := o.Start(Options{Profile: "full"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	deadline := time.After(10 * time.Second)
	for {
		status := o.Status()
		if status.Status != StatusRunning {
			require.Equal(t, StatusSucceeded, status.Status, status.Error)
			break
		}
		select {
		case <-deadline:
			t.Fatal("pipeline did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	n, err := store.CountNodes(graph.NodeFile)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	commitCount, err := store.CountNodes(graph.NodeCommit)
	require.NoError(t, err)
	assert.Equal(t, 1, commitCount)
}
