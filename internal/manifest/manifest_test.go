package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kgingest/internal/scan"
)

func constHasher(hash string) func(scan.FileRecord) (string, error) {
	return func(scan.FileRecord) (string, error) { return hash, nil }
}

func TestLoadMissingManifestIsEmpty(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)
	require.Empty(t, m.Files)
	require.Equal(t, SchemaVersion, m.SchemaVersion)
}

func TestComputeDeltaFirstRunIsAllAdded(t *testing.T) {
	prev, _ := Load(filepath.Join(t.TempDir(), "manifest.json"))
	inv := &scan.FileInventory{Files: []scan.FileRecord{{Path: "a.go"}, {Path: "b.go"}}}

	plan, err := ComputeDelta(prev, inv, ProfileDelta, constHasher("h1"))
	require.NoError(t, err)
	require.Len(t, plan.Added, 2)
	require.Empty(t, plan.Modified)
	require.Empty(t, plan.Deleted)
}

func TestComputeDeltaDetectsModifiedAndDeleted(t *testing.T) {
	prev, _ := Load(filepath.Join(t.TempDir(), "manifest.json"))
	prev.Files["a.go"] = FileEntry{ContentHash: "old"}
	prev.Files["gone.go"] = FileEntry{ContentHash: "x"}

	inv := &scan.FileInventory{Files: []scan.FileRecord{{Path: "a.go"}}}
	plan, err := ComputeDelta(prev, inv, ProfileDelta, constHasher("new"))
	require.NoError(t, err)
	require.Len(t, plan.Modified, 1)
	require.Equal(t, "a.go", plan.Modified[0].Path)
	require.Equal(t, []string{"gone.go"}, plan.Deleted)
}

func TestComputeDeltaUnchangedWhenHashMatches(t *testing.T) {
	prev, _ := Load(filepath.Join(t.TempDir(), "manifest.json"))
	prev.Files["a.go"] = FileEntry{ContentHash: "same"}

	inv := &scan.FileInventory{Files: []scan.FileRecord{{Path: "a.go"}}}
	plan, err := ComputeDelta(prev, inv, ProfileDelta, constHasher("same"))
	require.NoError(t, err)
	require.Empty(t, plan.Modified)
	require.Len(t, plan.Unchanged, 1)
}

func TestComputeDeltaFullProfileIgnoresPrevious(t *testing.T) {
	prev, _ := Load(filepath.Join(t.TempDir(), "manifest.json"))
	prev.Files["a.go"] = FileEntry{ContentHash: "same"}

	inv := &scan.FileInventory{Files: []scan.FileRecord{{Path: "a.go"}}}
	plan, err := ComputeDelta(prev, inv, ProfileFull, constHasher("same"))
	require.NoError(t, err)
	require.Len(t, plan.Added, 1)
	require.Empty(t, plan.Unchanged)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "manifest.json")
	m := &Manifest{SchemaVersion: SchemaVersion, Files: map[string]FileEntry{"a.go": {Size: 10, ContentHash: "h"}}, path: path}
	require.NoError(t, m.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "h", loaded.Files["a.go"].ContentHash)
}

func TestUpdateAppliesPlan(t *testing.T) {
	m := &Manifest{Files: map[string]FileEntry{"gone.go": {ContentHash: "x"}}}
	plan := &DeltaPlan{Deleted: []string{"gone.go"}}

	m.Update(plan, map[string]FileEntry{"a.go": {ContentHash: "h"}}, "abc123", "/repo")
	require.Contains(t, m.Files, "a.go")
	require.NotContains(t, m.Files, "gone.go")
	require.Equal(t, "abc123", m.LastIngestedCommit)
	require.Equal(t, "/repo", m.RepoRoot)
}
