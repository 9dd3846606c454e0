package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
)

func openTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.Open(filepath.Join(t.TempDir(), "graph.db"), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunToleratesEmptyGraph(t *testing.T) {
	store := openTestStore(t)
	r := Run(store)
	require.NotNil(t, r)
	assert.Equal(t, 0, r.NodeCounts[string(graph.NodeFile)])
	assert.Empty(t, r.OrphanNodes)
	assert.Equal(t, 100.0, r.QualityScore)
	assert.True(t, r.Excellent)
}

func TestRunFlagsChunkMissingPartOf(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.BatchUpsertNodes(graph.NodeFile, []graphstore.NodeRow{
		{Key: "a.go", Props: graph.File{Path: "a.go"}},
	}))
	require.NoError(t, store.BatchUpsertNodes(graph.NodeChunk, []graphstore.NodeRow{
		{Key: "a.go#0", Props: graph.Chunk{ID: "a.go#0", File: "a.go"}},
	}))
	// Only CONTAINS_CHUNK written, PART_OF deliberately omitted.
	require.NoError(t, store.BatchUpsertEdges(graph.EdgeContainsChunk, []graphstore.EdgeRow{
		{SubjectKind: graph.NodeFile, SubjectKey: "a.go", ObjectKind: graph.NodeChunk, ObjectKey: "a.go#0"},
	}))

	r := Run(store)
	assert.Contains(t, r.ChunksWithoutLinks, "a.go#0")
	assert.Less(t, r.QualityScore, 100.0)
}

func TestRunDetectsOrphanFile(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.BatchUpsertNodes(graph.NodeFile, []graphstore.NodeRow{
		{Key: "orphan.go", Props: graph.File{Path: "orphan.go"}},
	}))

	r := Run(store)
	assert.Contains(t, r.OrphanNodes[string(graph.NodeFile)], "orphan.go")
}

func TestRunComputesDecodeStats(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.BatchUpsertNodes(graph.NodeFile, []graphstore.NodeRow{
		{Key: "bin.dat", Props: graph.File{Path: "bin.dat", Decoding: graph.Decoding{Encoding: "latin1", FallbackUsed: true, ReplacementChars: 3}}},
		{Key: "ok.go", Props: graph.File{Path: "ok.go", Decoding: graph.Decoding{Encoding: "utf-8"}}},
	}))

	r := Run(store)
	assert.Equal(t, 1, r.Decode.FallbackCount)
	assert.Equal(t, []string{"bin.dat"}, r.Decode.FallbackSamples)
	assert.Equal(t, 3, r.Decode.ReplacementChars)
	assert.Equal(t, 1, r.Decode.ByEncoding["utf-8"])
	assert.Equal(t, 1, r.Decode.ByEncoding["latin1"])
}

func TestRunComputesLibraryCoverage(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.BatchUpsertNodes(graph.NodeLibrary, []graphstore.NodeRow{
		{Key: "requests", Props: graph.Library{Slug: "requests", Source: graph.LibrarySourceManifest}},
		{Key: "numpy", Props: graph.Library{Slug: "numpy", Source: graph.LibrarySourceManifest}},
		{Key: "internal-tool", Props: graph.Library{Slug: "internal-tool", Source: graph.LibrarySourceDiscovered}},
	}))

	r := Run(store)
	require.Len(t, r.LibraryCoverage, 2)
	assert.Equal(t, "manifest", r.LibraryCoverage[0].Source)
	assert.Equal(t, 2, r.LibraryCoverage[0].Count)
}

func TestRunWeightsQualityScoreByRatio(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.BatchUpsertNodes(graph.NodeLibrary, []graphstore.NodeRow{
		{Key: "unused", Props: graph.Library{Slug: "unused", Source: graph.LibrarySourceManifest}},
	}))

	r := Run(store)
	assert.Contains(t, r.LibrariesWithoutLinks, "unused")
	// Weight loss: 15 pts for libraries_without_links (ratio 1/1) plus 25
	// pts for orphan_nodes (the same library has no edges at all, so it is
	// also the sole orphan among domain nodes).
	assert.InDelta(t, 60.0, r.QualityScore, 0.01)
	assert.False(t, r.Excellent)
}
