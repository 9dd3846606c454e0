package xref

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgingest/internal/graphstore"
)

func openTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.Open(filepath.Join(t.TempDir(), "graph.db"), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSweepMentionsSymbolFindsOccurrences(t *testing.T) {
	chunks := []ChunkRecord{{ID: "c1", Text: "calls ParseFile and then ParseFile again, plus Widget"}}
	symbols := []SymbolRef{{UID: "a.go#ParseFile:func", Name: "ParseFile"}, {UID: "b.go#Widget:class", Name: "Widget"}}
	out := SweepMentionsSymbol(chunks, symbols, 10)
	require.Contains(t, out, "c1")
	assert.ElementsMatch(t, []string{"a.go#ParseFile:func", "b.go#Widget:class"}, out["c1"])
}

func TestSweepMentionsSymbolBoundedToMaxPerChunk(t *testing.T) {
	chunks := []ChunkRecord{{ID: "c1", Text: "alpha beta gamma delta epsilon"}}
	symbols := []SymbolRef{
		{UID: "s1", Name: "alpha"}, {UID: "s2", Name: "beta"}, {UID: "s3", Name: "gamma"},
		{UID: "s4", Name: "delta"}, {UID: "s5", Name: "epsilon"},
	}
	out := SweepMentionsSymbol(chunks, symbols, 2)
	assert.Len(t, out["c1"], 2)
}

func TestSweepMentionsSymbolIgnoresShortTokens(t *testing.T) {
	chunks := []ChunkRecord{{ID: "c1", Text: "x y ok"}}
	symbols := []SymbolRef{{UID: "s1", Name: "ok"}}
	out := SweepMentionsSymbol(chunks, symbols, 10)
	assert.Empty(t, out["c1"])
}

func TestSweepMentionsLibraryMatchesAliases(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.IndexChunkText("c1", "We use sklearn for classification."))
	lib := LibraryRef{Slug: "scikit-learn", DisplayName: "scikit-learn", Aliases: []string{"sklearn"}}
	out, err := SweepMentionsLibrary(store, lib, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"scikit-learn"}, out["c1"])
}

func TestSweepMentionsFileMatchesKnownPaths(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.IndexChunkText("c1", "see internal/graphstore/store.go for details"))
	out, err := SweepMentionsFile(store, "internal/graphstore/store.go", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/graphstore/store.go"}, out["c1"])

	out2, err := SweepMentionsFile(store, "internal/unrelated.go", 10)
	require.NoError(t, err)
	assert.Empty(t, out2["c1"])
}

func TestSweepMentionsCommitMatchesKnownHash(t *testing.T) {
	chunks := []ChunkRecord{{ID: "c1", Text: "fixed in a1b2c3d and nowhere else"}}
	known := map[string]string{"a1b2c3d4e5f60718293a4b5c6d7e8f9a0b1c2d3e": "a1b2c3d"}
	out := SweepMentionsCommit(chunks, known)
	assert.Contains(t, out["c1"], "a1b2c3d4e5f60718293a4b5c6d7e8f9a0b1c2d3e")
}

func TestDeriveRelatesToBridgesConvergingEntities(t *testing.T) {
	perChunk := map[string][]EntityRef{
		"c1": {{Kind: "Symbol", Key: "a.go#Foo:func"}, {Kind: "Library", Key: "scikit-learn"}},
		"c2": {{Kind: "Symbol", Key: "a.go#Foo:func"}, {Kind: "Library", Key: "scikit-learn"}},
	}
	rows := DeriveRelatesTo(perChunk)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, *rows[0].Weight)
}

func TestDeriveRelatesToIgnoresSingleEntityChunks(t *testing.T) {
	perChunk := map[string][]EntityRef{"c1": {{Kind: "Symbol", Key: "a.go#Foo:func"}}}
	assert.Empty(t, DeriveRelatesTo(perChunk))
}

func TestDeriveCoOccursWithTalliesSharedCommits(t *testing.T) {
	commits := []CommitFiles{
		{Hash: "h1", Files: []string{"a.go", "b.go"}},
		{Hash: "h2", Files: []string{"a.go", "b.go", "c.go"}},
	}
	rows := DeriveCoOccursWith(commits)
	require.NotEmpty(t, rows)
	var found bool
	for _, r := range rows {
		if r.SubjectKey == "a.go" && r.ObjectKey == "b.go" {
			found = true
			require.NotNil(t, r.Weight)
			assert.Equal(t, 2.0, *r.Weight)
		}
	}
	assert.True(t, found)
}

func TestDeriveCoOccursWithDedupesWithinCommit(t *testing.T) {
	commits := []CommitFiles{{Hash: "h1", Files: []string{"a.go", "a.go", "b.go"}}}
	rows := DeriveCoOccursWith(commits)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, *rows[0].Weight)
}

func TestBatchChunksSplitsIntoBoundedGroups(t *testing.T) {
	chunks := make([]ChunkRecord, BatchSize+5)
	for i := range chunks {
		chunks[i] = ChunkRecord{ID: string(rune(i))}
	}
	batches := BatchChunks(chunks)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], BatchSize)
	assert.Len(t, batches[1], 5)
}

func TestLooksLikeHashRejectsNonHex(t *testing.T) {
	assert.False(t, looksLikeHash("not-hex-at-all"))
	assert.True(t, looksLikeHash("a1b2c3d"))
}
