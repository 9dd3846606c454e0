package graphstore

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kgingest/internal/graph"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := Open(path, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesSchema(t *testing.T) {
	s := openTestStore(t)
	n, err := s.CountNodes(graph.NodeCommit)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestBatchUpsertNodesIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	rows := []NodeRow{
		{Key: "abc123", Props: graph.Commit{Hash: "abc123", Message: "init"}},
	}
	require.NoError(t, s.BatchUpsertNodes(graph.NodeCommit, rows))
	require.NoError(t, s.BatchUpsertNodes(graph.NodeCommit, rows))

	n, err := s.CountNodes(graph.NodeCommit)
	require.NoError(t, err)
	require.Equal(t, 1, n, "re-running the same upsert must not create duplicates")
}

func TestBatchUpsertNodesUpdatesProps(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.BatchUpsertNodes(graph.NodeFile, []NodeRow{
		{Key: "a.go", Props: graph.File{Path: "a.go", Size: 10}},
	}))
	require.NoError(t, s.BatchUpsertNodes(graph.NodeFile, []NodeRow{
		{Key: "a.go", Props: graph.File{Path: "a.go", Size: 20}},
	}))

	props, ok, err := s.GetNodeProps(graph.NodeFile, "a.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(props), `"size":20`)
}

func TestBatchUpsertEdges(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.BatchUpsertEdges(graph.EdgePartOf, []EdgeRow{
		{SubjectKind: graph.NodeChunk, SubjectKey: "c1", ObjectKind: graph.NodeFile, ObjectKey: "a.go"},
	}))

	n, err := s.CountEdges(graph.EdgePartOf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	objs, err := s.EdgeObjectKeys(graph.EdgePartOf, graph.NodeChunk, "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"a.go"}, objs)
}

func TestScopedTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	err := s.ScopedTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO nodes (kind, key, props, created_at, updated_at) VALUES ('File','x.go','{}','t','t')`); err != nil {
			return err
		}
		return sql.ErrTxDone
	})
	require.Error(t, err)

	n, err := s.CountNodes(graph.NodeFile)
	require.NoError(t, err)
	require.Equal(t, 0, n, "failed transaction must leave no partial rows")
}

func TestFulltextSearchRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexChunkText("c1", "the quick brown fox jumps over the lazy dog"))
	require.NoError(t, s.IndexChunkText("c2", "an unrelated sentence about databases"))

	hits, err := s.SearchChunks("fox", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "c1", hits[0].Key)
}

func TestFulltextQueryEscapesSpecialChars(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexEntityText("File", "a.go", "internal/graph/types.go"))

	hits, err := s.SearchEntities("internal/graph/types.go", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestResetDropsAllData(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.BatchUpsertNodes(graph.NodeFile, []NodeRow{{Key: "a.go", Props: graph.File{Path: "a.go"}}}))
	require.NoError(t, s.Reset())

	n, err := s.CountNodes(graph.NodeFile)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestKeysWithoutIncomingEdge(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.BatchUpsertNodes(graph.NodeChunk, []NodeRow{
		{Key: "c1", Props: graph.Chunk{ID: "c1"}},
		{Key: "c2", Props: graph.Chunk{ID: "c2"}},
	}))
	require.NoError(t, s.BatchUpsertEdges(graph.EdgeMentionsSymbol, []EdgeRow{
		{SubjectKind: graph.NodeSymbol, SubjectKey: "sym1", ObjectKind: graph.NodeChunk, ObjectKey: "c1"},
	}))

	orphans, err := s.KeysWithoutIncomingEdge(graph.NodeChunk, graph.EdgeMentionsSymbol)
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, orphans)
}
