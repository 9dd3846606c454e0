package graphstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kgingest/internal/graph"
	"kgingest/internal/kgerrors"
	"kgingest/internal/logging"
)

// NodeRow is one UNWIND-style row for BatchUpsertNodes: Key identifies the
// node within its kind, Props is marshaled to the node's opaque JSON column.
type NodeRow struct {
	Key   string
	Props any
}

// EdgeRow is one UNWIND-style row for BatchUpsertEdges.
type EdgeRow struct {
	SubjectKind graph.NodeKind
	SubjectKey  string
	ObjectKind  graph.NodeKind
	ObjectKey   string
	Props       any
	Weight      *float64
	Confidence  *float64
	Timestamp   *time.Time
}

// BatchUpsertNodes MERGEs a batch of same-kind nodes in one transaction:
// existing (kind, key) rows have their props replaced and updated_at bumped,
// new rows are inserted with created_at = updated_at (spec.md §4.1, §5).
func (s *Store) BatchUpsertNodes(kind graph.NodeKind, rows []NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "BatchUpsertNodes:"+string(kind))
	defer timer.Stop()

	return s.withRetry("BatchUpsertNodes:"+string(kind), func() error {
		return s.ScopedTransaction(func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`
				INSERT INTO nodes (kind, key, props, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (kind, key) DO UPDATE SET
					props = excluded.props,
					updated_at = excluded.updated_at
			`)
			if err != nil {
				return fmt.Errorf("prepare node upsert: %w", err)
			}
			defer stmt.Close()

			now := graph.ISO8601(nowFunc())
			for _, row := range rows {
				propsJSON, err := json.Marshal(row.Props)
				if err != nil {
					return kgerrors.PerFile("graphstore", "marshal props for "+row.Key, err)
				}
				if _, err := stmt.Exec(string(kind), row.Key, string(propsJSON), now, now); err != nil {
					return fmt.Errorf("upsert node %s/%s: %w", kind, row.Key, err)
				}
			}
			return nil
		})
	})
}

// BatchUpsertEdges MERGEs a batch of same-kind edges in one transaction.
// The primary key is (kind, subject_key, object_key); callers that need a
// multigraph (e.g. repeated TOUCHED at different commits) must fold the
// distinguishing field (commit hash) into subject_key or object_key.
func (s *Store) BatchUpsertEdges(kind graph.EdgeKind, rows []EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "BatchUpsertEdges:"+string(kind))
	defer timer.Stop()

	return s.withRetry("BatchUpsertEdges:"+string(kind), func() error {
		return s.ScopedTransaction(func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`
				INSERT INTO edges (kind, subject_kind, subject_key, object_kind, object_key,
					props, weight, confidence, timestamp, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (kind, subject_key, object_key) DO UPDATE SET
					props = excluded.props,
					weight = excluded.weight,
					confidence = excluded.confidence,
					timestamp = excluded.timestamp
			`)
			if err != nil {
				return fmt.Errorf("prepare edge upsert: %w", err)
			}
			defer stmt.Close()

			now := graph.ISO8601(nowFunc())
			for _, row := range rows {
				propsJSON, err := json.Marshal(row.Props)
				if err != nil {
					return kgerrors.PerFile("graphstore", "marshal props for edge "+row.SubjectKey+"->"+row.ObjectKey, err)
				}
				var ts sql.NullString
				if row.Timestamp != nil {
					ts = sql.NullString{String: graph.ISO8601(*row.Timestamp), Valid: true}
				}
				if _, err := stmt.Exec(
					string(kind), string(row.SubjectKind), row.SubjectKey,
					string(row.ObjectKind), row.ObjectKey,
					string(propsJSON), nullFloat(row.Weight), nullFloat(row.Confidence), ts, now,
				); err != nil {
					return fmt.Errorf("upsert edge %s %s->%s: %w", kind, row.SubjectKey, row.ObjectKey, err)
				}
			}
			return nil
		})
	})
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// nowFunc is indirected so tests can hold a fixed clock; production always
// calls time.Now.
var nowFunc = time.Now
