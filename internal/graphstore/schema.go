package graphstore

import (
	"fmt"

	"kgingest/internal/logging"
)

// ApplySchema idempotently creates the tables, uniqueness constraints, range
// indexes, and fulltext indexes the pipeline depends on (spec.md §4.1).
//
// Nodes and edges are stored in two generic tables keyed by (kind, key) /
// (kind, subject, object) rather than one table per label: this is the
// practical SQLite reading of "uniqueness constraints on Commit.hash,
// File.path, Chunk.id, Symbol.uid, Library.slug, Requirement.id,
// Sprint.number" — each label's natural key becomes the node's primary key,
// and MERGE-style upserts become `INSERT ... ON CONFLICT DO UPDATE`.
func (s *Store) ApplySchema() error {
	timer := logging.StartTimer(logging.CategoryStore, "ApplySchema")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applySchemaLocked()
}

// applySchemaLocked is ApplySchema's body, callable from other Store methods
// that already hold s.mu (e.g. Reset).
func (s *Store) applySchemaLocked() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			kind       TEXT NOT NULL,
			key        TEXT NOT NULL,
			props      TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (kind, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind)`,

		`CREATE TABLE IF NOT EXISTS edges (
			kind        TEXT NOT NULL,
			subject_kind TEXT NOT NULL,
			subject_key TEXT NOT NULL,
			object_kind TEXT NOT NULL,
			object_key  TEXT NOT NULL,
			props       TEXT NOT NULL DEFAULT '{}',
			weight      REAL,
			confidence  REAL,
			timestamp   TEXT,
			created_at  TEXT NOT NULL,
			PRIMARY KEY (kind, subject_key, object_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_kind ON edges(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_subject ON edges(subject_kind, subject_key)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_object ON edges(object_kind, object_key)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_timestamp ON edges(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_created_at ON edges(created_at)`,

		// Fulltext index over Chunk.text (C9 MENTIONS_LIBRARY/MENTIONS_FILE sweeps).
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
			chunk_id UNINDEXED, text, tokenize = 'porter unicode61'
		)`,

		// Fulltext index over {File.path, Symbol.name, Library.display_name}.
		`CREATE VIRTUAL TABLE IF NOT EXISTS entity_fts USING fts5(
			entity_kind UNINDEXED, entity_key UNINDEXED, text, tokenize = 'porter unicode61'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema failed on %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
