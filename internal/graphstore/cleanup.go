package graphstore

import (
	"database/sql"

	"kgingest/internal/graph"
	"kgingest/internal/logging"
)

// DeleteNodes removes a batch of same-kind nodes and every edge touching
// them (as subject or object), used by the orchestrator's cleanup pass to
// drop Files absent from the latest manifest and those Files' Chunks
// (spec.md §4.10).
func (s *Store) DeleteNodes(kind graph.NodeKind, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "DeleteNodes:"+string(kind))
	defer timer.Stop()

	return s.withRetry("DeleteNodes", func() error {
		return s.ScopedTransaction(func(tx *sql.Tx) error {
			for _, key := range keys {
				if _, err := tx.Exec(`DELETE FROM edges WHERE (subject_kind = ? AND subject_key = ?) OR (object_kind = ? AND object_key = ?)`,
					string(kind), key, string(kind), key); err != nil {
					return err
				}
				if _, err := tx.Exec(`DELETE FROM nodes WHERE kind = ? AND key = ?`, string(kind), key); err != nil {
					return err
				}
			}
			return nil
		})
	})
}
