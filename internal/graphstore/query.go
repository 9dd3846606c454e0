package graphstore

import (
	"database/sql"
	"encoding/json"

	"kgingest/internal/graph"
)

// GetNodeProps fetches the raw JSON props for a single node, or
// (nil, false, nil) if it does not exist.
func (s *Store) GetNodeProps(kind graph.NodeKind, key string) (json.RawMessage, bool, error) {
	var props string
	err := s.db.QueryRow(`SELECT props FROM nodes WHERE kind = ? AND key = ?`, string(kind), key).Scan(&props)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(props), true, nil
}

// CountNodes returns the number of nodes of a given kind.
func (s *Store) CountNodes(kind graph.NodeKind) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE kind = ?`, string(kind)).Scan(&n)
	return n, err
}

// CountEdges returns the number of edges of a given kind.
func (s *Store) CountEdges(kind graph.EdgeKind) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM edges WHERE kind = ?`, string(kind)).Scan(&n)
	return n, err
}

// NodeKeys returns every key for a given node kind, for orphan/coverage scans
// in the Auditor (C11).
func (s *Store) NodeKeys(kind graph.NodeKind) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM nodes WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// KeysWithoutIncomingEdge returns every key of nodeKind that has no edge of
// edgeKind where it is the object — e.g. Chunks with no CONTAINS_CHUNK from a
// File, Libraries with no USES_LIBRARY.
func (s *Store) KeysWithoutIncomingEdge(nodeKind graph.NodeKind, edgeKind graph.EdgeKind) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT n.key FROM nodes n
		WHERE n.kind = ?
		AND NOT EXISTS (
			SELECT 1 FROM edges e
			WHERE e.kind = ? AND e.object_kind = ? AND e.object_key = n.key
		)
	`, string(nodeKind), string(edgeKind), string(nodeKind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// KeysWithoutOutgoingEdge returns every key of nodeKind that has no edge of
// edgeKind where it is the subject — e.g. Chunks with no PART_OF, or
// Requirements never attached via PART_OF.
func (s *Store) KeysWithoutOutgoingEdge(nodeKind graph.NodeKind, edgeKind graph.EdgeKind) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT n.key FROM nodes n
		WHERE n.kind = ?
		AND NOT EXISTS (
			SELECT 1 FROM edges e
			WHERE e.kind = ? AND e.subject_kind = ? AND e.subject_key = n.key
		)
	`, string(nodeKind), string(edgeKind), string(nodeKind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// OrphanKeys returns every key of nodeKind with zero edges touching it as
// subject or object across all edge kinds, for the Auditor's (C11) orphan
// scan. System labels (DerivationWatermark, PipelineState) are excluded by
// the caller, not here.
func (s *Store) OrphanKeys(nodeKind graph.NodeKind) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT n.key FROM nodes n
		WHERE n.kind = ?
		AND NOT EXISTS (SELECT 1 FROM edges e WHERE e.subject_kind = ? AND e.subject_key = n.key)
		AND NOT EXISTS (SELECT 1 FROM edges e WHERE e.object_kind = ? AND e.object_key = n.key)
	`, string(nodeKind), string(nodeKind), string(nodeKind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AllNodeProps returns the raw JSON props of every node of kind, for checks
// (decode statistics, library coverage) that need to inspect node bodies
// rather than just keys.
func (s *Store) AllNodeProps(kind graph.NodeKind) ([]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT props FROM nodes WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(p))
	}
	return out, rows.Err()
}

// EdgeObjectKeys returns the object_key of every edge of kind originating
// from subjectKey, used by C9/C10 to walk e.g. a commit's TOUCHED files.
func (s *Store) EdgeObjectKeys(kind graph.EdgeKind, subjectKind graph.NodeKind, subjectKey string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT object_key FROM edges
		WHERE kind = ? AND subject_kind = ? AND subject_key = ?
	`, string(kind), string(subjectKind), subjectKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
