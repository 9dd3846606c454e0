package graphstore

import (
	"strings"

	"kgingest/internal/logging"
)

// FulltextHit is one ranked result from a fulltext search.
type FulltextHit struct {
	Key  string
	Rank float64
}

// IndexChunkText appends or replaces a chunk's text in the chunk_fts index.
// Because fts5 has no native upsert, it deletes any existing row for chunkID
// and then inserts the new text, as two separate statements outside any
// transaction; callers invoke it after the chunk's node row is upserted.
func (s *Store) IndexChunkText(chunkID, text string) error {
	return s.withRetry("IndexChunkText", func() error {
		if _, err := s.db.Exec(`DELETE FROM chunk_fts WHERE chunk_id = ?`, chunkID); err != nil {
			return err
		}
		_, err := s.db.Exec(`INSERT INTO chunk_fts (chunk_id, text) VALUES (?, ?)`, chunkID, text)
		return err
	})
}

// IndexEntityText appends or replaces an entity's searchable text (a File's
// path, a Symbol's name, a Library's display name) in entity_fts.
func (s *Store) IndexEntityText(entityKind, entityKey, text string) error {
	return s.withRetry("IndexEntityText", func() error {
		if _, err := s.db.Exec(`DELETE FROM entity_fts WHERE entity_kind = ? AND entity_key = ?`, entityKind, entityKey); err != nil {
			return err
		}
		_, err := s.db.Exec(`INSERT INTO entity_fts (entity_kind, entity_key, text) VALUES (?, ?, ?)`, entityKind, entityKey, text)
		return err
	})
}

// SearchChunks runs an fts5 MATCH query over chunk text, returning the
// chunk_id of each hit ranked by bm25, most relevant first.
func (s *Store) SearchChunks(query string, limit int) ([]FulltextHit, error) {
	return s.search(`SELECT chunk_id, bm25(chunk_fts) FROM chunk_fts WHERE chunk_fts MATCH ? ORDER BY bm25(chunk_fts) LIMIT ?`, query, limit)
}

// SearchEntities runs an fts5 MATCH query over file/symbol/library text.
func (s *Store) SearchEntities(query string, limit int) ([]FulltextHit, error) {
	return s.search(`SELECT entity_key, bm25(entity_fts) FROM entity_fts WHERE entity_fts MATCH ? ORDER BY bm25(entity_fts) LIMIT ?`, query, limit)
}

func (s *Store) search(sqlText, query string, limit int) ([]FulltextHit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "fulltext search")
	defer timer.Stop()

	escaped := EscapeFTS5Query(query)
	rows, err := s.db.Query(sqlText, escaped, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []FulltextHit
	for rows.Next() {
		var h FulltextHit
		if err := rows.Scan(&h.Key, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// fts5's query syntax treats some characters specially: double quote
// delimits a phrase, and : / + - ( ) * ^ have operator meaning.
// EscapeFTS5Query quotes the whole query as a single phrase so that raw
// file paths, symbol names, and commit messages never throw a syntax error.
func EscapeFTS5Query(q string) string {
	q = strings.ReplaceAll(q, `"`, `""`)
	return `"` + q + `"`
}
