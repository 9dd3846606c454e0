// Package graphstore is the Store Adapter (C1): a thread-safe, typed handle
// onto a labeled property graph persisted in embedded SQLite. It gives the
// rest of the pipeline MERGE-style upserts, UNWIND-style batches,
// parameterized queries, and fulltext search, without depending on an
// external graph-database service (spec.md treats the graph engine as
// opaque).
package graphstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"kgingest/internal/kgerrors"
	"kgingest/internal/logging"
)

// Store is the thread-safe graph store handle.
type Store struct {
	db          *sql.DB
	mu          sync.RWMutex
	path        string
	maxRetries  int
	queryTimeout time.Duration
}

// Open opens (creating if necessary) the SQLite-backed graph store at path.
func Open(path string, queryTimeout time.Duration, maxRetries int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; SQLite serializes anyway
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryStore).Warn("pragma failed: %s: %v", pragma, err)
		}
	}

	if maxRetries <= 0 {
		maxRetries = 5
	}
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}

	s := &Store{db: db, path: path, maxRetries: maxRetries, queryTimeout: queryTimeout}
	if err := s.ApplySchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset drops every pipeline-owned table, for profile=full with reset_graph=true.
// Destructive: callers must only invoke this on an explicit reset request.
func (s *Store) Reset() error {
	timer := logging.StartTimer(logging.CategoryStore, "Reset")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"nodes", "edges", "chunk_fts", "entity_fts",
	}
	for _, t := range tables {
		if _, err := s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", t)); err != nil {
			return kgerrors.PerStage("graphstore", "failed to drop table "+t, err)
		}
	}
	return s.applySchemaLocked()
}

// withRetry retries fn up to s.maxRetries times with exponential backoff and
// jitter on transient (SQLITE_BUSY-shaped) errors, per spec.md §5.
func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		logging.Get(logging.CategoryStore).Warn("%s: transient error (attempt %d/%d): %v", op, attempt+1, s.maxRetries, lastErr)
		time.Sleep(backoff + jitter(backoff))
		backoff *= 2
	}
	return kgerrors.Transient("graphstore", op+" exhausted retries", lastErr)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, []string{"database is locked", "busy", "SQLITE_BUSY", "SQLITE_LOCKED"})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func jitter(base time.Duration) time.Duration {
	return time.Duration(time.Now().UnixNano() % int64(base/2+1))
}
