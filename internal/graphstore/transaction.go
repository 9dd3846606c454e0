package graphstore

import (
	"database/sql"
	"fmt"
)

// ScopedTransaction runs fn inside a transaction that commits on success and
// rolls back on any error or panic, guaranteeing no transaction is ever left
// open on an exit path (teacher idiom: internal/store/local.go).
func (s *Store) ScopedTransaction(fn func(tx *sql.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}
