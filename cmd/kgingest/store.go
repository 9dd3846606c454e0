package main

import (
	"fmt"
	"path/filepath"

	"kgingest/internal/graphstore"
)

func openStore() (*graphstore.Store, error) {
	path := cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(storeDir, filepath.Base(path))
	}
	s, err := graphstore.Open(path, cfg.Store.QueryTimeout, cfg.Store.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	return s, nil
}
