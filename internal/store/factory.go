package store

import (
	"fmt"
	"path/filepath"

	"cardsync/internal/config"
)

// NewStoreFromConfig creates a contact store based on the database config
// type and brings its schema up to date.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		path = filepath.Join(cfg.DataDir, "contacts.db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	s, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}
