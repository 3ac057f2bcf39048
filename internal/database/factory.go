package database

import (
	"fmt"
	"os"
	"path/filepath"

	"travellog/internal/config"
	"travellog/internal/travellog"
)

// NewStoreFromConfig creates a RecordStore implementation based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, policy travellog.InsertPolicy) (travellog.RecordStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return openStore(filepath.Join(cfg.DataDir, "records.db"), policy)
	case "memory":
		return openStore(":memory:", policy)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func openStore(path string, policy travellog.InsertPolicy) (travellog.RecordStore, error) {
	store, err := NewSQLiteStore(path, policy)
	if err != nil {
		return nil, err
	}
	return store, nil
}
