package remote

import (
	"fmt"
	"os"
	"path/filepath"

	"travellog/internal/config"
	"travellog/internal/travellog"
)

// NewRemoteFromConfig creates a Remote implementation based on the remote config type.
// Implementations holding resources also implement io.Closer.
func NewRemoteFromConfig(cfg config.RemoteConfig, clock travellog.Clock, logger travellog.Logger) (travellog.Remote, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite remote")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
		ledger, err := NewSQLiteLedger(filepath.Join(cfg.DataDir, "ledger.db"), clock, cfg.ConfirmDelay.Duration, logger)
		if err != nil {
			return nil, err
		}
		return ledger, nil
	case "memory":
		return NewMemoryLedger(clock, WithConfirmDelay(cfg.ConfirmDelay.Duration)), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
