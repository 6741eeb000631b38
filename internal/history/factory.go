package history

import (
	"fmt"
	"os"
	"path/filepath"

	"sfimport/internal/config"
)

// DatabaseFileName is the journal file created under HistoryConfig.DataDir.
const DatabaseFileName = "history.db"

// NewStoreFromConfig opens the journal selected by cfg.Type.
func NewStoreFromConfig(cfg config.HistoryConfig) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, DatabaseFileName))
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}
