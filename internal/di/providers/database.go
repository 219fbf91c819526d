package providers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/grimoireapp/grimoire-server/internal/config"
	"github.com/grimoireapp/grimoire-server/internal/logger"
	"github.com/grimoireapp/grimoire-server/internal/store"
	"github.com/grimoireapp/grimoire-server/internal/store/badgerdb"
	"github.com/grimoireapp/grimoire-server/internal/store/sqlite"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	store.Store
	Path string
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// StorePath returns where the configured driver keeps its data.
func StorePath(cfg *config.Config) string {
	if cfg.Storage.Driver == config.DriverSQLite {
		return filepath.Join(cfg.Storage.DataPath, "grimoire.db")
	}
	return filepath.Join(cfg.Storage.DataPath, "db")
}

// ProvideStore opens the configured store backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*MetricsHandle](i)

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := StorePath(cfg)
	storeLog := log.WithComponent("store").Logger
	opts := []store.Option{store.WithRetryObserver(m.Collector.RecordConflictRetry)}

	var (
		db  store.Store
		err error
	)
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err = sqlite.Open(path, storeLog, opts...)
	default:
		db, err = badgerdb.Open(path, storeLog, opts...)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "driver", cfg.Storage.Driver, "path", path)

	return &StoreHandle{Store: db, Path: path}, nil
}
