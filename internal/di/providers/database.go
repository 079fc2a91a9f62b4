package providers

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/samber/do/v2"

	"github.com/comicshelf/comicshelf/internal/config"
	"github.com/comicshelf/comicshelf/internal/logger"
	"github.com/comicshelf/comicshelf/internal/store"
	"github.com/comicshelf/comicshelf/internal/store/sqlite"
)

// DataDirLock holds the exclusive lock on the data directory for the life of
// the process.
type DataDirLock struct {
	lock *flock.Flock
}

// Shutdown implements do.Shutdownable.
func (h *DataDirLock) Shutdown() error {
	return h.lock.Unlock()
}

// ProvideDataDirLock creates the data directory and takes its process lock.
// A second process pointed at the same library fails here instead of
// corrupting the record store.
func ProvideDataDirLock(i do.Injector) (*DataDirLock, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another comicshelf instance is already using this data directory")
	}

	log.Info("Data directory locked", "lock", cfg.LockPath())
	return &DataDirLock{lock: lock}, nil
}

// StoreHandle wraps the comic repository with shutdown capability.
type StoreHandle struct {
	store.ComicRepository
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the record store for the configured backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	_ = do.MustInvoke[*DataDirLock](i)

	dbPath := cfg.DatabasePath()

	var (
		repo store.ComicRepository
		err  error
	)
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		repo, err = sqlite.Open(dbPath, log.Component("sqlite"))
	default:
		repo, err = store.New(dbPath, log.Component("store"))
	}
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", dbPath, "backend", cfg.Storage.Backend)

	return &StoreHandle{ComicRepository: repo}, nil
}
