package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/comicshelf/comicshelf/internal/logger"
	"github.com/comicshelf/comicshelf/internal/media/images"
	"github.com/comicshelf/comicshelf/internal/service"
	"github.com/comicshelf/comicshelf/internal/watcher"
)

// PageWatcherHandle wraps the page directory watcher with shutdown capability.
type PageWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *PageWatcherHandle) Shutdown() error {
	h.cancel()
	return h.Watcher.Stop()
}

// ProvidePageWatcher starts watching the page directory and invalidates cached
// renditions of blobs changed outside the library.
func ProvidePageWatcher(i do.Injector) (*PageWatcherHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	pages := do.MustInvoke[*images.Storage](i)
	library := do.MustInvoke[*service.LibraryService](i)

	w, err := watcher.New(log.Component("watcher"), watcher.Options{IgnoreHidden: true})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(pages.Dir()); err != nil {
		_ = w.Stop()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("Page watcher error", "error", err)
		}
	}()
	go watcher.NewInvalidator(w, library, log.Component("watcher")).Run(ctx)

	log.Info("Page watcher started", "path", pages.Dir())

	return &PageWatcherHandle{
		Watcher: w,
		cancel:  cancel,
	}, nil
}

// RunStartupSweep reclaims blobs left behind by interrupted imports and
// failed deletes.
func RunStartupSweep(i do.Injector) {
	log := do.MustInvoke[*logger.Logger](i)
	sweeper := do.MustInvoke[*service.SweepService](i)

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := sweeper.Sweep(ctx); err != nil {
		log.Warn("Startup sweep failed", "error", err)
	}
}
