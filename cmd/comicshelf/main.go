// Package main provides the entry point for the ComicShelf library process.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/comicshelf/comicshelf/internal/di"
	"github.com/comicshelf/comicshelf/internal/logger"
	"github.com/comicshelf/comicshelf/internal/service"
)

func main() {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap library: %v\n", err)
		_ = injector.Shutdown()
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)
	library := do.MustInvoke[*service.LibraryService](injector)

	// SIGHUP drops rendered images, the process-level equivalent of a
	// low-memory warning.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			library.ClearCaches()
			continue
		}
		break
	}

	log.Info("Shutting down gracefully...")

	// The container shuts services down in reverse dependency order:
	// watcher, store, then the data directory lock.
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("Library closed")
}
