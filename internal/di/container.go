// Package di provides dependency injection configuration for the comic library.
package di

import (
	"github.com/samber/do/v2"

	"github.com/comicshelf/comicshelf/internal/cache"
	"github.com/comicshelf/comicshelf/internal/config"
	"github.com/comicshelf/comicshelf/internal/di/providers"
	"github.com/comicshelf/comicshelf/internal/logger"
	"github.com/comicshelf/comicshelf/internal/media/images"
	"github.com/comicshelf/comicshelf/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideDataDirLock)

	// Persistence
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvidePageStorage)

	// Imaging
	do.Provide(injector, providers.ProvideTransformer)
	do.Provide(injector, providers.ProvideImageCache)

	// Business services
	do.Provide(injector, providers.ProvideLibraryService)
	do.Provide(injector, providers.ProvideSessionService)
	do.Provide(injector, providers.ProvideSweepService)

	// Workers
	do.Provide(injector, providers.ProvidePageWatcher)

	return injector
}

// Bootstrap initializes all services and starts background work.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)

	// The lock must be held before anything touches the data directory.
	if _, err := do.Invoke[*providers.DataDirLock](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*images.Storage](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*images.Transformer](injector)
	if _, err := do.Invoke[*cache.Cache](injector); err != nil {
		return err
	}

	// Business services
	_ = do.MustInvoke[*service.LibraryService](injector)
	_ = do.MustInvoke[*service.SessionService](injector)
	_ = do.MustInvoke[*service.SweepService](injector)

	// Workers
	if _, err := do.Invoke[*providers.PageWatcherHandle](injector); err != nil {
		return err
	}

	go providers.RunStartupSweep(injector)

	return nil
}
