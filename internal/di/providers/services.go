package providers

import (
	"github.com/samber/do/v2"

	"github.com/comicshelf/comicshelf/internal/cache"
	"github.com/comicshelf/comicshelf/internal/config"
	"github.com/comicshelf/comicshelf/internal/logger"
	"github.com/comicshelf/comicshelf/internal/media/images"
	"github.com/comicshelf/comicshelf/internal/ratelimit"
	"github.com/comicshelf/comicshelf/internal/service"
)

// ProvideLibraryService provides the library facade.
func ProvideLibraryService(i do.Injector) (*service.LibraryService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	pages := do.MustInvoke[*images.Storage](i)
	transformer := do.MustInvoke[*images.Transformer](i)
	imageCache := do.MustInvoke[*cache.Cache](i)

	libCfg := service.DefaultLibraryConfig()
	libCfg.Workers = cfg.Import.Workers

	return service.NewLibraryService(
		storeHandle.ComicRepository,
		pages,
		transformer,
		imageCache,
		libCfg,
		log.Component("library"),
	), nil
}

// ProvideSessionService provides the lock screen session.
func ProvideSessionService(i do.Injector) (*service.SessionService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	limiter := ratelimit.New(unlockInterval, unlockBurst)
	return service.NewSessionService(
		storeHandle.ComicRepository,
		cfg.Lock.DefaultPasscode,
		limiter,
		log.Component("session"),
	), nil
}

// ProvideSweepService provides the orphan blob sweep.
func ProvideSweepService(i do.Injector) (*service.SweepService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	pages := do.MustInvoke[*images.Storage](i)

	return service.NewSweepService(
		storeHandle.ComicRepository,
		pages,
		cfg.Storage.SweepGrace,
		log.Component("sweep"),
	), nil
}
