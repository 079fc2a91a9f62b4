package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/comicshelf/comicshelf/internal/cache"
	"github.com/comicshelf/comicshelf/internal/config"
	"github.com/comicshelf/comicshelf/internal/logger"
	"github.com/comicshelf/comicshelf/internal/media/images"
)

// ProvidePageStorage provides the page blob store.
func ProvidePageStorage(i do.Injector) (*images.Storage, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	_ = do.MustInvoke[*DataDirLock](i)

	pages, err := images.NewStorage(cfg.PagesPath(), cfg.Storage.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("page storage: %w", err)
	}

	log.Info("Page storage initialized", "path", pages.Dir(), "read_timeout", cfg.Storage.ReadTimeout)
	return pages, nil
}

// ProvideTransformer provides the image decoder and resizer.
func ProvideTransformer(i do.Injector) (*images.Transformer, error) {
	return images.NewTransformer(), nil
}

// ProvideImageCache provides the rendered image cache.
func ProvideImageCache(i do.Injector) (*cache.Cache, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return cache.New(cache.Config{
		ThumbnailEntries: cfg.Cache.ThumbnailEntries,
		ThumbnailBytes:   cfg.Cache.ThumbnailBytes,
		PageEntries:      cfg.Cache.PageEntries,
		PageBytes:        cfg.Cache.PageBytes,
	}, log.Component("cache"))
}
