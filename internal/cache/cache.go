package cache

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/comicshelf/comicshelf/internal/media/images"
)

// Config bounds the two image caches.
type Config struct {
	ThumbnailEntries int
	ThumbnailBytes   int64
	PageEntries      int
	PageBytes        int64
}

// DefaultConfig mirrors the historical limits: 50 thumbnails / 100 MiB.
func DefaultConfig() Config {
	return Config{
		ThumbnailEntries: 50,
		ThumbnailBytes:   100 << 20,
		PageEntries:      10,
		PageBytes:        256 << 20,
	}
}

// PageSet is a comic's full run of display renditions. Nil entries are pages
// that could not be loaded.
type PageSet struct {
	Pages []*images.Image
}

// Cost sums the rendition sizes.
func (p *PageSet) Cost() int64 {
	var total int64
	for _, img := range p.Pages {
		total += img.Cost()
	}
	return total
}

// Cache holds thumbnails and page sets keyed by comic ID.
type Cache struct {
	Thumbnails *LRU[string, *images.Image]
	Pages      *LRU[string, *PageSet]
	logger     *slog.Logger
}

// New creates both caches.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	thumbs, err := NewLRU[string, *images.Image](cfg.ThumbnailEntries, cfg.ThumbnailBytes)
	if err != nil {
		return nil, fmt.Errorf("thumbnail cache: %w", err)
	}
	pages, err := NewLRU[string, *PageSet](cfg.PageEntries, cfg.PageBytes)
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}

	return &Cache{Thumbnails: thumbs, Pages: pages, logger: logger}, nil
}

// Thumbnail returns the cached thumbnail for a comic.
func (c *Cache) Thumbnail(comicID string) (*images.Image, bool) {
	return c.Thumbnails.Get(comicID)
}

// PutThumbnail caches a comic's thumbnail.
func (c *Cache) PutThumbnail(comicID string, img *images.Image) {
	if !c.Thumbnails.Put(comicID, img, img.Cost()) {
		c.logger.Debug("thumbnail too large to cache", "comic_id", comicID, "size", humanize.IBytes(uint64(img.Cost())))
	}
}

// PageSet returns the cached page set for a comic.
func (c *Cache) PageSet(comicID string) (*PageSet, bool) {
	return c.Pages.Get(comicID)
}

// PutPageSet caches a comic's page set.
func (c *Cache) PutPageSet(comicID string, set *PageSet) {
	cost := set.Cost()
	if !c.Pages.Put(comicID, set, cost) {
		c.logger.Debug("page set too large to cache", "comic_id", comicID, "size", humanize.IBytes(uint64(cost)))
	}
}

// Invalidate drops both entries for one comic.
func (c *Cache) Invalidate(comicID string) {
	c.Thumbnails.Remove(comicID)
	c.Pages.Remove(comicID)
}

// Clear drops every entry in both caches.
func (c *Cache) Clear() {
	c.Thumbnails.Purge()
	c.Pages.Purge()
	c.logger.Debug("image caches cleared")
}

// Stats is a point-in-time view of cache occupancy.
type Stats struct {
	ThumbnailEntries   int
	ThumbnailBytes     int64
	ThumbnailEvictions uint64
	PageEntries        int
	PageBytes          int64
	PageEvictions      uint64
}

// Stats reports current occupancy.
func (c *Cache) Stats() Stats {
	return Stats{
		ThumbnailEntries:   c.Thumbnails.Len(),
		ThumbnailBytes:     c.Thumbnails.Cost(),
		ThumbnailEvictions: c.Thumbnails.Evictions(),
		PageEntries:        c.Pages.Len(),
		PageBytes:          c.Pages.Cost(),
		PageEvictions:      c.Pages.Evictions(),
	}
}

// LogValue renders stats with human-readable sizes.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("thumbnails", s.ThumbnailEntries),
		slog.String("thumbnail_bytes", humanize.IBytes(uint64(s.ThumbnailBytes))),
		slog.Int("page_sets", s.PageEntries),
		slog.String("page_bytes", humanize.IBytes(uint64(s.PageBytes))),
		slog.Uint64("evictions", s.ThumbnailEvictions+s.PageEvictions),
	)
}
