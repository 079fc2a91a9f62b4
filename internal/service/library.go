// Package service provides the library facade and the session and maintenance
// services that sit on top of the comic repository and page storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/comicshelf/comicshelf/internal/cache"
	"github.com/comicshelf/comicshelf/internal/domain"
	domainerrors "github.com/comicshelf/comicshelf/internal/errors"
	"github.com/comicshelf/comicshelf/internal/media/images"
	"github.com/comicshelf/comicshelf/internal/normalize"
	"github.com/comicshelf/comicshelf/internal/store"
)

// BlobStore is the page storage the library reads and writes.
// *images.Storage implements it.
type BlobStore interface {
	Save(ref string, blob []byte) error
	GetContext(ctx context.Context, ref string) ([]byte, error)
	Delete(ref string) error
}

// LibraryConfig tunes the library facade.
type LibraryConfig struct {
	// Workers bounds concurrent image work for one import or page load.
	Workers      int
	ThumbnailBox images.Box
	DisplayBox   images.Box
}

// DefaultLibraryConfig returns the stock worker count and render boxes.
func DefaultLibraryConfig() LibraryConfig {
	return LibraryConfig{
		Workers:      4,
		ThumbnailBox: images.ThumbnailBox,
		DisplayBox:   images.DisplayBox,
	}
}

// PageFailure describes one input image that could not be imported.
type PageFailure struct {
	Index int    // position in the caller's input
	Name  string // file name, when imported from files
	Err   error
}

// AddResult is the outcome of an import. Skipped images are excluded from
// the comic's pages; the comic is created regardless.
type AddResult struct {
	Comic    *domain.Comic
	Skipped  int
	Failures []PageFailure
}

// PagesResult holds a comic's display renditions in reading order. A nil
// entry is a page that could not be loaded.
type PagesResult struct {
	ComicID string
	Pages   []*images.Image
	Missing int
	Err     error // set only on results delivered by PagesAsync
}

// LibraryService is the single entry point for comic library operations.
// It orchestrates the repository, page storage, image transforms and caches.
type LibraryService struct {
	repo        store.ComicRepository
	blobs       BlobStore
	transformer *images.Transformer
	cache       *cache.Cache
	cfg         LibraryConfig
	logger      *slog.Logger

	locks *keyedMutex
	gens  *generations
	loads singleflight.Group
}

// NewLibraryService creates a new library service.
func NewLibraryService(
	repo store.ComicRepository,
	blobs BlobStore,
	transformer *images.Transformer,
	imageCache *cache.Cache,
	cfg LibraryConfig,
	logger *slog.Logger,
) *LibraryService {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultLibraryConfig().Workers
	}
	return &LibraryService{
		repo:        repo,
		blobs:       blobs,
		transformer: transformer,
		cache:       imageCache,
		cfg:         cfg,
		logger:      logger,
		locks:       newKeyedMutex(),
		gens:        newGenerations(),
	}
}

// importInput is one image to import, or the error that prevented reading it.
type importInput struct {
	name string
	data []byte
	err  error
}

// AddComic imports raw image blobs as a new comic. Images are oriented
// upright, re-encoded and saved in parallel; page order always equals input
// order. Images that fail are skipped and reported in the result. An empty
// title selects the default "Comic N".
func (s *LibraryService) AddComic(ctx context.Context, blobs [][]byte, title string) (*AddResult, error) {
	inputs := make([]importInput, len(blobs))
	for i, blob := range blobs {
		inputs[i] = importInput{data: blob}
	}
	return s.addComic(ctx, inputs, title)
}

// AddComicFromFiles imports image files as a new comic, ordered by file name.
// Unreadable files are skipped like undecodable ones.
func (s *LibraryService) AddComicFromFiles(ctx context.Context, paths []string, title string) (*AddResult, error) {
	sorted := normalize.SortByFileName(paths)
	inputs := make([]importInput, len(sorted))
	for i, path := range sorted {
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			inputs[i] = importInput{name: name, err: domainerrors.IO(err, "read "+name)}
			continue
		}
		inputs[i] = importInput{name: name, data: data}
	}
	return s.addComic(ctx, inputs, title)
}

func (s *LibraryService) addComic(ctx context.Context, inputs []importInput, title string) (*AddResult, error) {
	refs := make([]string, len(inputs))
	errs := make([]error, len(inputs))

	// Only the lowest-index decoded page is kept, for the placeholder.
	var (
		firstMu  sync.Mutex
		firstIdx = len(inputs)
		first    image.Image
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, in := range inputs {
		if in.err != nil {
			errs[i] = in.err
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, img, err := s.transformer.PrepareImport(in.data)
			if err != nil {
				errs[i] = err
				return nil
			}
			ref := images.NewPageRef(i)
			if err := s.blobs.Save(ref, data); err != nil {
				errs[i] = err
				return nil
			}
			refs[i] = ref

			firstMu.Lock()
			if i < firstIdx {
				firstIdx, first = i, img
			}
			firstMu.Unlock()
			return nil
		})
	}

	saved := func() []string {
		out := make([]string, 0, len(refs))
		for _, ref := range refs {
			if ref != "" {
				out = append(out, ref)
			}
		}
		return out
	}

	if err := g.Wait(); err != nil {
		s.deleteBlobs(saved())
		return nil, err
	}

	result := &AddResult{}
	for i, ref := range refs {
		if ref != "" {
			continue
		}
		result.Failures = append(result.Failures, PageFailure{Index: i, Name: inputs[i].name, Err: errs[i]})
		s.logger.Warn("skipping page",
			"index", i,
			"name", inputs[i].name,
			"code", domainerrors.CodeOf(errs[i]),
			"error", errs[i],
		)
	}
	result.Skipped = len(result.Failures)
	pageRefs := saved()

	var placeholder string
	if first != nil {
		hash, err := s.transformer.ComputeBlurHash(first)
		if err != nil {
			s.logger.Debug("placeholder unavailable", "error", err)
		}
		placeholder = hash
	}

	comic, err := s.repo.CreateComic(ctx, store.ComicDraft{
		Title:       normalize.Title(title),
		PageRefs:    pageRefs,
		Placeholder: placeholder,
	})
	if err != nil {
		s.deleteBlobs(pageRefs)
		return nil, repoError(err, "", "create comic")
	}
	result.Comic = comic

	s.logger.Info("comic imported",
		"comic_id", comic.ID,
		"title", comic.Title,
		"pages", comic.PageCount(),
		"skipped", result.Skipped,
	)
	return result, nil
}

// Thumbnail returns the first page fitted to the thumbnail box. It returns
// nil without error for a comic with no pages or an unloadable first page.
func (s *LibraryService) Thumbnail(ctx context.Context, comicID string) (*images.Image, error) {
	if img, ok := s.cache.Thumbnail(comicID); ok {
		return img, nil
	}

	v, err := s.shared(ctx, thumbnailLoadKey(comicID), func(ctx context.Context) (any, error) {
		return s.loadThumbnail(ctx, comicID)
	})
	if err != nil {
		return nil, err
	}
	img, _ := v.(*images.Image)
	return img, nil
}

func (s *LibraryService) loadThumbnail(ctx context.Context, comicID string) (*images.Image, error) {
	gen, done := s.gens.Begin(comicID)
	defer done()

	comic, err := s.repo.GetComic(ctx, comicID)
	if err != nil {
		return nil, repoError(err, comicID, "get comic")
	}
	if comic.PageCount() == 0 {
		return nil, nil
	}

	img, err := s.render(ctx, comic.FirstPage(), s.cfg.ThumbnailBox)
	if err != nil {
		s.logger.Warn("thumbnail unavailable",
			"comic_id", comicID,
			"ref", comic.FirstPage(),
			"code", domainerrors.CodeOf(err),
			"error", err,
		)
		return nil, nil
	}

	s.gens.PublishIf(comicID, gen, func() { s.cache.PutThumbnail(comicID, img) })
	return img, nil
}

// Pages returns every page fitted to the display box, in reading order.
// Pages are loaded in parallel; concurrent calls for the same comic share
// one load. The set is cached only if at least one page loaded.
func (s *LibraryService) Pages(ctx context.Context, comicID string) (*PagesResult, error) {
	if set, ok := s.cache.PageSet(comicID); ok {
		return newPagesResult(comicID, set.Pages), nil
	}

	v, err := s.shared(ctx, pagesLoadKey(comicID), func(ctx context.Context) (any, error) {
		return s.loadPages(ctx, comicID)
	})
	if err != nil {
		return nil, err
	}
	return newPagesResult(comicID, v.(*cache.PageSet).Pages), nil
}

// PagesAsync runs Pages in the background and delivers exactly one result
// on the returned channel, which is then closed.
func (s *LibraryService) PagesAsync(ctx context.Context, comicID string) <-chan PagesResult {
	ch := make(chan PagesResult, 1)
	go func() {
		defer close(ch)
		res, err := s.Pages(ctx, comicID)
		if err != nil {
			ch <- PagesResult{ComicID: comicID, Err: err}
			return
		}
		ch <- *res
	}()
	return ch
}

func (s *LibraryService) loadPages(ctx context.Context, comicID string) (*cache.PageSet, error) {
	gen, done := s.gens.Begin(comicID)
	defer done()

	comic, err := s.repo.GetComic(ctx, comicID)
	if err != nil {
		return nil, repoError(err, comicID, "get comic")
	}

	set := &cache.PageSet{Pages: make([]*images.Image, comic.PageCount())}
	if comic.PageCount() == 0 {
		return set, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, ref := range comic.PageRefs {
		g.Go(func() error {
			img, err := s.render(gctx, ref, s.cfg.DisplayBox)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn("page unavailable",
					"comic_id", comicID,
					"index", i,
					"ref", ref,
					"code", domainerrors.CodeOf(err),
					"error", err,
				)
				return nil
			}
			set.Pages[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	loaded := 0
	for _, p := range set.Pages {
		if p != nil {
			loaded++
		}
	}
	if loaded > 0 {
		s.gens.PublishIf(comicID, gen, func() { s.cache.PutPageSet(comicID, set) })
	}

	s.logger.Debug("pages loaded", "comic_id", comicID, "loaded", loaded, "total", len(set.Pages))
	return set, nil
}

// RenameComic replaces a comic's title. Pages, creation time and cached
// images are unaffected.
func (s *LibraryService) RenameComic(ctx context.Context, comicID, title string) (*domain.Comic, error) {
	clean := normalize.Title(title)
	if clean == "" {
		return nil, domainerrors.Validation("title must not be empty")
	}

	unlock := s.locks.Lock(comicID)
	defer unlock()

	comic, err := s.repo.RenameComic(ctx, comicID, clean)
	if err != nil {
		return nil, repoError(err, comicID, "rename comic")
	}

	s.logger.Info("comic renamed", "comic_id", comicID, "title", clean)
	return comic, nil
}

// DeleteComic removes the record, drops its cache entries and deletes its
// page blobs. Blob deletion is best-effort; leftovers are reclaimed by the
// sweep.
func (s *LibraryService) DeleteComic(ctx context.Context, comicID string) error {
	unlock := s.locks.Lock(comicID)
	defer unlock()

	refs, err := s.repo.DeleteComic(ctx, comicID)
	if err != nil {
		return repoError(err, comicID, "delete comic")
	}

	s.InvalidateComic(comicID)
	s.deleteBlobs(refs)

	s.logger.Info("comic deleted", "comic_id", comicID, "pages", len(refs))
	return nil
}

// ListComics returns every comic, oldest first.
func (s *LibraryService) ListComics(ctx context.Context) ([]*domain.Comic, error) {
	comics, err := s.repo.ListComics(ctx)
	if err != nil {
		return nil, repoError(err, "", "list comics")
	}
	return comics, nil
}

// GetComic returns one comic record.
func (s *LibraryService) GetComic(ctx context.Context, comicID string) (*domain.Comic, error) {
	comic, err := s.repo.GetComic(ctx, comicID)
	if err != nil {
		return nil, repoError(err, comicID, "get comic")
	}
	return comic, nil
}

// ClearCaches drops every cached thumbnail and page set. Safe to call at any
// time; later loads re-derive from storage.
func (s *LibraryService) ClearCaches() {
	stats := s.cache.Stats()
	s.cache.Clear()
	s.logger.Info("caches cleared", "before", stats)
}

// CacheStats reports current cache occupancy.
func (s *LibraryService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// InvalidateComic drops a comic's cache entries. Loads already in flight
// still answer the callers waiting on them but are never cached, and later
// callers start a fresh load instead of joining them.
func (s *LibraryService) InvalidateComic(comicID string) {
	s.gens.Bump(comicID, func() {
		s.cache.Invalidate(comicID)
		s.loads.Forget(thumbnailLoadKey(comicID))
		s.loads.Forget(pagesLoadKey(comicID))
	})
}

// InvalidatePage invalidates the comic owning a page ref. Refs no comic owns
// are ignored.
func (s *LibraryService) InvalidatePage(ctx context.Context, ref string) error {
	comicID, err := s.repo.ComicIDForPage(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return repoError(err, "", "resolve page owner")
	}

	s.InvalidateComic(comicID)
	s.logger.Debug("comic invalidated by page change", "comic_id", comicID, "ref", ref)
	return nil
}

// render reads a stored page and fits it inside box.
func (s *LibraryService) render(ctx context.Context, ref string, box images.Box) (*images.Image, error) {
	blob, err := s.blobs.GetContext(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.transformer.Resize(blob, box)
}

// shared runs fn once per key across concurrent callers. The load itself is
// detached from any single caller's cancellation; each caller stops waiting
// when its own context ends.
func (s *LibraryService) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.loads.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func thumbnailLoadKey(comicID string) string { return "thumbnail:" + comicID }

func pagesLoadKey(comicID string) string { return "pages:" + comicID }

func (s *LibraryService) deleteBlobs(refs []string) {
	for _, ref := range refs {
		if err := s.blobs.Delete(ref); err != nil {
			s.logger.Warn("failed to delete page blob", "ref", ref, "error", err)
		}
	}
}

func newPagesResult(comicID string, pages []*images.Image) *PagesResult {
	res := &PagesResult{ComicID: comicID, Pages: make([]*images.Image, len(pages))}
	copy(res.Pages, pages)
	for _, p := range pages {
		if p == nil {
			res.Missing++
		}
	}
	return res
}

// repoError maps repository errors onto domain errors. Context errors pass
// through untouched.
func repoError(err error, comicID, op string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrNotFound):
		return domainerrors.NotFoundf("comic %s not found", comicID).WithCause(err)
	case errors.Is(err, store.ErrInvalidInput):
		return domainerrors.Validation(op).WithCause(err)
	default:
		return domainerrors.Storage(err, fmt.Sprintf("%s failed", op))
	}
}
