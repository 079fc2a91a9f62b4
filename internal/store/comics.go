package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/comicshelf/comicshelf/internal/domain"
	"github.com/comicshelf/comicshelf/internal/id"
)

const (
	comicPrefix = "comic:"
	pageIndex   = "page"
)

func (s *Store) initComics() {
	s.comics = NewEntity[domain.Comic](s, comicPrefix).
		WithIndex(pageIndex, func(c *domain.Comic) []string {
			return c.PageRefs
		})
}

// CreateComic allocates an ID and creation time and persists the record in a
// single transaction. An empty draft title becomes "Comic N".
func (s *Store) CreateComic(ctx context.Context, draft ComicDraft) (*domain.Comic, error) {
	if err := domain.ValidatePageRefs(draft.PageRefs); err != nil {
		return nil, ErrInvalidInput.WithCause(err)
	}

	comicID, err := id.NewComicID()
	if err != nil {
		return nil, fmt.Errorf("generate comic id: %w", err)
	}

	comic, err := s.comics.CreateFunc(ctx, comicID, func(existing int) (*domain.Comic, error) {
		title := draft.Title
		if title == "" {
			title = domain.DefaultTitle(existing + 1)
		}
		return &domain.Comic{
			CreatedAt:   time.Now().UTC(),
			ID:          comicID,
			Title:       title,
			PageRefs:    slices.Clone(draft.PageRefs),
			Placeholder: draft.Placeholder,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create comic: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("comic created", "comic_id", comic.ID, "pages", comic.PageCount())
	}
	return comic, nil
}

// GetComic retrieves a comic by ID.
func (s *Store) GetComic(ctx context.Context, comicID string) (*domain.Comic, error) {
	return s.comics.Get(ctx, comicID)
}

// ListComics returns every comic, oldest first.
func (s *Store) ListComics(ctx context.Context) ([]*domain.Comic, error) {
	var comics []*domain.Comic
	for comic, err := range s.comics.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list comics: %w", err)
		}
		comics = append(comics, comic)
	}
	domain.SortComics(comics)
	return comics, nil
}

// CountComics returns the number of stored comics.
func (s *Store) CountComics(ctx context.Context) (int, error) {
	return s.comics.Count(ctx)
}

// RenameComic replaces a comic's title. CreatedAt and PageRefs are untouched.
func (s *Store) RenameComic(ctx context.Context, comicID, title string) (*domain.Comic, error) {
	comic, err := s.comics.Modify(ctx, comicID, func(c *domain.Comic) error {
		c.Title = title
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("rename comic: %w", err)
	}
	return comic, nil
}

// DeleteComic removes the record and its page index entries, returning the
// page refs it owned so the caller can delete the blobs.
func (s *Store) DeleteComic(ctx context.Context, comicID string) ([]string, error) {
	comic, err := s.comics.Take(ctx, comicID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("delete comic: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("comic deleted", "comic_id", comicID, "pages", comic.PageCount())
	}
	return comic.PageRefs, nil
}

// ComicIDForPage returns the comic owning a page ref.
func (s *Store) ComicIDForPage(ctx context.Context, ref string) (string, error) {
	return s.comics.LookupIndex(ctx, pageIndex, ref)
}

// AllPageRefs returns the set of page refs referenced by any comic.
func (s *Store) AllPageRefs(ctx context.Context) (map[string]struct{}, error) {
	refs, err := s.comics.IndexValues(ctx, pageIndex)
	if err != nil {
		return nil, fmt.Errorf("list page refs: %w", err)
	}
	set := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		set[ref] = struct{}{}
	}
	return set, nil
}
