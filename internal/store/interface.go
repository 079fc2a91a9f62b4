// Package store persists comic records and library settings.
package store

import (
	"context"

	"github.com/comicshelf/comicshelf/internal/domain"
)

// ComicDraft is the caller-supplied part of a new comic record.
// The repository assigns ID and CreatedAt.
type ComicDraft struct {
	// Title is used verbatim; empty selects domain.DefaultTitle(count+1).
	Title       string
	PageRefs    []string
	Placeholder string
}

// ComicRepository is implemented by the badger Store and by sqlite.Store.
type ComicRepository interface {
	// Lifecycle
	Close() error

	// Comics
	CreateComic(ctx context.Context, draft ComicDraft) (*domain.Comic, error)
	GetComic(ctx context.Context, id string) (*domain.Comic, error)
	ListComics(ctx context.Context) ([]*domain.Comic, error)
	CountComics(ctx context.Context) (int, error)
	RenameComic(ctx context.Context, id, title string) (*domain.Comic, error)
	DeleteComic(ctx context.Context, id string) ([]string, error)

	// Pages
	ComicIDForPage(ctx context.Context, ref string) (string, error)
	AllPageRefs(ctx context.Context) (map[string]struct{}, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Compile-time check.
var _ ComicRepository = (*Store)(nil)
