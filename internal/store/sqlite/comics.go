package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/comicshelf/comicshelf/internal/domain"
	"github.com/comicshelf/comicshelf/internal/id"
	"github.com/comicshelf/comicshelf/internal/store"
)

// comicColumns is the ordered list of columns selected in comic queries.
// Must match the scan order in scanComic.
const comicColumns = `id, title, created_at, placeholder`

// scanComic scans a sql.Row (or sql.Rows via its Scan method) into a domain.Comic.
// PageRefs are left empty; the caller loads them separately.
func scanComic(scanner interface{ Scan(dest ...any) error }) (*domain.Comic, error) {
	var (
		c           domain.Comic
		createdAt   int64
		placeholder sql.NullString
	)

	if err := scanner.Scan(&c.ID, &c.Title, &createdAt, &placeholder); err != nil {
		return nil, err
	}

	c.CreatedAt = parseTime(createdAt)
	c.Placeholder = placeholder.String
	return &c, nil
}

// CreateComic inserts a comic and its pages in one transaction.
// An empty draft title becomes "Comic N".
func (s *Store) CreateComic(ctx context.Context, draft store.ComicDraft) (*domain.Comic, error) {
	if err := domain.ValidatePageRefs(draft.PageRefs); err != nil {
		return nil, store.ErrInvalidInput.WithCause(err)
	}

	comicID, err := id.NewComicID()
	if err != nil {
		return nil, fmt.Errorf("generate comic id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	title := draft.Title
	if title == "" {
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM comics`).Scan(&existing); err != nil {
			return nil, fmt.Errorf("count comics: %w", err)
		}
		title = domain.DefaultTitle(existing + 1)
	}

	comic := &domain.Comic{
		CreatedAt:   time.Now().UTC(),
		ID:          comicID,
		Title:       title,
		PageRefs:    slices.Clone(draft.PageRefs),
		Placeholder: draft.Placeholder,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO comics (id, title, created_at, placeholder)
		VALUES (?, ?, ?, ?)`,
		comic.ID,
		comic.Title,
		formatTime(comic.CreatedAt),
		nullString(comic.Placeholder),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert comic: %w", err)
	}

	for i, ref := range comic.PageRefs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO comic_pages (comic_id, ordinal, ref) VALUES (?, ?, ?)`,
			comic.ID, i, ref)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrAlreadyExists.WithMessage(fmt.Sprintf("page %q already owned", ref))
			}
			return nil, fmt.Errorf("insert page %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit comic: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("comic created", "comic_id", comic.ID, "pages", comic.PageCount())
	}
	return comic, nil
}

// GetComic retrieves a comic by ID.
// Returns store.ErrNotFound if the comic does not exist.
func (s *Store) GetComic(ctx context.Context, comicID string) (*domain.Comic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+comicColumns+` FROM comics WHERE id = ?`, comicID)

	c, err := scanComic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.PageRefs, err = s.pageRefs(ctx, s.db, comicID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComics returns every comic, oldest first, ties broken by ID.
func (s *Store) ListComics(ctx context.Context) ([]*domain.Comic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+comicColumns+` FROM comics ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comics []*domain.Comic
	byID := make(map[string]*domain.Comic)
	for rows.Next() {
		c, err := scanComic(rows)
		if err != nil {
			return nil, err
		}
		comics = append(comics, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pages, err := s.db.QueryContext(ctx,
		`SELECT comic_id, ref FROM comic_pages ORDER BY comic_id, ordinal`)
	if err != nil {
		return nil, err
	}
	defer pages.Close()

	for pages.Next() {
		var comicID, ref string
		if err := pages.Scan(&comicID, &ref); err != nil {
			return nil, err
		}
		if c, ok := byID[comicID]; ok {
			c.PageRefs = append(c.PageRefs, ref)
		}
	}
	return comics, pages.Err()
}

// CountComics returns the number of stored comics.
func (s *Store) CountComics(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comics`).Scan(&n)
	return n, err
}

// RenameComic replaces a comic's title.
// Returns store.ErrNotFound if the comic does not exist.
func (s *Store) RenameComic(ctx context.Context, comicID, title string) (*domain.Comic, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE comics SET title = ? WHERE id = ?`, title, comicID)
	if err != nil {
		return nil, fmt.Errorf("rename comic: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetComic(ctx, comicID)
}

// DeleteComic removes a comic and returns the page refs it owned.
// Returns store.ErrNotFound if the comic does not exist.
func (s *Store) DeleteComic(ctx context.Context, comicID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	refs, err := s.pageRefs(ctx, tx, comicID)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM comics WHERE id = ?`, comicID)
	if err != nil {
		return nil, fmt.Errorf("delete comic: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("comic deleted", "comic_id", comicID, "pages", len(refs))
	}
	return refs, nil
}

// ComicIDForPage returns the comic owning a page ref.
// Returns store.ErrNotFound if no comic references it.
func (s *Store) ComicIDForPage(ctx context.Context, ref string) (string, error) {
	var comicID string
	err := s.db.QueryRowContext(ctx,
		`SELECT comic_id FROM comic_pages WHERE ref = ?`, ref).Scan(&comicID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return comicID, err
}

// AllPageRefs returns the set of page refs referenced by any comic.
func (s *Store) AllPageRefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ref FROM comic_pages`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]struct{})
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs[ref] = struct{}{}
	}
	return refs, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) pageRefs(ctx context.Context, q querier, comicID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ref FROM comic_pages WHERE comic_id = ? ORDER BY ordinal`, comicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
