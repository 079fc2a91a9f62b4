package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/comicshelf/comicshelf/internal/store"
)

// GetSetting returns a stored setting value.
// Returns store.ErrNotFound if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return value, err
}

// SetSetting stores a setting value, replacing any previous one.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return store.ErrInvalidInput.WithMessage("setting key is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
