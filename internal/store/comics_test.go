package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comicshelf/comicshelf/internal/store"
)

func TestStore_CreateComic(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	comic, err := s.CreateComic(ctx, store.ComicDraft{
		Title:       "A",
		PageRefs:    []string{"p_0.jpg", "p_1.jpg", "p_2.jpg"},
		Placeholder: "LKO2?U%2Tw=w",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, comic.ID)
	assert.False(t, comic.CreatedAt.IsZero())
	assert.Equal(t, "A", comic.Title)
	assert.Equal(t, []string{"p_0.jpg", "p_1.jpg", "p_2.jpg"}, comic.PageRefs)

	got, err := s.GetComic(ctx, comic.ID)
	require.NoError(t, err)
	assert.Equal(t, comic.PageRefs, got.PageRefs)
	assert.Equal(t, "LKO2?U%2Tw=w", got.Placeholder)
	assert.True(t, comic.CreatedAt.Equal(got.CreatedAt))
}

func TestStore_CreateComic_DefaultTitles(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	first, err := s.CreateComic(ctx, store.ComicDraft{})
	require.NoError(t, err)
	second, err := s.CreateComic(ctx, store.ComicDraft{})
	require.NoError(t, err)

	assert.Equal(t, "Comic 1", first.Title)
	assert.Equal(t, "Comic 2", second.Title)
	assert.Empty(t, first.PageRefs)
}

func TestStore_CreateComic_RejectsBadRefs(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.CreateComic(ctx, store.ComicDraft{PageRefs: []string{"a.jpg", "a.jpg"}})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.CreateComic(ctx, store.ComicDraft{PageRefs: []string{"a.jpg"}})
	require.NoError(t, err)

	// A ref is owned by exactly one comic.
	_, err = s.CreateComic(ctx, store.ComicDraft{PageRefs: []string{"a.jpg"}})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestStore_ListComics_Ordered(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	var want []string
	for range 5 {
		c, err := s.CreateComic(ctx, store.ComicDraft{})
		require.NoError(t, err)
		want = append(want, c.ID)
	}

	comics, err := s.ListComics(ctx)
	require.NoError(t, err)
	require.Len(t, comics, 5)
	for i := 1; i < len(comics); i++ {
		assert.False(t, comics[i].CreatedAt.Before(comics[i-1].CreatedAt))
	}
	var got []string
	for _, c := range comics {
		got = append(got, c.ID)
	}
	assert.ElementsMatch(t, want, got)

	n, err := s.CountComics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestStore_RenameComic(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	a, err := s.CreateComic(ctx, store.ComicDraft{Title: "A", PageRefs: []string{"a_0.jpg"}})
	require.NoError(t, err)
	b, err := s.CreateComic(ctx, store.ComicDraft{Title: "B"})
	require.NoError(t, err)

	renamed, err := s.RenameComic(ctx, a.ID, "X")
	require.NoError(t, err)
	assert.Equal(t, "X", renamed.Title)
	assert.Equal(t, a.PageRefs, renamed.PageRefs)
	assert.True(t, a.CreatedAt.Equal(renamed.CreatedAt))

	other, err := s.GetComic(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", other.Title)

	// Page index survives a rename.
	owner, err := s.ComicIDForPage(ctx, "a_0.jpg")
	require.NoError(t, err)
	assert.Equal(t, a.ID, owner)

	_, err = s.RenameComic(ctx, "comic-missing", "Y")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_RenameComic_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	c, err := s.CreateComic(ctx, store.ComicDraft{Title: "start"})
	require.NoError(t, err)

	titles := []string{"one", "two", "three", "four"}
	var wg sync.WaitGroup
	for _, title := range titles {
		wg.Go(func() {
			_, err := s.RenameComic(ctx, c.ID, title)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	got, err := s.GetComic(ctx, c.ID)
	require.NoError(t, err)
	assert.Contains(t, titles, got.Title)
}

func TestStore_DeleteComic(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	c, err := s.CreateComic(ctx, store.ComicDraft{PageRefs: []string{"x_0.jpg", "x_1.jpg"}})
	require.NoError(t, err)
	keep, err := s.CreateComic(ctx, store.ComicDraft{PageRefs: []string{"y_0.jpg"}})
	require.NoError(t, err)

	refs, err := s.DeleteComic(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x_0.jpg", "x_1.jpg"}, refs)

	_, err = s.GetComic(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.ComicIDForPage(ctx, "x_0.jpg")
	assert.ErrorIs(t, err, store.ErrNotFound)

	all, err := s.AllPageRefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"y_0.jpg": {}}, all)

	comics, err := s.ListComics(ctx)
	require.NoError(t, err)
	require.Len(t, comics, 1)
	assert.Equal(t, keep.ID, comics[0].ID)

	_, err = s.DeleteComic(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.New(dir, nil)
	require.NoError(t, err)
	c, err := s.CreateComic(ctx, store.ComicDraft{Title: "persisted", PageRefs: []string{"r_0.jpg"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.GetComic(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
	assert.Equal(t, []string{"r_0.jpg"}, got.PageRefs)
}
