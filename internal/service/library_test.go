package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/comicshelf/comicshelf/internal/errors"
	"github.com/comicshelf/comicshelf/internal/media/images"
)

func TestLibrary_AddComic_ThreeImageScenario(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	blobs := [][]byte{
		makePNG(t, 1600, 2400, 10),
		makePNG(t, 1600, 2400, 20),
		makePNG(t, 1600, 2400, 30),
	}
	res, err := lib.svc.AddComic(ctx, blobs, "A")
	require.NoError(t, err)
	assert.Zero(t, res.Skipped)

	comics, err := lib.svc.ListComics(ctx)
	require.NoError(t, err)
	require.Len(t, comics, 1)
	assert.Equal(t, "A", comics[0].Title)
	require.Len(t, comics[0].PageRefs, 3)
	refs := comics[0].PageRefs

	thumb, err := lib.svc.Thumbnail(ctx, res.Comic.ID)
	require.NoError(t, err)
	require.NotNil(t, thumb)
	assert.Equal(t, images.ThumbnailBox.Width, thumb.Width)
	assert.Equal(t, images.ThumbnailBox.Height, thumb.Height)

	require.NoError(t, lib.svc.DeleteComic(ctx, res.Comic.ID))

	comics, err = lib.svc.ListComics(ctx)
	require.NoError(t, err)
	assert.Empty(t, comics)
	for _, ref := range refs {
		assert.False(t, lib.storage.Exists(ref), ref)
	}
}

func TestLibrary_AddComic_PreservesInputOrder(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	// Distinct widths inside the display box identify each page after the round trip.
	widths := []int{50, 90, 30, 70, 110, 20, 60, 80}
	blobs := make([][]byte, len(widths))
	for i, w := range widths {
		blobs[i] = makePNG(t, w, 40, uint8(i))
	}

	res, err := lib.svc.AddComic(ctx, blobs, "ordered")
	require.NoError(t, err)
	require.Len(t, res.Comic.PageRefs, len(widths))
	for i, ref := range res.Comic.PageRefs {
		assert.True(t, strings.HasSuffix(ref, "_"+string(rune('0'+i))+".jpg"), ref)
	}

	pages, err := lib.svc.Pages(ctx, res.Comic.ID)
	require.NoError(t, err)
	require.Len(t, pages.Pages, len(widths))
	for i, page := range pages.Pages {
		require.NotNil(t, page)
		assert.Equal(t, widths[i], page.Width, "page %d", i)
	}
}

func TestLibrary_AddComic_SkipsBadImages(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	blobs := [][]byte{
		makePNG(t, 40, 60, 1),
		[]byte("definitely not an image"),
		makePNG(t, 40, 60, 2),
		nil,
	}
	res, err := lib.svc.AddComic(ctx, blobs, "partial")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, 3, res.Failures[1].Index)
	assert.ErrorIs(t, res.Failures[0].Err, domainerrors.ErrDecode)
	assert.Len(t, res.Comic.PageRefs, 2)
	assert.NotEmpty(t, res.Comic.Placeholder)
}

func TestLibrary_AddComic_DefaultTitles(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	first, err := lib.svc.AddComic(ctx, nil, "")
	require.NoError(t, err)
	second, err := lib.svc.AddComic(ctx, nil, "   ")
	require.NoError(t, err)

	assert.Equal(t, "Comic 1", first.Comic.Title)
	assert.Equal(t, "Comic 2", second.Comic.Title)
}

func TestLibrary_AddComic_CancelledContextLeavesNothing(t *testing.T) {
	lib := newTestLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 20, 20, 1)}, "x")
	assert.ErrorIs(t, err, context.Canceled)

	blobs, err := lib.storage.List()
	require.NoError(t, err)
	assert.Empty(t, blobs)
	comics, err := lib.svc.ListComics(context.Background())
	require.NoError(t, err)
	assert.Empty(t, comics)
}

func TestLibrary_AddComicFromFiles(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)
	dir := t.TempDir()

	// Written out of order; imported sorted by file name.
	files := map[string]int{"page_c.png": 30, "page_a.png": 10, "page_b.png": 20}
	var paths []string
	for name, w := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, makePNG(t, w, 10, 0), 0o644))
		paths = append(paths, path)
	}
	paths = append(paths, filepath.Join(dir, "page_d.png")) // missing

	res, err := lib.svc.AddComicFromFiles(ctx, paths, "files")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "page_d.png", res.Failures[0].Name)
	assert.ErrorIs(t, res.Failures[0].Err, domainerrors.ErrIO)

	pages, err := lib.svc.Pages(ctx, res.Comic.ID)
	require.NoError(t, err)
	require.Len(t, pages.Pages, 3)
	assert.Equal(t, 10, pages.Pages[0].Width)
	assert.Equal(t, 20, pages.Pages[1].Width)
	assert.Equal(t, 30, pages.Pages[2].Width)
}

func TestLibrary_ZeroPageComic(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, nil, "empty")
	require.NoError(t, err)
	assert.Empty(t, res.Comic.PageRefs)

	thumb, err := lib.svc.Thumbnail(ctx, res.Comic.ID)
	require.NoError(t, err)
	assert.Nil(t, thumb)

	pages, err := lib.svc.Pages(ctx, res.Comic.ID)
	require.NoError(t, err)
	assert.Empty(t, pages.Pages)
	assert.Zero(t, pages.Missing)
}

func TestLibrary_UnknownComic(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	_, err := lib.svc.Thumbnail(ctx, "comic-missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	_, err = lib.svc.Pages(ctx, "comic-missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	_, err = lib.svc.RenameComic(ctx, "comic-missing", "x")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	assert.ErrorIs(t, lib.svc.DeleteComic(ctx, "comic-missing"), domainerrors.ErrNotFound)
}

func TestLibrary_CacheHitAvoidsStorageReads(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1), makePNG(t, 40, 60, 2)}, "cached")
	require.NoError(t, err)
	id := res.Comic.ID

	_, err = lib.svc.Thumbnail(ctx, id)
	require.NoError(t, err)
	_, err = lib.svc.Pages(ctx, id)
	require.NoError(t, err)
	reads := lib.blobs.gets.Load()
	assert.Equal(t, int64(3), reads)

	_, err = lib.svc.Thumbnail(ctx, id)
	require.NoError(t, err)
	_, err = lib.svc.Pages(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reads, lib.blobs.gets.Load())
}

func TestLibrary_ClearCaches(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 900, 1500, 1)}, "clear")
	require.NoError(t, err)
	id := res.Comic.ID

	before, err := lib.svc.Pages(ctx, id)
	require.NoError(t, err)
	thumbBefore, err := lib.svc.Thumbnail(ctx, id)
	require.NoError(t, err)

	lib.svc.ClearCaches()
	lib.svc.ClearCaches()

	stats := lib.svc.CacheStats()
	assert.Zero(t, stats.ThumbnailEntries)
	assert.Zero(t, stats.PageEntries)

	after, err := lib.svc.Pages(ctx, id)
	require.NoError(t, err)
	thumbAfter, err := lib.svc.Thumbnail(ctx, id)
	require.NoError(t, err)

	require.Len(t, after.Pages, 1)
	assert.Equal(t, before.Pages[0].Data, after.Pages[0].Data)
	assert.Equal(t, thumbBefore.Data, thumbAfter.Data)
	assert.Equal(t, int64(4), lib.blobs.gets.Load())
}

func TestLibrary_RenameIsolation(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	a, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 20, 20, 1)}, "A")
	require.NoError(t, err)
	b, err := lib.svc.AddComic(ctx, nil, "B")
	require.NoError(t, err)

	renamed, err := lib.svc.RenameComic(ctx, a.Comic.ID, "  X  ")
	require.NoError(t, err)
	assert.Equal(t, "X", renamed.Title)

	comics, err := lib.svc.ListComics(ctx)
	require.NoError(t, err)
	require.Len(t, comics, 2)
	for _, c := range comics {
		switch c.ID {
		case a.Comic.ID:
			assert.Equal(t, "X", c.Title)
			assert.Equal(t, a.Comic.PageRefs, c.PageRefs)
			assert.True(t, a.Comic.CreatedAt.Equal(c.CreatedAt))
		case b.Comic.ID:
			assert.Equal(t, "B", c.Title)
		}
	}

	// A title that normalizes to nothing is rejected and the old one kept.
	_, err = lib.svc.RenameComic(ctx, a.Comic.ID, " \t ")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
	got, err := lib.svc.GetComic(ctx, a.Comic.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", got.Title)
}

func TestLibrary_DeleteSemantics(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1), makePNG(t, 40, 60, 2)}, "doomed")
	require.NoError(t, err)
	keep, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 3)}, "kept")
	require.NoError(t, err)
	id := res.Comic.ID

	_, err = lib.svc.Thumbnail(ctx, id)
	require.NoError(t, err)
	_, err = lib.svc.Pages(ctx, id)
	require.NoError(t, err)

	require.NoError(t, lib.svc.DeleteComic(ctx, id))

	_, ok := lib.cache.Thumbnail(id)
	assert.False(t, ok)
	_, ok = lib.cache.PageSet(id)
	assert.False(t, ok)
	for _, ref := range res.Comic.PageRefs {
		assert.False(t, lib.storage.Exists(ref))
	}
	assert.True(t, lib.storage.Exists(keep.Comic.PageRefs[0]))

	_, err = lib.svc.GetComic(ctx, id)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	_, err = lib.svc.Thumbnail(ctx, id)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	_, err = lib.svc.Pages(ctx, id)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	_, err = lib.svc.RenameComic(ctx, id, "again")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	assert.ErrorIs(t, lib.svc.DeleteComic(ctx, id), domainerrors.ErrNotFound)
}

func TestLibrary_Pages_MissingBlob(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1), makePNG(t, 40, 60, 2), makePNG(t, 40, 60, 3)}, "gap")
	require.NoError(t, err)
	require.NoError(t, lib.storage.Delete(res.Comic.PageRefs[1]))

	pages, err := lib.svc.Pages(ctx, res.Comic.ID)
	require.NoError(t, err)
	require.Len(t, pages.Pages, 3)
	assert.NotNil(t, pages.Pages[0])
	assert.Nil(t, pages.Pages[1])
	assert.NotNil(t, pages.Pages[2])
	assert.Equal(t, 1, pages.Missing)

	// Partial sets are cached.
	_, ok := lib.cache.PageSet(res.Comic.ID)
	assert.True(t, ok)
}

func TestLibrary_Pages_NothingLoadedIsNotCached(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1)}, "gone")
	require.NoError(t, err)
	require.NoError(t, lib.storage.Delete(res.Comic.PageRefs[0]))

	pages, err := lib.svc.Pages(ctx, res.Comic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pages.Missing)
	_, ok := lib.cache.PageSet(res.Comic.ID)
	assert.False(t, ok)

	thumb, err := lib.svc.Thumbnail(ctx, res.Comic.ID)
	require.NoError(t, err)
	assert.Nil(t, thumb)
}

func TestLibrary_PagesAsync(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1)}, "async")
	require.NoError(t, err)

	select {
	case got := <-lib.svc.PagesAsync(ctx, res.Comic.ID):
		require.NoError(t, got.Err)
		assert.Equal(t, res.Comic.ID, got.ComicID)
		assert.Len(t, got.Pages, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("PagesAsync did not deliver")
	}

	got, ok := <-lib.svc.PagesAsync(ctx, "comic-missing")
	require.True(t, ok)
	assert.ErrorIs(t, got.Err, domainerrors.ErrNotFound)
}

func TestLibrary_DeleteDuringLoadDiscardsResult(t *testing.T) {
	ctx := context.Background()
	var gate *gatedBlobs
	lib := newTestLibraryWith(t, func(c *countingBlobs) BlobStore {
		gate = &gatedBlobs{countingBlobs: c, entered: make(chan string, 16), release: make(chan struct{})}
		return gate
	})
	t.Cleanup(gate.open)

	// Import through the raw storage path; the gate only affects reads.
	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1)}, "racy")
	require.NoError(t, err)
	id := res.Comic.ID

	done := lib.svc.PagesAsync(ctx, id)
	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("load never reached storage")
	}

	require.NoError(t, lib.svc.DeleteComic(ctx, id))
	gate.open()

	<-done
	_, ok := lib.cache.PageSet(id)
	assert.False(t, ok)
	assert.Zero(t, lib.svc.gens.tracked())
}

func TestLibrary_CallAfterDeleteDoesNotJoinInFlightLoad(t *testing.T) {
	ctx := context.Background()
	var gate *gatedBlobs
	lib := newTestLibraryWith(t, func(c *countingBlobs) BlobStore {
		gate = &gatedBlobs{countingBlobs: c, entered: make(chan string, 16), release: make(chan struct{})}
		return gate
	})
	t.Cleanup(gate.open)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1)}, "gone")
	require.NoError(t, err)
	id := res.Comic.ID

	before := lib.svc.PagesAsync(ctx, id)
	thumbDone := make(chan error, 1)
	go func() {
		_, err := lib.svc.Thumbnail(ctx, id)
		thumbDone <- err
	}()
	for range 2 {
		select {
		case <-gate.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("loads never reached storage")
		}
	}

	require.NoError(t, lib.svc.DeleteComic(ctx, id))

	after := lib.svc.PagesAsync(ctx, id)
	_, thumbErr := lib.svc.Thumbnail(ctx, id)
	gate.open()

	late := <-after
	assert.ErrorIs(t, late.Err, domainerrors.ErrNotFound)
	assert.Nil(t, late.Pages)
	assert.ErrorIs(t, thumbErr, domainerrors.ErrNotFound)

	// Callers that were already waiting still get their answer.
	early := <-before
	require.NoError(t, early.Err)
	assert.Len(t, early.Pages, 1)
	require.NoError(t, <-thumbDone)

	_, ok := lib.cache.PageSet(id)
	assert.False(t, ok)
	_, ok = lib.cache.Thumbnail(id)
	assert.False(t, ok)
}

func TestLibrary_ConcurrentPagesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	var gate *gatedBlobs
	lib := newTestLibraryWith(t, func(c *countingBlobs) BlobStore {
		gate = &gatedBlobs{countingBlobs: c, entered: make(chan string, 16), release: make(chan struct{})}
		return gate
	})
	t.Cleanup(gate.open)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1)}, "shared")
	require.NoError(t, err)

	first := lib.svc.PagesAsync(ctx, res.Comic.ID)
	<-gate.entered
	second := lib.svc.PagesAsync(ctx, res.Comic.ID)
	time.Sleep(50 * time.Millisecond)
	gate.open()

	a, b := <-first, <-second
	require.NoError(t, a.Err)
	require.NoError(t, b.Err)
	assert.Equal(t, a.Pages[0].Data, b.Pages[0].Data)
	assert.Equal(t, int64(1), lib.blobs.gets.Load())
}

func TestLibrary_PagesCallerCancellation(t *testing.T) {
	var gate *gatedBlobs
	lib := newTestLibraryWith(t, func(c *countingBlobs) BlobStore {
		gate = &gatedBlobs{countingBlobs: c, entered: make(chan string, 16), release: make(chan struct{})}
		return gate
	})
	t.Cleanup(gate.open)

	res, err := lib.svc.AddComic(context.Background(), [][]byte{makePNG(t, 40, 60, 1)}, "cancel")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := lib.svc.PagesAsync(ctx, res.Comic.ID)
	<-gate.entered
	cancel()

	got := <-done
	assert.ErrorIs(t, got.Err, context.Canceled)
}

func TestLibrary_InvalidatePage(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	res, err := lib.svc.AddComic(ctx, [][]byte{makePNG(t, 40, 60, 1)}, "watched")
	require.NoError(t, err)
	_, err = lib.svc.Thumbnail(ctx, res.Comic.ID)
	require.NoError(t, err)

	require.NoError(t, lib.svc.InvalidatePage(ctx, res.Comic.PageRefs[0]))
	_, ok := lib.cache.Thumbnail(res.Comic.ID)
	assert.False(t, ok)

	// Unowned refs are ignored.
	assert.NoError(t, lib.svc.InvalidatePage(ctx, "stray_0.jpg"))
}
