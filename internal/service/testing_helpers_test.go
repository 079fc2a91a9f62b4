package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comicshelf/comicshelf/internal/cache"
	"github.com/comicshelf/comicshelf/internal/logger"
	"github.com/comicshelf/comicshelf/internal/media/images"
	"github.com/comicshelf/comicshelf/internal/store"
)

// makePNG returns a w x h PNG with a gradient tinted by seed, so different
// pages produce different renditions.
func makePNG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// countingBlobs wraps Storage and counts reads.
type countingBlobs struct {
	*images.Storage
	gets atomic.Int64
}

func (c *countingBlobs) GetContext(ctx context.Context, ref string) ([]byte, error) {
	c.gets.Add(1)
	return c.Storage.GetContext(ctx, ref)
}

// gatedBlobs reads the blob, announces the read on entered and then waits
// for release before returning it.
type gatedBlobs struct {
	*countingBlobs
	entered chan string
	release chan struct{}
	once    sync.Once
}

func (g *gatedBlobs) GetContext(ctx context.Context, ref string) ([]byte, error) {
	data, err := g.countingBlobs.GetContext(ctx, ref)
	select {
	case g.entered <- ref:
	default:
	}
	<-g.release
	return data, err
}

func (g *gatedBlobs) open() {
	g.once.Do(func() { close(g.release) })
}

type testLibrary struct {
	svc     *LibraryService
	repo    *store.Store
	storage *images.Storage
	blobs   *countingBlobs
	cache   *cache.Cache
}

func newTestLibrary(t *testing.T) *testLibrary {
	t.Helper()
	return newTestLibraryWith(t, nil)
}

// newTestLibraryWith builds a library over an in-memory repository and a temp
// page directory. wrap, if set, decorates the blob store the service sees.
func newTestLibraryWith(t *testing.T, wrap func(*countingBlobs) BlobStore) *testLibrary {
	t.Helper()

	repo, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	storage, err := images.NewStorage(filepath.Join(t.TempDir(), "pages"), 5*time.Second)
	require.NoError(t, err)

	imageCache, err := cache.New(cache.DefaultConfig(), logger.Discard())
	require.NoError(t, err)

	counting := &countingBlobs{Storage: storage}
	var blobs BlobStore = counting
	if wrap != nil {
		blobs = wrap(counting)
	}

	svc := NewLibraryService(repo, blobs, images.NewTransformer(), imageCache, DefaultLibraryConfig(), logger.Discard())
	return &testLibrary{svc: svc, repo: repo, storage: storage, blobs: counting, cache: imageCache}
}
