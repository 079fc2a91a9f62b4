// Package images provides page blob storage, decoding, resizing, and placeholder hashing.
package images

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/comicshelf/comicshelf/internal/errors"
)

// pageExt is the extension of every stored page. Pages are re-encoded to JPEG on import.
const pageExt = ".jpg"

// NewPageRef returns the blob name for the ordinal-th page of an import batch.
// Format: {uuid}_{ordinal}.jpg. A fresh UUID per page keeps names unique even
// when several imports run at once.
func NewPageRef(ordinal int) string {
	return fmt.Sprintf("%s_%d%s", uuid.NewString(), ordinal, pageExt)
}

// ValidateRef rejects references that could escape the storage directory.
func ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("page reference cannot be empty")
	}
	if ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return fmt.Errorf("invalid page reference %q", ref)
	}
	return nil
}

// Storage manages page blobs in a single directory.
// Thread-safe for concurrent operations.
type Storage struct {
	basePath    string
	readTimeout time.Duration
	mu          sync.RWMutex // Orders reads and listings against deletes
}

// NewStorage creates a Storage rooted at dir, creating it if needed.
// readTimeout bounds GetContext; zero disables the timeout.
func NewStorage(dir string, readTimeout time.Duration) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage path cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create page directory: %w", err)
	}

	return &Storage{
		basePath:    dir,
		readTimeout: readTimeout,
	}, nil
}

// Dir returns the storage directory.
func (s *Storage) Dir() string {
	return s.basePath
}

// Save writes blob under ref. The write goes through a temp file and a rename
// so a crash never leaves a truncated page behind. The rename is atomic, so
// Save takes no lock and parallel imports write concurrently.
func (s *Storage) Save(ref string, blob []byte) error {
	if err := ValidateRef(ref); err != nil {
		return domainerrors.Validation(err.Error())
	}
	if len(blob) == 0 {
		return domainerrors.Validation("image data cannot be empty")
	}

	tmp, err := os.CreateTemp(s.basePath, ".tmp-*")
	if err != nil {
		return domainerrors.IOf(err, "create temp file for %s", ref)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domainerrors.IOf(err, "write page %s", ref)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domainerrors.IOf(err, "close page %s", ref)
	}
	if err := os.Rename(tmpName, s.Path(ref)); err != nil {
		os.Remove(tmpName)
		return domainerrors.IOf(err, "commit page %s", ref)
	}

	return nil
}

// Get reads the blob stored under ref.
// A missing blob is NotFound; anything else is an IO error.
func (s *Storage) Get(ref string) ([]byte, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, domainerrors.Validation(err.Error())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domainerrors.NotFoundf("page %s not found", ref).WithCause(err)
		}
		return nil, domainerrors.IOf(err, "read page %s", ref)
	}

	return data, nil
}

// GetContext is Get bounded by ctx and the configured read timeout.
// On expiry the read is abandoned and an IO error returned.
func (s *Storage) GetContext(ctx context.Context, ref string) ([]byte, error) {
	if s.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.readTimeout)
		defer cancel()
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := s.Get(ref)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domainerrors.IOf(ctx.Err(), "read page %s timed out", ref)
		}
		return nil, ctx.Err()
	}
}

// Exists checks if a blob exists.
func (s *Storage) Exists(ref string) bool {
	if ValidateRef(ref) != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.Path(ref))
	return err == nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Storage) Delete(ref string) error {
	if err := ValidateRef(ref); err != nil {
		return domainerrors.Validation(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(ref)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return domainerrors.IOf(err, "delete page %s", ref)
	}

	return nil
}

// BlobInfo describes one stored blob.
type BlobInfo struct {
	Ref     string
	Size    int64
	ModTime time.Time
}

// List returns every page blob in the directory. Temp files are skipped.
func (s *Storage) List() ([]BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, domainerrors.IOf(err, "list pages")
	}

	blobs := make([]BlobInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		blobs = append(blobs, BlobInfo{Ref: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return blobs, nil
}

// Path returns the full filesystem path for a blob.
func (s *Storage) Path(ref string) string {
	return filepath.Join(s.basePath, ref)
}
