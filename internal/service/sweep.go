package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/comicshelf/comicshelf/internal/media/images"
	"github.com/comicshelf/comicshelf/internal/store"
)

// BlobLister enumerates and deletes stored page blobs.
// *images.Storage implements it.
type BlobLister interface {
	List() ([]images.BlobInfo, error)
	Delete(ref string) error
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned    int // blobs examined
	Referenced int // blobs owned by a comic
	Young      int // orphans inside the grace period, left alone
	Removed    int
	Failed     int
}

// LogValue implements slog.LogValuer.
func (r SweepResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("scanned", r.Scanned),
		slog.Int("referenced", r.Referenced),
		slog.Int("young", r.Young),
		slog.Int("removed", r.Removed),
		slog.Int("failed", r.Failed),
	)
}

// SweepService reclaims page blobs that no comic references, such as those
// left behind by an import whose record creation failed.
type SweepService struct {
	repo   store.ComicRepository
	blobs  BlobLister
	grace  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSweepService creates a sweep that spares orphans younger than grace,
// which may belong to an import still in progress.
func NewSweepService(repo store.ComicRepository, blobs BlobLister, grace time.Duration, logger *slog.Logger) *SweepService {
	return &SweepService{
		repo:   repo,
		blobs:  blobs,
		grace:  grace,
		now:    time.Now,
		logger: logger,
	}
}

// Sweep deletes unreferenced blobs older than the grace period.
func (s *SweepService) Sweep(ctx context.Context) (*SweepResult, error) {
	referenced, err := s.repo.AllPageRefs(ctx)
	if err != nil {
		return nil, repoError(err, "", "list page refs")
	}
	blobs, err := s.blobs.List()
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.grace)
	result := &SweepResult{}
	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		if _, ok := referenced[blob.Ref]; ok {
			result.Referenced++
			continue
		}
		if blob.ModTime.After(cutoff) {
			result.Young++
			continue
		}

		if err := s.blobs.Delete(blob.Ref); err != nil {
			result.Failed++
			s.logger.Warn("failed to remove orphan blob", "ref", blob.Ref, "error", err)
			continue
		}
		result.Removed++
		s.logger.Debug("removed orphan blob", "ref", blob.Ref, "size", blob.Size)
	}

	s.logger.Info("sweep complete", "result", *result)
	return result, nil
}
