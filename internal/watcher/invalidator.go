package watcher

import (
	"context"
	"log/slog"
)

// PageInvalidator drops cached renditions derived from a page blob.
// service.LibraryService implements it.
type PageInvalidator interface {
	InvalidatePage(ctx context.Context, ref string) error
}

// Invalidator feeds watcher events into a PageInvalidator. New blobs are
// ignored; nothing can be cached from a page before it exists.
type Invalidator struct {
	watcher *Watcher
	target  PageInvalidator
	logger  *slog.Logger
}

// NewInvalidator connects a watcher to an invalidation target.
func NewInvalidator(w *Watcher, target PageInvalidator, logger *slog.Logger) *Invalidator {
	return &Invalidator{watcher: w, target: target, logger: logger}
}

// Run consumes events until ctx is cancelled or the watcher stops.
func (i *Invalidator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-i.watcher.Errors():
			i.logger.Warn("page watcher error", "error", err)
		case event := <-i.watcher.Events():
			i.handle(ctx, event)
		}
	}
}

func (i *Invalidator) handle(ctx context.Context, event Event) {
	if event.Type == EventAdded {
		return
	}

	i.logger.Debug("page changed on disk", "ref", event.Ref, "type", event.Type)
	if err := i.target.InvalidatePage(ctx, event.Ref); err != nil {
		i.logger.Warn("failed to invalidate page", "ref", event.Ref, "error", err)
	}
}
