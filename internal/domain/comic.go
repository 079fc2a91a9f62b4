// Package domain defines the persisted entities of the comic library.
package domain

import (
	"fmt"
	"slices"
	"time"
)

// Comic is a user-created ordered collection of page images with a title.
// PageRefs are opaque blob names in the page store, in reading order; the
// comic exclusively owns every blob it references.
type Comic struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	PageRefs    []string  `json:"page_refs"`
	Placeholder string    `json:"placeholder,omitempty"` // BlurHash of the first page
}

// PageCount returns the number of pages.
func (c *Comic) PageCount() int {
	return len(c.PageRefs)
}

// FirstPage returns the first page reference, or "" for an empty comic.
func (c *Comic) FirstPage() string {
	if len(c.PageRefs) == 0 {
		return ""
	}
	return c.PageRefs[0]
}

// Clone returns a deep copy so callers cannot mutate cached or stored state.
func (c *Comic) Clone() *Comic {
	if c == nil {
		return nil
	}
	out := *c
	out.PageRefs = slices.Clone(c.PageRefs)
	return &out
}

// DefaultTitle returns the auto-generated title for the n-th comic (1-based).
func DefaultTitle(n int) string {
	return fmt.Sprintf("Comic %d", n)
}

// ValidatePageRefs checks that refs contains no empty or duplicate entries.
func ValidatePageRefs(refs []string) error {
	seen := make(map[string]struct{}, len(refs))
	for i, ref := range refs {
		if ref == "" {
			return fmt.Errorf("page %d: empty reference", i)
		}
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("page %d: duplicate reference %q", i, ref)
		}
		seen[ref] = struct{}{}
	}
	return nil
}

// SortComics orders comics by creation time, oldest first, breaking ties by ID.
func SortComics(comics []*Comic) {
	slices.SortStableFunc(comics, func(a, b *Comic) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
