// Package id generates identifiers for persisted comic library entities.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ComicPrefix is the prefix of every comic record ID.
const ComicPrefix = "comic"

// Generate creates a prefixed unique ID using NanoID
// Format: prefix-nanoid (e.g., "comic-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// NewComicID returns a fresh comic record ID.
func NewComicID() (string, error) {
	return Generate(ComicPrefix)
}
