package images

import (
	"fmt"
	"image"

	"github.com/bbrks/go-blurhash"
)

// blurHashSize is the target size for BlurHash computation.
// A small thumbnail produces nearly identical hashes in a fraction of the time.
const blurHashSize = 64

// ComputeBlurHash generates a BlurHash placeholder for a page.
// Uses 4x3 components, which suits portrait comic pages.
func (t *Transformer) ComputeBlurHash(img image.Image) (string, error) {
	small := t.Fit(img, Box{Width: blurHashSize, Height: blurHashSize})

	hash, err := blurhash.Encode(4, 3, small)
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}
