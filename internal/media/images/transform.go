package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder

	domainerrors "github.com/comicshelf/comicshelf/internal/errors"
)

const (
	// DefaultJPEGQuality matches the 0.8 compression the page importer has always used.
	DefaultJPEGQuality = 80

	// maxSourcePixels rejects decompression bombs before allocating pixel buffers.
	maxSourcePixels = 120_000_000
)

// Box is a bounding size in pixels.
type Box struct {
	Width  int
	Height int
}

// Standard target boxes.
var (
	ThumbnailBox = Box{Width: 160, Height: 240}
	DisplayBox   = Box{Width: 800, Height: 1200}
)

// Image is a derived rendition: JPEG bytes plus their pixel dimensions.
type Image struct {
	Width  int
	Height int
	Data   []byte
}

// Cost is the number of bytes the rendition occupies in memory.
func (i *Image) Cost() int64 {
	if i == nil {
		return 0
	}
	return int64(len(i.Data))
}

// Decode returns the rendition's pixels.
func (i *Image) Decode() (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(i.Data))
	if err != nil {
		return nil, domainerrors.Decode(err, "decode rendition")
	}
	return img, nil
}

// Transformer decodes, orients, resizes, and encodes page images.
// Stateless apart from its settings; safe for concurrent use.
type Transformer struct {
	Quality int
}

// NewTransformer creates a Transformer with the default JPEG quality.
func NewTransformer() *Transformer {
	return &Transformer{Quality: DefaultJPEGQuality}
}

// Normalize decodes blob and physically applies any EXIF orientation so the
// returned pixels are upright. Malformed input yields a Decode error.
func (t *Transformer) Normalize(blob []byte) (image.Image, error) {
	if len(blob) == 0 {
		return nil, domainerrors.Decode(nil, "empty image data")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(blob))
	if err != nil {
		return nil, domainerrors.Decode(err, "read image header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, domainerrors.Decode(nil, fmt.Sprintf("unsupported image size %dx%d", cfg.Width, cfg.Height))
	}

	img, err := imaging.Decode(bytes.NewReader(blob), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domainerrors.Decode(err, "decode image")
	}
	return img, nil
}

// Fit scales img proportionally so it fits inside box. Images already inside
// the box are returned unchanged; Fit never upscales.
func (t *Transformer) Fit(img image.Image, box Box) image.Image {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), box)
	if w == b.Dx() && h == b.Dy() {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// FitSize returns the largest size with the source aspect ratio that fits in box,
// never exceeding the source size. Both dimensions are at least 1.
func FitSize(srcW, srcH int, box Box) (int, int) {
	if srcW <= 0 || srcH <= 0 || box.Width <= 0 || box.Height <= 0 {
		return max(srcW, 1), max(srcH, 1)
	}
	if srcW <= box.Width && srcH <= box.Height {
		return srcW, srcH
	}

	// Compare srcW/box.Width against srcH/box.Height without floats.
	if srcW*box.Height >= srcH*box.Width {
		return box.Width, max(srcH*box.Width/srcW, 1)
	}
	return max(srcW*box.Height/srcH, 1), box.Height
}

// Encode writes img as JPEG.
func (t *Transformer) Encode(img image.Image) ([]byte, error) {
	quality := t.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// PrepareImport turns a raw upload into the blob that gets stored: oriented
// upright and re-encoded as JPEG. The decoded image is returned for callers
// that derive more from it (placeholders).
func (t *Transformer) PrepareImport(blob []byte) ([]byte, image.Image, error) {
	img, err := t.Normalize(blob)
	if err != nil {
		return nil, nil, err
	}
	data, err := t.Encode(img)
	if err != nil {
		return nil, nil, err
	}
	return data, img, nil
}

// Resize decodes blob and renders it to fit inside box.
func (t *Transformer) Resize(blob []byte, box Box) (*Image, error) {
	img, err := t.Normalize(blob)
	if err != nil {
		return nil, err
	}

	fitted := t.Fit(img, box)
	data, err := t.Encode(fitted)
	if err != nil {
		return nil, err
	}

	b := fitted.Bounds()
	return &Image{Width: b.Dx(), Height: b.Dy(), Data: data}, nil
}
