// Package imaging validates uploaded bytes and produces the renditions the
// model and the display layer consume.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Rendition bounds. Images are scaled down to fit, keeping aspect ratio.
const (
	ModelWidth     = 512
	ModelHeight    = 512
	DisplayWidth   = 640
	DisplayHeight  = 480
	DisplayQuality = 90

	maxPixels = 64 << 20
)

var ErrNotImage = errors.New("file is not a valid image")

// Info describes an upload that passed validation.
type Info struct {
	MIME   string
	Ext    string
	Format string
	Width  int
	Height int
}

// Inspect checks that data is an image in a registered format without
// decoding the pixels. The content is sniffed first so a renamed text file
// is rejected before any decoder runs.
func Inspect(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrNotImage)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrNotImage)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrNotImage, cfg.Width, cfg.Height)
	}

	return &Info{
		MIME:   mt.String(),
		Ext:    mt.Extension(),
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Decode inspects and fully decodes data.
func Decode(data []byte) (image.Image, error) {
	if _, err := Inspect(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return img, nil
}

// Fit scales img down so it fits within maxW x maxH, preserving aspect
// ratio. Images already within bounds are returned as is; nothing is upscaled.
func Fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// ForModel returns the rendition passed to the vision model.
func ForModel(img image.Image) image.Image {
	return Fit(img, ModelWidth, ModelHeight)
}

// Display returns the JPEG rendition shown alongside an analysis.
func Display(img image.Image) ([]byte, error) {
	return EncodeJPEG(Fit(img, DisplayWidth, DisplayHeight), DisplayQuality)
}

// EncodeJPEG flattens any transparency onto white and encodes img.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	b := img.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
