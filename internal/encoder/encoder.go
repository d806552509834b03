// Package encoder turns decoded frames into compact JPEG payloads for the
// detection endpoint.
package encoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/auraa-fs/cropscan/pkg/types"
)

// ErrEmptyImage is returned for nil or zero-area images.
var ErrEmptyImage = errors.New("empty image")

// Options controls downsampling and compression.
type Options struct {
	MaxDimension int // longest side after downsampling; <= 0 keeps the original size
	Quality      int // JPEG quality 1..100
}

// DefaultOptions matches the detection endpoint's expected payload: 640px, quality 70.
func DefaultOptions() Options {
	return Options{MaxDimension: 640, Quality: 70}
}

// Encode downsamples img proportionally so neither side exceeds
// opts.MaxDimension and returns it as base64 JPEG without a data-URL prefix.
// Images already within bounds are never upscaled.
func Encode(img image.Image, opts Options) (types.EncodedFrame, error) {
	if img == nil || img.Bounds().Empty() {
		return types.EncodedFrame{}, ErrEmptyImage
	}

	scaled := Downsample(img, opts.MaxDimension)
	raw, err := JPEG(scaled, opts.Quality)
	if err != nil {
		return types.EncodedFrame{}, err
	}

	b := scaled.Bounds()
	return types.EncodedFrame{
		Data:   base64.StdEncoding.EncodeToString(raw),
		Width:  b.Dx(),
		Height: b.Dy(),
		Bytes:  len(raw),
	}, nil
}

// Downsample fits img inside a maxDim x maxDim box, preserving aspect ratio.
func Downsample(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Linear)
}

// JPEG compresses img at the given quality, clamped to 1..100.
func JPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
