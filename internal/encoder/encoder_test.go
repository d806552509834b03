package encoder

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, data string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestEncodeDownsamplesPreservingAspect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))

	out, err := Encode(src, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 640, out.Width)
	assert.Equal(t, 360, out.Height)
	assert.False(t, strings.HasPrefix(out.Data, "data:"))
	assert.Greater(t, out.Bytes, 0)

	img := decode(t, out.Data)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 360, img.Bounds().Dy())
}

func TestEncodePortraitUsesLongestSide(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 480, 1920))

	out, err := Encode(src, Options{MaxDimension: 640, Quality: 70})
	require.NoError(t, err)
	assert.Equal(t, 160, out.Width)
	assert.Equal(t, 640, out.Height)
}

func TestEncodeNeverUpscales(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 320, 240))

	out, err := Encode(src, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 240, out.Height)
}

func TestEncodeEmptyImage(t *testing.T) {
	_, err := Encode(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = Encode(image.NewRGBA(image.Rect(0, 0, 0, 10)), DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestJPEGClampsQuality(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	low, err := JPEG(src, -5)
	require.NoError(t, err)
	high, err := JPEG(src, 500)
	require.NoError(t, err)
	assert.NotEmpty(t, low)
	assert.NotEmpty(t, high)
}
