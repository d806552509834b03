package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auraa-fs/cropscan/pkg/types"
)

func grey(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x40
	}
	return img
}

func TestTierColor(t *testing.T) {
	assert.Equal(t, ColorLow, TierColor("Blast", 39.9))
	assert.Equal(t, ColorMedium, TierColor("Blast", 40))
	assert.Equal(t, ColorMedium, TierColor("Blast", 59.9))
	assert.Equal(t, ClassColor("Blast"), TierColor("Blast", 60))
	assert.Equal(t, ClassColor("Blast"), TierColor("Blast", 85))
	assert.Equal(t, ColorHigh, TierColor("Normal", 85.1))
	assert.Equal(t, ColorUnknown, TierColor("Mystery Mold", 70))
	assert.Equal(t, color.RGBA{R: 0x41, G: 0x69, B: 0xe1, A: 0xff}, ClassColor("Downy Mildew"))
}

func TestPixelRect(t *testing.T) {
	r := PixelRect(types.DetectionBox{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}, image.Rect(0, 0, 200, 100))
	assert.Equal(t, image.Rect(50, 50, 150, 75), r)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Leaf Blast 87%", Label(types.DetectionBox{Class: "Leaf Blast", Confidence: 87.4}))
}

func TestRenderDrawsStrokeWithoutTouchingSource(t *testing.T) {
	src := grey(200, 200)
	box := types.DetectionBox{Class: "Tungro", Confidence: 70, X: 0.5, Y: 0.5, W: 0.25, H: 0.25}

	out := Render(src, []types.DetectionBox{box}, nil)
	require.Equal(t, src.Bounds(), out.Bounds())

	// Left edge of the stroke, below the corner mark.
	assert.Equal(t, ClassColor("Tungro"), out.RGBAAt(101, 125))
	// Box interior is untouched.
	assert.Equal(t, src.RGBAAt(125, 125), out.RGBAAt(125, 125))
	// Source not modified.
	assert.Equal(t, uint8(0x40), src.RGBAAt(101, 125).R)
}

func TestRenderLaterBoxWinsOverlap(t *testing.T) {
	src := grey(100, 100)
	low := types.DetectionBox{Class: "A", Confidence: 10, X: 0.2, Y: 0.2, W: 0.5, H: 0.5}
	high := types.DetectionBox{Class: "A", Confidence: 95, X: 0.2, Y: 0.2, W: 0.5, H: 0.5}

	out := Render(src, []types.DetectionBox{low, high}, nil)
	assert.Equal(t, ColorHigh, out.RGBAAt(21, 50))

	out = Render(src, []types.DetectionBox{high, low}, nil)
	assert.Equal(t, ColorLow, out.RGBAAt(21, 50))
}

func TestRenderHUDDarkensCorner(t *testing.T) {
	src := grey(320, 240)
	boxes := []types.DetectionBox{{Class: "Blast", Confidence: 90, X: 0.6, Y: 0.6, W: 0.2, H: 0.2}}

	out := Render(src, boxes, &HUD{FPS: 1, AvgLatencyMs: 120, DetectionRate: 50})
	assert.Less(t, out.RGBAAt(6, 6).R, src.RGBAAt(6, 6).R)
	assert.Equal(t, src.RGBAAt(300, 10), out.RGBAAt(300, 10))
}
