package inference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRaw(t *testing.T, s string) []RawDetection {
	t.Helper()
	var raw []RawDetection
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func TestNormalizeCornersPreferredOverOrigin(t *testing.T) {
	raw := decodeRaw(t, `[{"class":"Rust","conf":91.5,"x1":0.1,"y1":0.2,"x2":0.5,"y2":0.6,"x":0.9,"y":0.9,"w":0.05,"h":0.05}]`)

	boxes := Normalize(raw, 640, 480)
	require.Len(t, boxes, 1)
	b := boxes[0]
	assert.Equal(t, "Rust", b.Class)
	assert.InDelta(t, 91.5, b.Confidence, 1e-9)
	assert.InDelta(t, 0.1, b.X, 1e-9)
	assert.InDelta(t, 0.2, b.Y, 1e-9)
	assert.InDelta(t, 0.4, b.W, 1e-9)
	assert.InDelta(t, 0.4, b.H, 1e-9)
}

func TestNormalizeOriginAndSize(t *testing.T) {
	raw := decodeRaw(t, `[{"class":"Blight","conf":"72.5","x":"0.25","y":0.5,"w":0.5,"h":"0.25"}]`)

	boxes := Normalize(raw, 640, 480)
	require.Len(t, boxes, 1)
	assert.InDelta(t, 72.5, boxes[0].Confidence, 1e-9)
	assert.InDelta(t, 0.25, boxes[0].X, 1e-9)
	assert.InDelta(t, 0.5, boxes[0].W, 1e-9)
	assert.InDelta(t, 0.25, boxes[0].H, 1e-9)
}

func TestNormalizeRescalesPixelCoordinates(t *testing.T) {
	raw := decodeRaw(t, `[
		{"class":"Smut","conf":50,"x1":64,"y1":48,"x2":320,"y2":240},
		{"class":"Smut","conf":50,"x":0,"y":0,"w":640,"h":480}
	]`)

	boxes := Normalize(raw, 640, 480)
	require.Len(t, boxes, 2)
	for _, b := range boxes {
		assert.True(t, b.Valid(), "%+v", b)
	}
	assert.InDelta(t, 0.1, boxes[0].X, 1e-9)
	assert.InDelta(t, 0.1, boxes[0].Y, 1e-9)
	assert.InDelta(t, 0.4, boxes[0].W, 1e-9)
	assert.InDelta(t, 0.4, boxes[0].H, 1e-9)
	assert.InDelta(t, 1.0, boxes[1].W, 1e-9)
	assert.InDelta(t, 1.0, boxes[1].H, 1e-9)
}

func TestNormalizeClampsOverflow(t *testing.T) {
	raw := decodeRaw(t, `[{"class":"Rot","conf":140,"x1":600,"y1":-10,"x2":700,"y2":100}]`)

	boxes := Normalize(raw, 640, 480)
	require.Len(t, boxes, 1)
	b := boxes[0]
	assert.Equal(t, 100.0, b.Confidence)
	assert.InDelta(t, 600.0/640, b.X, 1e-9)
	assert.Equal(t, 0.0, b.Y)
	assert.InDelta(t, 1.0, b.X+b.W, 1e-9)
	assert.True(t, b.Valid())
}

func TestNormalizeDropsDegenerateBoxes(t *testing.T) {
	raw := decodeRaw(t, `[
		{"class":"A","conf":80,"x":0.2,"y":0.2,"w":0,"h":0.1},
		{"class":"A","conf":80,"x":0.2,"y":0.2,"w":-0.1,"h":0.1},
		{"class":"A","conf":80,"x1":0.5,"y1":0.5,"x2":0.4,"y2":0.9},
		{"class":"A","conf":80,"y":0.2,"w":0.1,"h":0.1},
		{"class":"A","conf":80,"x":"abc","y":0.2,"w":0.1,"h":0.1},
		{"class":"A","conf":80,"x":2,"y":2,"w":5,"h":5}
	]`)

	// The last one is in pixels with no frame size to rescale it.
	assert.Empty(t, Normalize(raw, 0, 0))
}

func TestNormalizeMissingClass(t *testing.T) {
	raw := decodeRaw(t, `[{"class_name":"Leaf Spot","confidence":60,"x":0,"y":0,"w":0.5,"h":0.5},{"conf":60,"x":0,"y":0,"w":0.5,"h":0.5}]`)

	boxes := Normalize(raw, 640, 480)
	require.Len(t, boxes, 2)
	assert.Equal(t, "Leaf Spot", boxes[0].Class)
	assert.Equal(t, UnknownClass, boxes[1].Class)
}
