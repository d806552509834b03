package overlay

import (
	"image/color"
	"strconv"
	"strings"
)

// classColors is the crop-disease palette, keyed by detector class name.
var classColors = map[string]color.RGBA{
	"Aphid":          hex("#FF4444"),
	"Black Rust":     hex("#8B008B"),
	"Blast":          hex("#FF6347"),
	"Brown Spot":     hex("#8B4513"),
	"Downy Mildew":   hex("#4169E1"),
	"Gall Midge":     hex("#FF8C00"),
	"Hispa":          hex("#DC143C"),
	"Leaf Blotch":    hex("#556B2F"),
	"Leaf Scald":     hex("#FF1493"),
	"Normal":         hex("#00AA00"),
	"Powdery Mildew": hex("#F0E68C"),
	"Sheath Blight":  hex("#006400"),
	"Sheath Rot":     hex("#8B4513"),
	"Stem Borer":     hex("#696969"),
	"Tungro":         hex("#CD5C5C"),
}

var (
	ColorLow     = hex("#FFFF00") // conf < 40
	ColorMedium  = hex("#FF8800") // 40 <= conf < 60
	ColorHigh    = hex("#FF0000") // conf > 85
	ColorUnknown = hex("#FF0000")
)

// ClassColor returns the palette colour for class, red when unknown.
func ClassColor(class string) color.RGBA {
	if c, ok := classColors[class]; ok {
		return c
	}
	return ColorUnknown
}

// TierColor picks the stroke colour for a box: confidence tiers override the
// class colour at the low and high ends.
func TierColor(class string, confidence float64) color.RGBA {
	switch {
	case confidence < 40:
		return ColorLow
	case confidence < 60:
		return ColorMedium
	case confidence > 85:
		return ColorHigh
	default:
		return ClassColor(class)
	}
}

// hex parses "#RRGGBB". Only used on the constants above.
func hex(s string) color.RGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		panic("overlay: bad colour " + s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
