package inference

import (
	"math"
	"strconv"
	"strings"

	"github.com/auraa-fs/cropscan/pkg/types"
)

// UnknownClass labels detections that arrive without a class name.
const UnknownClass = "Unknown"

// flexFloat decodes a JSON number, a numeric string ("0.42", "87%"), or null.
// Anything else decodes as absent rather than failing the whole response.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	f.v, f.ok = v, true
	return nil
}

func (f flexFloat) or(other flexFloat) flexFloat {
	if f.ok {
		return f
	}
	return other
}

// RawDetection is one detection as the backend returns it. Corner
// coordinates (x1,y1,x2,y2) win over origin+size (x,y,w,h); either may be
// normalized or in pixels.
type RawDetection struct {
	Class      string    `json:"class"`
	ClassName  string    `json:"class_name"`
	Conf       flexFloat `json:"conf"`
	Confidence flexFloat `json:"confidence"`
	X1         flexFloat `json:"x1"`
	Y1         flexFloat `json:"y1"`
	X2         flexFloat `json:"x2"`
	Y2         flexFloat `json:"y2"`
	X          flexFloat `json:"x"`
	Y          flexFloat `json:"y"`
	W          flexFloat `json:"w"`
	H          flexFloat `json:"h"`
}

// Normalize converts raw detections to boxes with coordinates in [0,1] and
// confidence in [0,100]. Pixel coordinates are detected by any corner value
// above 1 and divided by the frame size. Boxes that end up with no area are
// dropped.
func Normalize(raw []RawDetection, frameW, frameH int) []types.DetectionBox {
	boxes := make([]types.DetectionBox, 0, len(raw))
	for _, r := range raw {
		if b, ok := normalizeOne(r, frameW, frameH); ok {
			boxes = append(boxes, b)
		}
	}
	return boxes
}

func normalizeOne(r RawDetection, frameW, frameH int) (types.DetectionBox, bool) {
	x1 := r.X1.or(r.X)
	y1 := r.Y1.or(r.Y)
	if !x1.ok || !y1.ok {
		return types.DetectionBox{}, false
	}

	x2, y2 := r.X2, r.Y2
	if !x2.ok {
		if !r.W.ok {
			return types.DetectionBox{}, false
		}
		x2 = flexFloat{v: x1.v + r.W.v, ok: true}
	}
	if !y2.ok {
		if !r.H.ok {
			return types.DetectionBox{}, false
		}
		y2 = flexFloat{v: y1.v + r.H.v, ok: true}
	}

	left, top, right, bottom := x1.v, y1.v, x2.v, y2.v
	if left > 1 || top > 1 || right > 1 || bottom > 1 {
		if frameW <= 0 || frameH <= 0 {
			return types.DetectionBox{}, false
		}
		left /= float64(frameW)
		right /= float64(frameW)
		top /= float64(frameH)
		bottom /= float64(frameH)
	}

	left, right = clamp(left, 0, 1), clamp(right, 0, 1)
	top, bottom = clamp(top, 0, 1), clamp(bottom, 0, 1)
	if right-left <= 0 || bottom-top <= 0 {
		return types.DetectionBox{}, false
	}

	class := strings.TrimSpace(r.Class)
	if class == "" {
		class = strings.TrimSpace(r.ClassName)
	}
	if class == "" {
		class = UnknownClass
	}

	return types.DetectionBox{
		Class:      class,
		Confidence: clamp(r.Conf.or(r.Confidence).v, 0, 100),
		X:          left,
		Y:          top,
		W:          right - left,
		H:          bottom - top,
	}, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
