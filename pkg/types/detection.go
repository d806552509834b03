package types

// DetectionBox is one normalized bounding box.
// Confidence is a percentage in [0,100]; X, Y, W, H are fractions of the frame in [0,1].
type DetectionBox struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
}

// Valid reports whether the box lies in its stated ranges and has a positive area.
func (b DetectionBox) Valid() bool {
	if b.W <= 0 || b.H <= 0 {
		return false
	}
	if b.Confidence < 0 || b.Confidence > 100 {
		return false
	}
	return b.X >= 0 && b.Y >= 0 && b.X+b.W <= 1+1e-9 && b.Y+b.H <= 1+1e-9
}

// Area returns the box area as a fraction of the frame.
func (b DetectionBox) Area() float64 {
	return b.W * b.H
}

// DetectionEvent is the result of one inference tick. Immutable once created.
type DetectionEvent struct {
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
	Boxes     []DetectionBox `json:"boxes"`
	LatencyMs int64          `json:"latency_ms"`
}

// Clone returns a deep copy so callers can never alias stored history.
func (e DetectionEvent) Clone() DetectionEvent {
	out := e
	if e.Boxes != nil {
		out.Boxes = make([]DetectionBox, len(e.Boxes))
		copy(out.Boxes, e.Boxes)
	}
	return out
}
