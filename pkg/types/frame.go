package types

import (
	"image"
	"time"
)

// Frame is one decoded video frame handed out by a frame source.
// Frames are ephemeral: they are replaced on every source tick and never persisted.
type Frame struct {
	Image     image.Image // Decoded pixels
	Timestamp time.Time   // Capture/decode time
	Seq       uint64      // Sequential frame number within the source
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
}

// EncodedFrame is a downsampled JPEG ready for transport to the detection endpoint.
type EncodedFrame struct {
	Data   string // Base64 JPEG, no data-URL prefix
	Width  int    // Encoded width in pixels
	Height int    // Encoded height in pixels
	Bytes  int    // Raw JPEG size before base64
}

// SourceKind identifies the frame source strategy.
type SourceKind string

const (
	SourceCamera  SourceKind = "camera"
	SourceFile    SourceKind = "file"
	SourceNetwork SourceKind = "network"
)

// RenderedFrame is a composited overlay frame, JPEG-encoded for viewers and recorders.
type RenderedFrame struct {
	JPEG      []byte
	Seq       uint64 // Source frame sequence the overlay was drawn on
	Timestamp time.Time
	Width     int
	Height    int
}
