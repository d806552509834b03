// Package overlay draws detection boxes and the live HUD onto frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/auraa-fs/cropscan/pkg/types"
)

const (
	strokeWidth = 3
	cornerSize  = 6
	labelPadX   = 4
	lineHeight  = 16
)

var (
	labelBackground = color.RGBA{A: 0xd0}
	hudBackground   = color.RGBA{A: 0xa0}
	hudTitle        = color.RGBA{R: 0xff, G: 0x44, B: 0x44, A: 0xff}
	hudText         = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	hudStats        = color.RGBA{R: 0x00, G: 0xff, B: 0x88, A: 0xff}

	face = basicfont.Face7x13
)

// HUD carries the live stats printed in the frame's top-left corner.
type HUD struct {
	FPS           float64
	AvgLatencyMs  int64
	DetectionRate float64 // percent
}

// Render copies frame and draws boxes over it in slice order, so later boxes
// sit on top of earlier ones. The source image is never modified.
func Render(frame image.Image, boxes []types.DetectionBox, hud *HUD) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)

	for _, box := range boxes {
		drawBox(dst, box)
	}
	if hud != nil {
		drawHUD(dst, boxes, *hud)
	}
	return dst
}

// PixelRect converts a normalized box to pixel coordinates within bounds.
func PixelRect(box types.DetectionBox, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		int(math.Round(box.X*w)),
		int(math.Round(box.Y*h)),
		int(math.Round((box.X+box.W)*w)),
		int(math.Round((box.Y+box.H)*h)),
	)
	return r.Add(bounds.Min).Intersect(bounds)
}

// Label is the text drawn above a box, e.g. "Leaf Blast 87%".
func Label(box types.DetectionBox) string {
	return fmt.Sprintf("%s %.0f%%", box.Class, box.Confidence)
}

func drawBox(dst *image.RGBA, box types.DetectionBox) {
	r := PixelRect(box, dst.Bounds())
	if r.Empty() {
		return
	}
	c := TierColor(box.Class, box.Confidence)
	col := image.NewUniform(c)

	strokeRect(dst, r, strokeWidth, col)

	// corner marks
	for _, p := range []image.Point{
		r.Min,
		{X: r.Max.X - cornerSize, Y: r.Min.Y},
		{X: r.Min.X, Y: r.Max.Y - cornerSize},
		{X: r.Max.X - cornerSize, Y: r.Max.Y - cornerSize},
	} {
		fill(dst, image.Rect(p.X, p.Y, p.X+cornerSize, p.Y+cornerSize), col)
	}

	label := Label(box)
	width := font.MeasureString(face, label).Ceil() + 2*labelPadX
	height := face.Metrics().Height.Ceil() + 4

	// Above the box, or inside it when there is no room at the top.
	top := r.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = r.Min.Y
	}
	bg := image.Rect(r.Min.X, top, r.Min.X+width, top+height)
	blend(dst, bg, labelBackground)
	drawText(dst, label, r.Min.X+labelPadX, top+height-4, c)
}

type hudLine struct {
	text string
	col  color.RGBA
}

func drawHUD(dst *image.RGBA, boxes []types.DetectionBox, hud HUD) {
	// Per-class counts in first-seen order.
	var classes []string
	counts := make(map[string]int)
	for _, box := range boxes {
		if counts[box.Class] == 0 {
			classes = append(classes, box.Class)
		}
		counts[box.Class]++
	}

	lines := []hudLine{{fmt.Sprintf("LIVE - Detections: %d", len(boxes)), hudTitle}}
	for _, c := range classes {
		lines = append(lines, hudLine{fmt.Sprintf("%s: %d", c, counts[c]), hudText})
	}
	lines = append(lines, hudLine{
		fmt.Sprintf("FPS: %.1f | Latency: %dms | Rate: %.1f%%", hud.FPS, hud.AvgLatencyMs, hud.DetectionRate),
		hudStats,
	})

	width := 0
	for _, l := range lines {
		if w := font.MeasureString(face, l.text).Ceil(); w > width {
			width = w
		}
	}
	origin := dst.Bounds().Min
	blend(dst, image.Rect(origin.X+4, origin.Y+4, origin.X+width+20, origin.Y+len(lines)*lineHeight+12), hudBackground)

	y := origin.Y + 4 + lineHeight
	for _, l := range lines {
		drawText(dst, l.text, origin.X+12, y, l.col)
		y += lineHeight
	}
}

func strokeRect(dst *image.RGBA, r image.Rectangle, width int, src image.Image) {
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), src)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), src)
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), src)
	fill(dst, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), src)
}

func fill(dst *image.RGBA, r image.Rectangle, src image.Image) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
}

func blend(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

func drawText(dst *image.RGBA, text string, x, baseline int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}
