// Package overlay draws detection boxes and labels onto frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

var (
	// Critical is the box color for critical labels
	Critical = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	// NonCritical is the box color for every other label
	NonCritical = color.RGBA{R: 0, G: 0, B: 255, A: 255}
)

const (
	thickness   = 3
	labelOffset = 10 // Label baseline sits this far above the box top
)

// ColorFor returns the overlay color for a severity
func ColorFor(s types.Severity) color.RGBA {
	if s == types.SeverityCritical {
		return Critical
	}
	return NonCritical
}

// ToRGBA returns img as a mutable RGBA image, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}

// Draw renders each detection's rectangle and upper-cased label onto img.
// The returned image may share pixels with img.
func Draw(img image.Image, detections []types.ClassifiedDetection) *image.RGBA {
	canvas := ToRGBA(img)
	for _, d := range detections {
		c := ColorFor(d.Severity)
		rect := image.Rect(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
		drawRect(canvas, rect, c, thickness)
		drawLabel(canvas, rect.Min.X, rect.Min.Y-labelOffset, strings.ToUpper(d.Label), c)
	}
	return canvas
}

// drawRect strokes r with the given line thickness, clipped to the image.
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, t int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text with its baseline at (x, y).
func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
