// Package snapshot - Renders the evidence images attached to alarms and the live preview overlay.
package snapshot

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/images"
)

var (
	// BoxColor outlines a tracked tray.
	BoxColor = color.RGBA{0, 255, 0, 0}
	// TextColor is used for the label.
	TextColor = color.RGBA{0, 255, 0, 0}
	// ItemColor marks item centers in the preview.
	ItemColor = color.RGBA{0, 0, 255, 0}
)

// Renderer blurs everything outside a tray and labels it.
type Renderer struct {
	// KernelSize is the Gaussian kernel edge. It must be odd.
	KernelSize int
	// Thickness of the box outline.
	Thickness int
	// FontScale of the label.
	FontScale float64
}

// NewRenderer returns a Renderer with the production settings.
func NewRenderer() *Renderer {
	return &Renderer{KernelSize: 55, Thickness: 3, FontScale: 1.0}
}

// Capture draws a snapshot of box on frame.
//
// The frame is blurred, the box region is copied back unaltered, and the box is
// outlined with label written above it. frame is not modified.
//
// Arguments:
//   - frame: Full-resolution source frame.
//   - box: Tray position in frame coordinates.
//   - label: Text drawn above the box.
//
// Returns:
//   - gocv.Mat: The snapshot. The caller owns it and must Close it.
//   - error: When the frame is empty or the box lies outside it.
func (r *Renderer) Capture(frame gocv.Mat, box images.Rect, label string) (gocv.Mat, error) {
	if frame.Ptr() == nil || frame.Empty() {
		return gocv.Mat{}, errors.New("snapshot: empty frame")
	}
	clip := images.Clip(box, frame.Cols(), frame.Rows())
	if clip.Area() == 0 {
		return gocv.Mat{}, errors.Errorf("snapshot: box %s outside %dx%d frame", box, frame.Cols(), frame.Rows())
	}

	k := r.KernelSize
	if k%2 == 0 {
		k++
	}
	out := gocv.NewMat()
	gocv.GaussianBlur(frame, &out, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	src := frame.Region(clip.Rectangle())
	dst := out.Region(clip.Rectangle())
	src.CopyTo(&dst)
	src.Close()
	dst.Close()

	gocv.Rectangle(&out, clip.Rectangle(), BoxColor, r.Thickness)
	gocv.PutText(&out, label, labelOrigin(clip), gocv.FontHersheySimplex, r.FontScale, TextColor, 2)
	return out, nil
}

// Overlay is one tray as drawn on the preview.
type Overlay struct {
	Box   images.Rect
	Label string
}

// DrawTracks draws trays and item centers onto img in place.
func DrawTracks(img *gocv.Mat, overlays []Overlay, items []images.Point) {
	for _, o := range overlays {
		gocv.Rectangle(img, o.Box.Rectangle(), BoxColor, 2)
		gocv.PutText(img, o.Label, labelOrigin(o.Box), gocv.FontHersheyPlain, 1.2, TextColor, 2)
	}
	for _, p := range items {
		gocv.Circle(img, image.Pt(p.X, p.Y), 5, ItemColor, -1)
	}
}

func labelOrigin(box images.Rect) image.Point {
	y := box.Y1 - 10
	if y < 15 {
		y = box.Y1 + 25
	}
	return image.Pt(box.X1, y)
}
