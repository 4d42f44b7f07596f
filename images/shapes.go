// Package images - Geometry and image helpers shared by the tracker and the detector.
package images

import (
	"fmt"
	"image"
)

// Rect is a lightweight axis-aligned bounding box in pixel coordinates.
type Rect struct {
	// X1,Y1 is the top-left corner and X2,Y2 the bottom-right corner.
	X1, Y1, X2, Y2 int
}

// Point is a pixel coordinate, used for item centers.
type Point struct {
	X, Y int
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y int) Point {
	return Point{X: x, Y: y}
}

// Area returns the area of the rectangle, or 0 when it is degenerate.
func (r Rect) Area() int {
	w := r.X2 - r.X1
	h := r.Y2 - r.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Contains reports whether p lies inside r. Both edges are inclusive.
func (r Rect) Contains(p Point) bool {
	return r.X1 <= p.X && p.X <= r.X2 && r.Y1 <= p.Y && p.Y <= r.Y2
}

// Offset returns r translated by (dx, dy).
func (r Rect) Offset(dx, dy int) Rect {
	return Rect{X1: r.X1 + dx, Y1: r.Y1 + dy, X2: r.X2 + dx, Y2: r.Y2 + dy}
}

// Center returns the integer midpoint of r.
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// Rectangle converts r to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// FromRectangle converts an image.Rectangle to a Rect.
func FromRectangle(r image.Rectangle) Rect {
	return Rect{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// OverlapRatio is the Intersection over Union of two rectangles.
//
// The intersection is bounded by the maximum of the top-left corners and the
// minimum of the bottom-right corners. Union follows inclusion-exclusion:
//
//	Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
//
// Arguments:
//   - a: The first rectangle.
//   - b: The second rectangle.
//
// Returns:
//   - float64: A value in [0, 1]. 0 when the rectangles do not intersect or the
//     union is empty, 1 for identical non-degenerate rectangles.
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	ratio := OverlapRatio(a, b) // 25 / 175 = 0.142857
//
// ```
func OverlapRatio(a, b Rect) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
