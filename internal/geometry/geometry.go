// Package geometry holds the image-space polygon primitives used for zone
// classification. Coordinates are camera pixels; y grows downwards but
// nothing here depends on orientation.
package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

// PointInPolygon reports whether p lies inside polygon using ray casting.
// The polygon is implicitly closed and need not be convex. Points exactly on
// an edge may land on either side.
func PointInPolygon(p r2.Point, polygon []r2.Point) bool {
	if len(polygon) < 3 || !Finite(p) {
		return false
	}
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		vi, vj := polygon[i], polygon[j]
		j = i
		if vi.Y == vj.Y {
			continue
		}
		if (vi.Y > p.Y) == (vj.Y > p.Y) {
			continue
		}
		crossX := (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y) + vi.X
		if p.X < crossX {
			inside = !inside
		}
	}
	return inside
}

// PolygonArea returns the absolute shoelace area. Degenerate polygons are 0.
func PolygonArea(polygon []r2.Point) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var sum float64
	for i := range polygon {
		next := polygon[(i+1)%len(polygon)]
		sum += polygon[i].X*next.Y - next.X*polygon[i].Y
	}
	area := math.Abs(sum) / 2
	if math.IsNaN(area) || math.IsInf(area, 0) {
		return 0
	}
	return area
}

// Bounds is the axis-aligned bounding box of polygon. A point outside it is
// outside the polygon.
func Bounds(polygon []r2.Point) r2.Rect {
	if len(polygon) == 0 {
		return r2.EmptyRect()
	}
	return r2.RectFromPoints(polygon...)
}

// Finite reports whether both coordinates are real numbers.
func Finite(p r2.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
