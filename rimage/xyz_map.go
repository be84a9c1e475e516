package rimage

import (
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// XYZMap is a grid of 3D coordinates as delivered by a time of flight sensor, one coordinate per
// pixel. Pixels without a return hold an invalid coordinate, see IsInvalidPoint.
type XYZMap struct {
	width  int
	height int

	data []r3.Vector
}

// NewXYZMap returns a width x height map where every pixel is invalid.
func NewXYZMap(width, height int) *XYZMap {
	return &XYZMap{
		width:  width,
		height: height,
		data:   make([]r3.Vector, width*height),
	}
}

// NewXYZMapFromPoints wraps row-major coordinates in a map. The slice is copied.
func NewXYZMapFromPoints(width, height int, points []r3.Vector) (*XYZMap, error) {
	if width < 0 || height < 0 {
		return nil, errors.Errorf("invalid dimensions %dx%d", width, height)
	}
	if len(points) != width*height {
		return nil, errors.Errorf("expected %d points for a %dx%d map but got %d", width*height, width, height, len(points))
	}
	m := NewXYZMap(width, height)
	copy(m.data, points)
	return m, nil
}

// IsInvalidPoint reports whether p is the "no data" sentinel: the all-zero vector, or any
// coordinate that is NaN or infinite.
func IsInvalidPoint(p r3.Vector) bool {
	if p.X == 0 && p.Y == 0 && p.Z == 0 {
		return true
	}
	for _, c := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return true
		}
	}
	return false
}

// Width returns the number of columns.
func (m *XYZMap) Width() int {
	return m.width
}

// Height returns the number of rows.
func (m *XYZMap) Height() int {
	return m.height
}

// Bounds returns the rectangle of valid pixel coordinates.
func (m *XYZMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// Contains returns whether the pixel is inside the map.
func (m *XYZMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.width && y < m.height
}

// At returns the coordinate at column x, row y.
func (m *XYZMap) At(x, y int) r3.Vector {
	return m.data[y*m.width+x]
}

// Get returns the coordinate at the pixel.
func (m *XYZMap) Get(p image.Point) r3.Vector {
	return m.At(p.X, p.Y)
}

// Set stores the coordinate at column x, row y.
func (m *XYZMap) Set(x, y int, p r3.Vector) {
	m.data[y*m.width+x] = p
}

// Valid returns whether the pixel holds a usable coordinate.
func (m *XYZMap) Valid(x, y int) bool {
	return !IsInvalidPoint(m.At(x, y))
}

// ValidCount returns the number of valid pixels.
func (m *XYZMap) ValidCount() int {
	count := 0
	for _, p := range m.data {
		if !IsInvalidPoint(p) {
			count++
		}
	}
	return count
}

// Clone makes a deep copy of the map.
func (m *XYZMap) Clone() *XYZMap {
	out := NewXYZMap(m.width, m.height)
	copy(out.data, m.data)
	return out
}
