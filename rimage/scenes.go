package rimage

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Synthetic frames for exercising surface detection. Pixels sit on a regular lattice in x and y
// centered on the optical axis, the way a pinhole camera sees a fronto-parallel scene.

func latticeXY(width, height, col, row int, spacing float64) (float64, float64) {
	x := (float64(col) - float64(width-1)/2) * spacing
	y := (float64(row) - float64(height-1)/2) * spacing
	return x, y
}

// NewPlaneXYZMap returns a frame of a flat surface at the given depth.
func NewPlaneXYZMap(width, height int, spacing, depth float64) *XYZMap {
	m := NewXYZMap(width, height)
	AddPatch(m, m.Bounds(), spacing, depth)
	return m
}

// NewSphereXYZMap returns a frame of the side of a sphere facing the sensor. Pixels whose ray
// misses the sphere are invalid.
func NewSphereXYZMap(width, height int, spacing float64, center r3.Vector, radius float64) *XYZMap {
	m := NewXYZMap(width, height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x, y := latticeXY(width, height, col, row, spacing)
			dx, dy := x-center.X, y-center.Y
			h := radius*radius - dx*dx - dy*dy
			if h < 0 {
				continue
			}
			m.Set(col, row, r3.Vector{X: x, Y: y, Z: center.Z - math.Sqrt(h)})
		}
	}
	return m
}

// AddPatch overwrites the pixels of rect with a flat patch at the given depth, e.g. a hand held in
// front of the background.
func AddPatch(m *XYZMap, rect image.Rectangle, spacing, depth float64) {
	rect = rect.Intersect(m.Bounds())
	for row := rect.Min.Y; row < rect.Max.Y; row++ {
		for col := rect.Min.X; col < rect.Max.X; col++ {
			x, y := latticeXY(m.width, m.height, col, row, spacing)
			m.Set(col, row, r3.Vector{X: x, Y: y, Z: depth})
		}
	}
}

// ClearRect marks the pixels of rect invalid.
func ClearRect(m *XYZMap, rect image.Rectangle) {
	rect = rect.Intersect(m.Bounds())
	for row := rect.Min.Y; row < rect.Max.Y; row++ {
		for col := rect.Min.X; col < rect.Max.X; col++ {
			m.Set(col, row, r3.Vector{})
		}
	}
}

// AddDepthNoise adds zero mean gaussian noise with the given standard deviation to the depth of
// every valid pixel. A nil src uses the global random source.
func AddDepthNoise(m *XYZMap, sigma float64, src rand.Source) {
	if sigma <= 0 {
		return
	}
	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	for i, p := range m.data {
		if IsInvalidPoint(p) {
			continue
		}
		p.Z += noise.Rand()
		m.data[i] = p
	}
}
