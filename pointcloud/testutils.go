package pointcloud

import (
	"image"

	"github.com/golang/geo/r3"
)

// MakeTestLattice creates a cols x rows lattice centered on the z axis with the given spacing.
// depth gives z for each (x, y); points where it returns a non-positive value are left out.
// Every point keeps its lattice coordinate as its pixel.
func MakeTestLattice(cols, rows int, spacing float64, depth func(x, y float64) float64) PointCloud {
	pc := NewWithPrealloc(cols * rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x := (float64(col) - float64(cols-1)/2) * spacing
			y := (float64(row) - float64(rows-1)/2) * spacing
			z := depth(x, y)
			if z <= 0 {
				continue
			}
			pc.AppendWithPixel(r3.Vector{X: x, Y: y, Z: z}, image.Point{X: col, Y: row})
		}
	}
	return pc
}
