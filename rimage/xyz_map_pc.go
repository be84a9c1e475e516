package rimage

import (
	"image"

	"go.viam.com/surfaces/pointcloud"
)

// XYZMapToPointCloud scans the map in row-major order and appends every valid coordinate to a new
// cloud, recording the pixel it came from. A map with no valid pixel gives an empty cloud.
func XYZMapToPointCloud(m *XYZMap) pointcloud.PointCloud {
	pc := pointcloud.NewWithPrealloc(m.ValidCount())
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			p := m.At(x, y)
			if IsInvalidPoint(p) {
				continue
			}
			pc.AppendWithPixel(p, image.Point{X: x, Y: y})
		}
	}
	return pc
}
