package pointcloud

import (
	"image"

	"github.com/golang/geo/r3"
)

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// parallel slices of points and pixels.
type basicPointCloud struct {
	points []r3.Vector
	pixels []image.Point
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]r3.Vector, 0, size),
		pixels: make([]image.Point, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a PointCloud holding the given points, none of which carry a pixel.
func NewFromPoints(points []r3.Vector) PointCloud {
	cloud := NewWithPrealloc(len(points))
	for _, p := range points {
		cloud.Append(p)
	}
	return cloud
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

func (cloud *basicPointCloud) Pixel(i int) (image.Point, bool) {
	pixel := cloud.pixels[i]
	return pixel, pixel != NoPixel
}

func (cloud *basicPointCloud) Append(p r3.Vector) {
	cloud.AppendWithPixel(p, NoPixel)
}

func (cloud *basicPointCloud) AppendWithPixel(p r3.Vector, pixel image.Point) {
	cloud.points = append(cloud.points, p)
	cloud.pixels = append(cloud.pixels, pixel)
	cloud.meta.Merge(p)
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector) bool) {
	from, to := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		from = min(myBatch*batchSize, len(cloud.points))
		to = min(from+batchSize, len(cloud.points))
	}
	for i := from; i < to; i++ {
		if !fn(i, cloud.points[i]) {
			return
		}
	}
}
