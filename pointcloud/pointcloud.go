// Package pointcloud defines an ordered point cloud built from a depth frame and the geometry
// that runs on it: voxel downsampling, k-d tree neighbour search, normal estimation and
// closed-form plane and sphere fits.
//
// Points keep the order in which they were appended, so an index into the cloud is stable for
// the lifetime of the cloud and can be used to address co-indexed data such as normals.
package pointcloud

import (
	"image"
	"math"

	"github.com/golang/geo/r3"
)

// NoPixel marks a point that does not come from a single grid coordinate.
var NoPixel = image.Point{X: -1, Y: -1}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	inited bool // just to prevent someone creating the wrong way
}

// NewMetaData creates an empty MetaData whose bounds grow on Merge.
func NewMetaData() MetaData {
	return MetaData{
		MinX:   math.MaxFloat64,
		MinY:   math.MaxFloat64,
		MinZ:   math.MaxFloat64,
		MaxX:   -math.MaxFloat64,
		MaxY:   -math.MaxFloat64,
		MaxZ:   -math.MaxFloat64,
		inited: true,
	}
}

// Merge grows the bounds to include v.
func (meta *MetaData) Merge(v r3.Vector) {
	if !meta.inited {
		*meta = NewMetaData()
	}
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Min returns the lower corner of the bounding box.
func (meta MetaData) Min() r3.Vector {
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
}

// Max returns the upper corner of the bounding box.
func (meta MetaData) Max() r3.Vector {
	return r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}

// PointCloud is an ordered, append-only container of points. Every point may carry the grid
// coordinate it was read from.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// At returns the i-th point.
	At(i int) r3.Vector

	// Pixel returns the grid coordinate of the i-th point, if it has one.
	Pixel(i int) (image.Point, bool)

	// Append adds a point that has no source pixel.
	Append(p r3.Vector)

	// AppendWithPixel adds a point read from the given grid coordinate.
	AppendWithPixel(p r3.Vector, pixel image.Point)

	// Iterate iterates over all points in the cloud in order and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up the work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector) bool)
}

// Points returns a copy of every point in the cloud, in order.
func Points(cloud PointCloud) []r3.Vector {
	if cloud == nil {
		return nil
	}
	out := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(_ int, p r3.Vector) bool {
		out = append(out, p)
		return true
	})
	return out
}

// PointsAt maps cloud indices to their coordinates.
func PointsAt(cloud PointCloud, indices []int) []r3.Vector {
	out := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		out[i] = cloud.At(idx)
	}
	return out
}

// Clone returns a deep copy of the cloud.
func Clone(cloud PointCloud) PointCloud {
	if cloud == nil {
		return nil
	}
	out := NewWithPrealloc(cloud.Size())
	cloud.Iterate(0, 0, func(i int, p r3.Vector) bool {
		if pixel, ok := cloud.Pixel(i); ok {
			out.AppendWithPixel(p, pixel)
		} else {
			out.Append(p)
		}
		return true
	})
	return out
}
