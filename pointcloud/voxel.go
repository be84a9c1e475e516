package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/surfaces/utils"
)

/* In this file are functions to create a Voxel Grid from a point cloud and to downsample the
cloud with it. A voxel represents a value on a regular grid in three-dimensional space. As with
pixels in a 2D bitmap, voxels themselves do not typically have their position (i.e. coordinates)
explicitly encoded with their values.
More information and comparisons with pixels here:
- https://en.wikipedia.org/wiki/Voxel
- https://medium.com/retronator-magazine/pixels-and-voxels-the-long-answer-5889ecc18190
*/

const (
	// maxLeafDoublings bounds how many times DownsampleToCeiling doubles the leaf size.
	maxLeafDoublings = 16
	// leafBisections is how many times DownsampleToCeiling halves the interval between a leaf
	// size that is too small and one that is large enough.
	leafBisections = 8
)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes
type VoxelCoords struct {
	I, J, K int64
}

// Voxel accumulates the cloud points that fall into one leaf of the grid.
type Voxel struct {
	Key     VoxelCoords
	Indices []int
	sum     r3.Vector
}

// Center returns the barycenter of the points in the voxel.
func (v *Voxel) Center() r3.Vector {
	if len(v.Indices) == 0 {
		return r3.Vector{}
	}
	return v.sum.Mul(1. / float64(len(v.Indices)))
}

// VoxelGrid contains the sparse grid of Voxels of a point cloud. Voxels are kept in the order
// in which the cloud first touched them.
type VoxelGrid struct {
	Voxels    []*Voxel
	VoxelSize float64
	keys      map[VoxelCoords]int
}

// GetVoxelCoordinates computes voxel coordinates in VoxelGrid Axes
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	ptVoxel := pt.Sub(ptMin).Mul(1. / voxelSize)
	return VoxelCoords{
		I: int64(math.Floor(ptVoxel.X)),
		J: int64(math.Floor(ptVoxel.Y)),
		K: int64(math.Floor(ptVoxel.Z)),
	}
}

// NewVoxelGridFromPointCloud creates and fills a VoxelGrid from a point cloud. The grid is
// anchored at the lower corner of the cloud's bounding box.
func NewVoxelGridFromPointCloud(pc PointCloud, voxelSize float64) (*VoxelGrid, error) {
	if voxelSize <= 0 || !utils.IsFinite(voxelSize) {
		return nil, errors.Errorf("voxel size must be positive, got %v", voxelSize)
	}
	vg := &VoxelGrid{
		Voxels:    make([]*Voxel, 0),
		VoxelSize: voxelSize,
		keys:      make(map[VoxelCoords]int),
	}
	if pc.Size() == 0 {
		return vg, nil
	}
	ptMin := pc.MetaData().Min()
	pc.Iterate(0, 0, func(i int, pt r3.Vector) bool {
		coords := GetVoxelCoordinates(pt, ptMin, voxelSize)
		idx, ok := vg.keys[coords]
		if !ok {
			idx = len(vg.Voxels)
			vg.keys[coords] = idx
			vg.Voxels = append(vg.Voxels, &Voxel{Key: coords})
		}
		vox := vg.Voxels[idx]
		vox.Indices = append(vox.Indices, i)
		vox.sum = vox.sum.Add(pt)
		return true
	})
	return vg, nil
}

// ToPointCloud returns the centroid of every occupied voxel, in grid order.
func (vg *VoxelGrid) ToPointCloud() PointCloud {
	out := NewWithPrealloc(len(vg.Voxels))
	for _, vox := range vg.Voxels {
		out.Append(vox.Center())
	}
	return out
}

// VoxelDownsample replaces all points sharing a voxel of the given leaf size with their centroid.
// The output is ordered by the first point of the input that touched each voxel.
func VoxelDownsample(cloud PointCloud, leafSize float64) (PointCloud, error) {
	vg, err := NewVoxelGridFromPointCloud(cloud, leafSize)
	if err != nil {
		return nil, err
	}
	return vg.ToPointCloud(), nil
}

// DownsampleToCeiling voxel downsamples the cloud with the smallest leaf size it can find that
// brings it down to at most ceiling points. The leaf is doubled until the result fits, then the
// interval between the last two sizes is bisected so the cloud keeps as many points as the ceiling
// allows. It returns the cloud along with the leaf size that produced it. A non-positive ceiling
// disables the search.
func DownsampleToCeiling(cloud PointCloud, leafSize float64, ceiling int) (PointCloud, float64, error) {
	out, err := VoxelDownsample(cloud, leafSize)
	if err != nil {
		return nil, 0, err
	}
	if ceiling <= 0 || out.Size() <= ceiling {
		return out, leafSize, nil
	}

	tooSmall, fits := leafSize, leafSize
	for i := 0; ; i++ {
		if i == maxLeafDoublings {
			return out, fits, nil
		}
		fits *= 2
		if out, err = VoxelDownsample(cloud, fits); err != nil {
			return nil, 0, err
		}
		if out.Size() <= ceiling {
			break
		}
		tooSmall = fits
	}

	for i := 0; i < leafBisections; i++ {
		mid := (tooSmall + fits) / 2
		candidate, err := VoxelDownsample(cloud, mid)
		if err != nil {
			return nil, 0, err
		}
		if candidate.Size() <= ceiling {
			out, fits = candidate, mid
		} else {
			tooSmall = mid
		}
	}
	return out, fits, nil
}
