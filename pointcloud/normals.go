package pointcloud

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/surfaces/utils"
)

// minNormalNeighbors is the smallest neighbourhood that defines a local plane.
const minNormalNeighbors = 3

// Normal is the estimated surface orientation at one point of a cloud.
type Normal struct {
	Vector r3.Vector
	// Curvature is the surface variation, the smallest covariance eigenvalue over their sum.
	Curvature float64
	Valid     bool
}

// NormalConfig controls how neighbourhoods are gathered for normal estimation.
type NormalConfig struct {
	// K is the number of nearest neighbours, the point itself included. Ignored when Radius > 0.
	K int
	// Radius, when positive, gathers every neighbour within that distance instead of K.
	Radius float64
	// Viewpoint is where normals are oriented toward, usually the sensor origin.
	Viewpoint r3.Vector
	// Workers is the number of goroutines to split the cloud across. 0 means utils.ParallelFactor.
	Workers int
}

// CheckValid checks that the config can estimate normals.
func (cfg NormalConfig) CheckValid() error {
	if cfg.Radius < 0 || !utils.IsFinite(cfg.Radius) {
		return errors.Errorf("normal radius must be a non-negative number, got %v", cfg.Radius)
	}
	if cfg.Radius == 0 && cfg.K < minNormalNeighbors {
		return errors.Errorf("normal neighbors must be at least %d, got %d", minNormalNeighbors, cfg.K)
	}
	if cfg.Workers < 0 {
		return errors.Errorf("workers cannot be negative, got %d", cfg.Workers)
	}
	return nil
}

// EstimateNormals returns one normal per point of the cloud, co-indexed with it. The tree must
// have been built over the same cloud. Each point's result only depends on its neighbourhood, so
// the output is the same for any worker count.
func EstimateNormals(ctx context.Context, cloud PointCloud, tree *KDTree, cfg NormalConfig) ([]Normal, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if tree.Size() != cloud.Size() {
		return nil, errors.Errorf("tree holds %d points but cloud holds %d", tree.Size(), cloud.Size())
	}
	normals := make([]Normal, cloud.Size())
	err := utils.GroupWorkParallel(
		ctx,
		cfg.Workers,
		cloud.Size(),
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			neighborhood := make([]r3.Vector, 0, cfg.K)
			return func(memberNum, workNum int) {
				p := cloud.At(workNum)
				var found []Neighbor
				if cfg.Radius > 0 {
					found = tree.RadiusNearestNeighbors(p, cfg.Radius)
				} else {
					found = tree.KNearestNeighbors(p, cfg.K)
				}
				neighborhood = neighborhood[:0]
				for _, n := range found {
					neighborhood = append(neighborhood, n.Point)
				}
				normals[workNum] = estimateNormal(p, neighborhood, cfg.Viewpoint)
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return normals, nil
}

func estimateNormal(p r3.Vector, neighborhood []r3.Vector, viewpoint r3.Vector) Normal {
	if len(neighborhood) < minNormalNeighbors {
		return Normal{}
	}
	pa, ok := computePrincipalAxes(neighborhood)
	if !ok {
		return Normal{}
	}
	n := pa.Axes[0]
	if n.Norm2() == 0 || !utils.IsFinite(n.X+n.Y+n.Z) {
		return Normal{}
	}
	if n.Dot(viewpoint.Sub(p)) < 0 {
		n = n.Mul(-1)
	}
	var curvature float64
	if sum := pa.Values[0] + pa.Values[1] + pa.Values[2]; sum > 0 {
		curvature = math.Max(0, pa.Values[0]/sum)
	}
	return Normal{Vector: n, Curvature: curvature, Valid: true}
}
