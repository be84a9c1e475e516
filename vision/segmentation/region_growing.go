package segmentation

import (
	"context"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/surfaces/pointcloud"
	"go.viam.com/surfaces/utils"
)

// Cluster is a set of indices into the cloud that was segmented, in ascending order.
type Cluster []int

// Size returns the number of points in the cluster.
func (c Cluster) Size() int {
	return len(c)
}

// RegionGrowingConfig specifies the parameters for growing smooth regions out of a cloud with
// normals.
type RegionGrowingConfig struct {
	// Neighbors is how many nearest neighbours of a point are candidates to join its region.
	Neighbors int `json:"neighbors"`
	// SmoothnessThreshold is the largest angle, in degrees, between the normals of a point and a
	// neighbour for the neighbour to join the region.
	SmoothnessThreshold float64 `json:"smoothness_threshold_degrees"`
	// CurvatureThreshold is the curvature below which an admitted point keeps growing the region.
	CurvatureThreshold float64 `json:"curvature_threshold"`
	MinClusterSize     int     `json:"min_cluster_size"`
	MaxClusterSize     int     `json:"max_cluster_size"`
}

// CheckValid checks to see in the input values are valid.
func (cfg *RegionGrowingConfig) CheckValid() error {
	var err error
	if cfg.Neighbors <= 0 {
		err = multierr.Append(err, errors.Errorf("neighbors must be greater than 0, got %d", cfg.Neighbors))
	}
	if !(cfg.SmoothnessThreshold > 0 && cfg.SmoothnessThreshold <= 180) {
		err = multierr.Append(err,
			errors.Errorf("smoothness threshold must be in (0, 180] degrees, got %v", cfg.SmoothnessThreshold))
	}
	if cfg.CurvatureThreshold < 0 || math.IsNaN(cfg.CurvatureThreshold) {
		err = multierr.Append(err,
			errors.Errorf("curvature threshold cannot be negative, got %v", cfg.CurvatureThreshold))
	}
	if cfg.MinClusterSize < 1 {
		err = multierr.Append(err, errors.Errorf("min cluster size must be at least 1, got %d", cfg.MinClusterSize))
	}
	if cfg.MaxClusterSize < cfg.MinClusterSize {
		err = multierr.Append(err, errors.Errorf("max cluster size %d is less than min cluster size %d",
			cfg.MaxClusterSize, cfg.MinClusterSize))
	}
	return err
}

// IsSmooth returns true if two normals respect the smoothness constraint, false otherwise.
// angleTh is expressed in degrees.
func IsSmooth(n1, n2 r3.Vector, angleTh float64) bool {
	angle := math.Min(math.Abs(n1.Dot(n2)), 1)
	angle = utils.RadToDeg(math.Acos(angle))
	return angle < angleTh
}

// RegionGrowing partitions the cloud into regions whose normals vary smoothly. Seeds are taken in
// order of increasing curvature, ties broken by index, and each region grows breadth first over
// nearest neighbours queried from the tree. Points without a valid normal never join a region.
// Regions outside [MinClusterSize, MaxClusterSize] are dropped but their points are not reused.
// The result is sorted by decreasing size, ties broken by smallest member.
func RegionGrowing(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	normals []pointcloud.Normal,
	tree *pointcloud.KDTree,
	cfg RegionGrowingConfig,
) ([]Cluster, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	n := cloud.Size()
	if len(normals) != n || tree.Size() != n {
		return nil, errors.Errorf("cloud has %d points but got %d normals and a tree of %d", n, len(normals), tree.Size())
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return normals[order[i]].Curvature < normals[order[j]].Curvature
	})

	visited := make([]bool, n)
	for i, normal := range normals {
		visited[i] = !normal.Valid
	}

	clusters := make([]Cluster, 0)
	var front []int
	for _, seed := range order {
		if visited[seed] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		visited[seed] = true
		members := Cluster{seed}
		front = append(front[:0], seed)
		for len(front) > 0 {
			current := front[0]
			front = front[1:]
			for _, neighbor := range tree.KNearestNeighbors(cloud.At(current), cfg.Neighbors) {
				idx := neighbor.Index
				if visited[idx] {
					continue
				}
				if !IsSmooth(normals[current].Vector, normals[idx].Vector, cfg.SmoothnessThreshold) {
					continue
				}
				visited[idx] = true
				members = append(members, idx)
				if normals[idx].Curvature < cfg.CurvatureThreshold {
					front = append(front, idx)
				}
			}
		}
		if members.Size() < cfg.MinClusterSize || members.Size() > cfg.MaxClusterSize {
			continue
		}
		sort.Ints(members)
		clusters = append(clusters, members)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Size() != clusters[j].Size() {
			return clusters[i].Size() > clusters[j].Size()
		}
		return clusters[i][0] < clusters[j][0]
	})
	return clusters, nil
}
