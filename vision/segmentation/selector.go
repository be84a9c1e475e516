package segmentation

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/surfaces/pointcloud"
)

// Names of the cluster selectors understood by ParseClusterSelector.
const (
	SelectLargest       = "largest"
	SelectSecondLargest = "second_largest"
	SelectMostCurved    = "most_curved"
)

// A ClusterSelector decides which cluster a surface is fitted to. Clusters are as returned by
// RegionGrowing and normals are co-indexed with the segmented cloud. Clusters with fewer than
// minPoints points are never selected. It returns the position of the chosen cluster in clusters.
type ClusterSelector interface {
	Select(clusters []Cluster, normals []pointcloud.Normal, minPoints int) (int, bool)
	fmt.Stringer
}

// ParseClusterSelector returns the selector with the given name.
func ParseClusterSelector(name string) (ClusterSelector, error) {
	switch name {
	case SelectLargest, "":
		return ByRank(0), nil
	case SelectSecondLargest:
		return ByRank(1), nil
	case SelectMostCurved:
		return MostCurved(), nil
	default:
		return nil, errors.Errorf("unknown cluster selector %q, expected one of %q, %q or %q",
			name, SelectLargest, SelectSecondLargest, SelectMostCurved)
	}
}

// eligible returns the positions of the clusters that hold at least minPoints points.
func eligible(clusters []Cluster, minPoints int) []int {
	return lo.Filter(lo.Range(len(clusters)), func(i, _ int) bool {
		return clusters[i].Size() >= minPoints
	})
}

type rankSelector int

// ByRank selects the cluster with the given rank by size among those that are large enough:
// 0 is the largest, 1 the second largest and so on.
func ByRank(rank int) ClusterSelector {
	return rankSelector(rank)
}

func (r rankSelector) Select(clusters []Cluster, _ []pointcloud.Normal, minPoints int) (int, bool) {
	candidates := eligible(clusters, minPoints)
	if r < 0 || int(r) >= len(candidates) {
		return 0, false
	}
	return candidates[r], true
}

func (r rankSelector) String() string {
	switch r {
	case 0:
		return SelectLargest
	case 1:
		return SelectSecondLargest
	default:
		return fmt.Sprintf("rank_%d", int(r))
	}
}

type curvedSelector struct{}

// MostCurved selects the large enough cluster with the highest mean curvature; ties go to the
// larger cluster.
func MostCurved() ClusterSelector {
	return curvedSelector{}
}

func (curvedSelector) Select(clusters []Cluster, normals []pointcloud.Normal, minPoints int) (int, bool) {
	candidates := eligible(clusters, minPoints)
	if len(candidates) == 0 {
		return 0, false
	}
	meanCurvature := func(i int) float64 {
		sum := lo.SumBy(clusters[i], func(idx int) float64 { return normals[idx].Curvature })
		return sum / float64(clusters[i].Size())
	}
	return lo.MaxBy(candidates, func(a, b int) bool {
		return meanCurvature(a) > meanCurvature(b)
	}), true
}

func (curvedSelector) String() string {
	return SelectMostCurved
}
