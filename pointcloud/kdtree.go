package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is one result of a nearest neighbour query.
type Neighbor struct {
	Index    int
	Point    r3.Vector
	Distance float64
}

// KDTree is a static k-d tree over the points of a cloud. It is read-only once built and safe for
// concurrent queries.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// NewKDTree builds a tree over the points of the cloud. Query results refer to points by their
// index in the cloud.
func NewKDTree(cloud PointCloud) *KDTree {
	pts := make(kdPoints, 0, cloud.Size())
	cloud.Iterate(0, 0, func(i int, p r3.Vector) bool {
		pts = append(pts, kdPoint{Vector: p, index: i})
		return true
	})
	if len(pts) == 0 {
		return &KDTree{}
	}
	return &KDTree{tree: kdtree.New(pts, false), size: len(pts)}
}

// Size returns the number of points in the tree.
func (kd *KDTree) Size() int {
	return kd.size
}

// KNearestNeighbors returns the k points closest to p, p itself included when it is in the tree.
// Results are ordered by distance then index; points tied with the k-th distance are resolved by
// index, never by tree layout.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int) []Neighbor {
	if k <= 0 || kd.size == 0 {
		return nil
	}
	query := kdPoint{Vector: p, index: -1}
	keeper := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keeper, query)
	found := collect(keeper.Heap)
	if len(found) < k {
		sortNeighbors(found)
		return found
	}
	// Re-query by the k-th distance so every tie at the boundary is a candidate.
	bound := 0.
	for _, n := range found {
		bound = math.Max(bound, n.Distance)
	}
	found = kd.withinSquared(query, bound)
	if len(found) > k {
		found = found[:k]
	}
	return found
}

// RadiusNearestNeighbors returns every point within radius r of p, p itself included when it is
// in the tree, ordered by distance then index.
func (kd *KDTree) RadiusNearestNeighbors(p r3.Vector, r float64) []Neighbor {
	if r < 0 || kd.size == 0 {
		return nil
	}
	return kd.withinSquared(kdPoint{Vector: p, index: -1}, r*r)
}

func (kd *KDTree) withinSquared(query kdPoint, d2 float64) []Neighbor {
	keeper := kdtree.NewDistKeeper(d2)
	kd.tree.NearestSet(keeper, query)
	found := collect(keeper.Heap)
	sortNeighbors(found)
	return found
}

// collect converts a keeper heap into neighbours, dropping the keeper's sentinel entry. Distances
// are still squared on return.
func collect(h kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(h))
	for _, c := range h {
		if c.Comparable == nil {
			continue
		}
		p := c.Comparable.(kdPoint)
		out = append(out, Neighbor{Index: p.index, Point: p.Vector, Distance: c.Dist})
	}
	return out
}

// sortNeighbors orders by squared distance then index and converts distances to euclidean.
func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].Index < ns[j].Index
	})
	for i := range ns {
		ns[i].Distance = math.Sqrt(ns[i].Distance)
	}
}

// kdPoint is a cloud point stored in the tree along with its cloud index.
type kdPoint struct {
	r3.Vector
	index int
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	return component(p.Vector, d) - component(q.Vector, d)
}

func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance, as kdtree expects.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	return p.Sub(q.Vector).Norm2()
}

func component(v r3.Vector, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	default:
		panic("illegal dimension")
	}
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p kdPoints) Len() int                      { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int {
	return kdPlane{kdPoints: p, Dim: d}.Pivot()
}
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// kdPlane sorts points along one dimension.
type kdPlane struct {
	kdtree.Dim
	kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return component(p.kdPoints[i].Vector, p.Dim) < component(p.kdPoints[j].Vector, p.Dim)
}

func (p kdPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}

func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}
