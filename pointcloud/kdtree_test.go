package pointcloud

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func bruteForceNeighbors(pts []r3.Vector, q r3.Vector) []Neighbor {
	out := make([]Neighbor, len(pts))
	for i, p := range pts {
		out[i] = Neighbor{Index: i, Point: p, Distance: p.Sub(q).Norm()}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func indices(ns []Neighbor) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Index
	}
	return out
}

func randomCloud(n int, seed int64) PointCloud {
	//nolint:gosec
	r := rand.New(rand.NewSource(seed))
	pc := NewWithPrealloc(n)
	for i := 0; i < n; i++ {
		pc.Append(r3.Vector{X: r.Float64()*10 - 5, Y: r.Float64()*10 - 5, Z: r.Float64() * 3})
	}
	return pc
}

func TestKDTreeKNearestNeighbors(t *testing.T) {
	pc := randomCloud(500, 1)
	pts := Points(pc)
	kd := NewKDTree(pc)
	test.That(t, kd.Size(), test.ShouldEqual, 500)

	for _, q := range []r3.Vector{pts[0], pts[250], {X: 0, Y: 0, Z: 1}, {X: 20, Y: -20, Z: 0}} {
		expected := bruteForceNeighbors(pts, q)
		for _, k := range []int{1, 7, 30} {
			got := kd.KNearestNeighbors(q, k)
			test.That(t, len(got), test.ShouldEqual, k)
			test.That(t, indices(got), test.ShouldResemble, indices(expected[:k]))
			for i, n := range got {
				test.That(t, n.Distance, test.ShouldAlmostEqual, expected[i].Distance)
				test.That(t, n.Point, test.ShouldResemble, pts[n.Index])
			}
		}
	}

	// the query point itself is its own nearest neighbour
	got := kd.KNearestNeighbors(pts[42], 1)
	test.That(t, indices(got), test.ShouldResemble, []int{42})
	test.That(t, got[0].Distance, test.ShouldEqual, 0)

	// asking for more than the tree holds returns everything
	test.That(t, len(kd.KNearestNeighbors(pts[0], 1000)), test.ShouldEqual, 500)
	test.That(t, kd.KNearestNeighbors(pts[0], 0), test.ShouldBeNil)
}

func TestKDTreeTies(t *testing.T) {
	pc := MakeTestLattice(5, 5, 1, func(x, y float64) float64 { return 1 })
	kd := NewKDTree(pc)
	center := pc.At(12)

	got := kd.KNearestNeighbors(center, 5)
	test.That(t, indices(got), test.ShouldResemble, []int{12, 7, 11, 13, 17})

	// the four neighbours at distance 1 are tied, the lowest indices win
	got = kd.KNearestNeighbors(center, 3)
	test.That(t, indices(got), test.ShouldResemble, []int{12, 7, 11})
	test.That(t, got[1].Distance, test.ShouldAlmostEqual, 1)
}

func TestKDTreeRadiusNearestNeighbors(t *testing.T) {
	pc := randomCloud(400, 2)
	pts := Points(pc)
	kd := NewKDTree(pc)

	for _, r := range []float64{0, 0.5, 1.5, 4} {
		q := pts[100]
		var expected []int
		for _, n := range bruteForceNeighbors(pts, q) {
			if n.Distance <= r {
				expected = append(expected, n.Index)
			}
		}
		got := kd.RadiusNearestNeighbors(q, r)
		test.That(t, indices(got), test.ShouldResemble, expected)
		for _, n := range got {
			test.That(t, n.Distance, test.ShouldBeLessThanOrEqualTo, r)
			test.That(t, math.IsNaN(n.Distance), test.ShouldBeFalse)
		}
	}
	test.That(t, kd.RadiusNearestNeighbors(pts[0], -1), test.ShouldBeNil)
}

func TestKDTreeEmpty(t *testing.T) {
	kd := NewKDTree(New())
	test.That(t, kd.Size(), test.ShouldEqual, 0)
	test.That(t, kd.KNearestNeighbors(r3.Vector{}, 3), test.ShouldBeNil)
	test.That(t, kd.RadiusNearestNeighbors(r3.Vector{}, 3), test.ShouldBeNil)
}
