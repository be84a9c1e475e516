package pointcloud

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// principalAxes is the eigen decomposition of the covariance of a set of points. Values are in
// ascending order and Axes[i] is the unit eigenvector of Values[i].
type principalAxes struct {
	Centroid r3.Vector
	Values   [3]float64
	Axes     [3]r3.Vector
}

func centroid(points []r3.Vector) r3.Vector {
	var c r3.Vector
	for _, p := range points {
		c = c.Add(p)
	}
	return c.Mul(1. / float64(len(points)))
}

// computePrincipalAxes factorizes the centered covariance of the points. It returns false when
// there are no points or the factorization fails.
func computePrincipalAxes(points []r3.Vector) (principalAxes, bool) {
	if len(points) == 0 {
		return principalAxes{}, false
	}
	c := centroid(points)
	var xx, xy, xz, yy, yz, zz float64
	for _, p := range points {
		d := p.Sub(c)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	n := float64(len(points))
	cov := mat.NewSymDense(3, []float64{
		xx / n, xy / n, xz / n,
		xy / n, yy / n, yz / n,
		xz / n, yz / n, zz / n,
	})

	var eigen mat.EigenSym
	if ok := eigen.Factorize(cov, true); !ok {
		return principalAxes{}, false
	}
	vals := eigen.Values(nil)
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	pa := principalAxes{Centroid: c}
	for i := 0; i < 3; i++ {
		pa.Values[i] = vals[i]
		pa.Axes[i] = r3.Vector{X: vecs.At(0, i), Y: vecs.At(1, i), Z: vecs.At(2, i)}.Normalize()
	}
	return pa, true
}
