package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// MinSpherePoints is the fewest points that determine a sphere.
	MinSpherePoints = 4
	// maxSphereCondition is the largest condition number of the linearized system that is still
	// solved. Coplanar points make the system singular.
	maxSphereCondition = 1e10
	// coplanarRatio is how small the smallest covariance eigenvalue may be relative to the largest
	// before the points are considered coplanar.
	coplanarRatio = 1e-12
	// maxPlaneResidualShare is the largest RMS residual a sphere may leave, as a share of the RMS
	// residual of the best plane through the same points.
	maxPlaneResidualShare = 0.5
)

// Sphere is the set of points at distance radius from center.
type Sphere struct {
	center r3.Vector
	radius float64
}

// NewSphere returns the sphere with the given center and radius. A negative radius is taken as
// its absolute value.
func NewSphere(center r3.Vector, radius float64) *Sphere {
	return &Sphere{center: center, radius: math.Abs(radius)}
}

// FitSphere returns the algebraic least squares sphere through the points. The sphere equation
// |p|² = 2c·p + k, with k = r² - |c|², is linear in (c, k) and is solved by QR decomposition. The
// points are shifted to their centroid first to keep the system well conditioned.
//
// Points that are close to coplanar fail with ErrDegenerateFit: a sphere must leave at most half
// the RMS residual of the best plane through the same points. Noise on a flat surface is
// otherwise fitted by a large sphere.
func FitSphere(points []r3.Vector) (*Sphere, error) {
	n := len(points)
	if n < MinSpherePoints {
		return nil, ErrTooFewPoints
	}
	pa, ok := computePrincipalAxes(points)
	if !ok || pa.Values[2] <= 0 || pa.Values[0] <= coplanarRatio*pa.Values[2] {
		return nil, ErrDegenerateFit
	}
	origin := pa.Centroid

	a := mat.NewDense(n, 4, nil)
	b := mat.NewVecDense(n, nil)
	for i, pt := range points {
		q := pt.Sub(origin)
		a.Set(i, 0, 2*q.X)
		a.Set(i, 1, 2*q.Y)
		a.Set(i, 2, 2*q.Z)
		a.Set(i, 3, 1)
		b.SetVec(i, q.Norm2())
	}
	if cond := mat.Cond(a, 2); math.IsNaN(cond) || cond > maxSphereCondition {
		return nil, ErrDegenerateFit
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil, errors.Wrap(ErrDegenerateFit, err.Error())
	}

	c := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	rSquared := x.AtVec(3) + c.Norm2()
	if rSquared < 0 || math.IsNaN(rSquared) || math.IsInf(rSquared, 0) {
		return nil, ErrDegenerateFit
	}
	sphere := &Sphere{center: c.Add(origin), radius: math.Sqrt(rSquared)}

	// the best plane leaves an RMS residual of the square root of the smallest eigenvalue
	planeResidual := math.Sqrt(pa.Values[0])
	if residual := sphere.RMSResidual(points); residual > maxPlaneResidualShare*planeResidual {
		return nil, errors.Wrapf(ErrDegenerateFit,
			"sphere residual %v is not clearly below plane residual %v", residual, planeResidual)
	}
	return sphere, nil
}

// Center returns the center of the sphere.
func (s *Sphere) Center() r3.Vector {
	return s.center
}

// Radius returns the radius of the sphere.
func (s *Sphere) Radius() float64 {
	return s.radius
}

// Equation returns (cx, cy, cz, r).
func (s *Sphere) Equation() [4]float64 {
	return [4]float64{s.center.X, s.center.Y, s.center.Z, s.radius}
}

// Distance returns the signed distance of pt to the sphere surface, positive outside.
func (s *Sphere) Distance(pt r3.Vector) float64 {
	return pt.Sub(s.center).Norm() - s.radius
}

// SquaredDistance returns the squared distance of pt to the sphere surface.
func (s *Sphere) SquaredDistance(pt r3.Vector) float64 {
	d := s.Distance(pt)
	return d * d
}

// RMSResidual returns the root mean square distance of the points to the sphere surface.
func (s *Sphere) RMSResidual(points []r3.Vector) float64 {
	return rmsResidual(points, s.SquaredDistance)
}
