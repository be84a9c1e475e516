package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
)

const (
	// MinPlanePoints is the fewest points that determine a plane.
	MinPlanePoints = 3
	// degenerateRatio is how small the middle covariance eigenvalue may be relative to the
	// largest before the points are considered collinear.
	degenerateRatio = 1e-12
	// zeroOffset is the offset below which a plane is considered to pass through the origin.
	zeroOffset = 1e-12
)

// Plane is a plane n·p = d with n a unit vector. The sign is canonical: d > 0, or when the plane
// passes through the origin, the first non-zero component of n is positive.
type Plane struct {
	normal r3.Vector
	offset float64
	center r3.Vector
}

// NewPlane returns the plane normal·p = offset. The normal is scaled to unit length and the
// equation brought to its canonical sign.
func NewPlane(normal r3.Vector, offset float64) *Plane {
	norm := normal.Norm()
	normal, offset = canonicalPlane(normal.Mul(1/norm), offset/norm)
	return &Plane{normal: normal, offset: offset, center: normal.Mul(offset)}
}

// FitPlane returns the least squares plane through the points: the normal is the eigenvector of
// the smallest eigenvalue of their centered covariance.
func FitPlane(points []r3.Vector) (*Plane, error) {
	if len(points) < MinPlanePoints {
		return nil, ErrTooFewPoints
	}
	pa, ok := computePrincipalAxes(points)
	if !ok {
		return nil, ErrDegenerateFit
	}
	if pa.Values[2] <= 0 || pa.Values[1] <= degenerateRatio*pa.Values[2] {
		return nil, ErrDegenerateFit
	}
	normal, offset := canonicalPlane(pa.Axes[0], pa.Axes[0].Dot(pa.Centroid))
	return &Plane{normal: normal, offset: offset, center: pa.Centroid}, nil
}

func canonicalPlane(normal r3.Vector, offset float64) (r3.Vector, float64) {
	flip := offset < -zeroOffset
	if math.Abs(offset) <= zeroOffset {
		for _, c := range []float64{normal.X, normal.Y, normal.Z} {
			if c != 0 {
				flip = c < 0
				break
			}
		}
	}
	if flip {
		return normal.Mul(-1), -offset
	}
	return normal, offset
}

// Normal returns the unit normal of the plane.
func (p *Plane) Normal() r3.Vector {
	return p.normal
}

// Offset returns d in n·p = d.
func (p *Plane) Offset() float64 {
	return p.offset
}

// Center returns the centroid of the fitted points, or the point of the plane closest to the
// origin for a plane that was not fitted.
func (p *Plane) Center() r3.Vector {
	return p.center
}

// Equation returns (a, b, c, d) of a·x + b·y + c·z = d.
func (p *Plane) Equation() [4]float64 {
	return [4]float64{p.normal.X, p.normal.Y, p.normal.Z, p.offset}
}

// Distance returns the signed distance of pt to the plane, positive on the side the normal
// points to.
func (p *Plane) Distance(pt r3.Vector) float64 {
	return p.normal.Dot(pt) - p.offset
}

// SquaredDistance returns the squared distance of pt to the plane.
func (p *Plane) SquaredDistance(pt r3.Vector) float64 {
	d := p.Distance(pt)
	return d * d
}

// RMSResidual returns the root mean square distance of the points to the plane.
func (p *Plane) RMSResidual(points []r3.Vector) float64 {
	return rmsResidual(points, p.SquaredDistance)
}

func rmsResidual(points []r3.Vector, squaredDistance func(r3.Vector) float64) float64 {
	if len(points) == 0 {
		return 0
	}
	residuals := make([]float64, len(points))
	for i, pt := range points {
		residuals[i] = squaredDistance(pt)
	}
	return math.Sqrt(floats.Sum(residuals) / float64(len(points)))
}
