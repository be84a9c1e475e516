package pointcloud

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestNewPlane(t *testing.T) {
	plane := NewPlane(r3.Vector{X: 0, Y: 0, Z: -2}, -10)
	test.That(t, plane.Equation(), test.ShouldResemble, [4]float64{0, 0, 1, 5})
	test.That(t, plane.Normal(), test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 1})
	test.That(t, plane.Offset(), test.ShouldEqual, 5.0)
	test.That(t, plane.Center(), test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 5})

	pt := r3.Vector{X: 3, Y: -1, Z: 7}
	test.That(t, plane.Distance(pt), test.ShouldAlmostEqual, 2)
	test.That(t, plane.SquaredDistance(pt), test.ShouldAlmostEqual, 4)
	test.That(t, plane.Distance(r3.Vector{Z: 4}), test.ShouldAlmostEqual, -1)

	// through the origin the first non-zero component is positive
	plane = NewPlane(r3.Vector{X: 0, Y: -1, Z: 1}, 0)
	eq := plane.Equation()
	test.That(t, eq[1], test.ShouldAlmostEqual, 1/math.Sqrt(2))
	test.That(t, eq[2], test.ShouldAlmostEqual, -1/math.Sqrt(2))
	test.That(t, eq[3], test.ShouldEqual, 0.0)
}

func TestFitPlane(t *testing.T) {
	// a diamond of slope 1 in x and y
	pts := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 0, Y: 2, Z: 2},
		{X: 2, Y: 0, Z: 2},
		{X: 2, Y: 2, Z: 4},
	}
	plane, err := FitPlane(pts)
	test.That(t, err, test.ShouldBeNil)
	n := plane.Normal()
	test.That(t, n.Norm(), test.ShouldAlmostEqual, 1)
	test.That(t, n.X, test.ShouldAlmostEqual, 1/math.Sqrt(3))
	test.That(t, n.Y, test.ShouldAlmostEqual, 1/math.Sqrt(3))
	test.That(t, n.Z, test.ShouldAlmostEqual, -1/math.Sqrt(3))
	test.That(t, plane.Offset(), test.ShouldAlmostEqual, 0)
	test.That(t, plane.Center(), test.ShouldResemble, r3.Vector{X: 1, Y: 1, Z: 2})
	test.That(t, math.Abs(plane.Distance(r3.Vector{X: -1, Y: -1, Z: 1})), test.ShouldAlmostEqual, math.Sqrt(3))
	test.That(t, plane.RMSResidual(pts), test.ShouldAlmostEqual, 0)
}

func TestFitPlaneFlat(t *testing.T) {
	pts := Points(MakeTestLattice(10, 8, 1, func(x, y float64) float64 { return 5 }))
	plane, err := FitPlane(pts)
	test.That(t, err, test.ShouldBeNil)
	eq := plane.Equation()
	test.That(t, eq[0], test.ShouldAlmostEqual, 0)
	test.That(t, eq[1], test.ShouldAlmostEqual, 0)
	test.That(t, eq[2], test.ShouldAlmostEqual, 1)
	test.That(t, eq[3], test.ShouldAlmostEqual, 5)
}

func TestFitPlaneNoisy(t *testing.T) {
	//nolint:gosec
	r := rand.New(rand.NewSource(7))
	want := NewPlane(r3.Vector{X: 1, Y: -2, Z: 4}, 12)
	var pts []r3.Vector
	for i := 0; i < 300; i++ {
		// random point on the plane then nudged along the normal
		p := r3.Vector{X: r.Float64()*10 - 5, Y: r.Float64()*10 - 5}
		p.Z = (want.Offset() - want.Normal().X*p.X - want.Normal().Y*p.Y) / want.Normal().Z
		pts = append(pts, p.Add(want.Normal().Mul(r.NormFloat64()*0.01)))
	}
	plane, err := FitPlane(pts)
	test.That(t, err, test.ShouldBeNil)
	got, exp := plane.Equation(), want.Equation()
	for i := range got {
		test.That(t, got[i], test.ShouldAlmostEqual, exp[i], 0.01)
	}
	test.That(t, plane.RMSResidual(pts), test.ShouldBeLessThan, 0.02)
}

func TestFitPlaneFailures(t *testing.T) {
	_, err := FitPlane(nil)
	test.That(t, errors.Is(err, ErrTooFewPoints), test.ShouldBeTrue)
	_, err = FitPlane([]r3.Vector{{X: 1}, {Y: 1}})
	test.That(t, errors.Is(err, ErrTooFewPoints), test.ShouldBeTrue)

	collinear := []r3.Vector{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 2}, {X: 2, Y: 2, Z: 3}, {X: 5, Y: 5, Z: 6}}
	_, err = FitPlane(collinear)
	test.That(t, errors.Is(err, ErrDegenerateFit), test.ShouldBeTrue)

	coincident := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}}
	_, err = FitPlane(coincident)
	test.That(t, errors.Is(err, ErrDegenerateFit), test.ShouldBeTrue)
}
