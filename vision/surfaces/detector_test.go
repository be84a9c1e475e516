package surfaces

import (
	"context"
	"image"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/surfaces/logging"
	"go.viam.com/surfaces/pointcloud"
	"go.viam.com/surfaces/rimage"
)

// a 40x30 frame of a wall 5m away, 1200 points on a 10cm lattice
func wallMap() *rimage.XYZMap {
	return rimage.NewPlaneXYZMap(40, 30, 0.1, 5)
}

// the wall with a small patch much closer to the sensor
func wallWithPatchMap() *rimage.XYZMap {
	m := wallMap()
	rimage.AddPatch(m, image.Rect(18, 13, 21, 16), 0.1, 1)
	return m
}

// a ball of radius 10 at 50m seen on a coarse 21x21 lattice, small enough not to be downsampled
func ballMap() *rimage.XYZMap {
	return rimage.NewSphereXYZMap(21, 21, 0.9, r3.Vector{Z: 50}, 10)
}

// the same ball filling a 176x120 frame, about 21000 points
func sensorBallMap() *rimage.XYZMap {
	return rimage.NewSphereXYZMap(176, 120, 0.1, r3.Vector{Z: 50}, 10)
}

func newTestDetector(t *testing.T, cfg Config, opts ...Option) *Detector {
	t.Helper()
	d, err := NewDetector(cfg, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return d
}

func TestDetectorInitialState(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	test.That(t, d.Status(), test.ShouldEqual, StatusNoSurfaceFound)
	test.That(t, d.Cloud().Size(), test.ShouldEqual, 0)
	test.That(t, d.DownsampledCloud().Size(), test.ShouldEqual, 0)
	test.That(t, d.Clusters(), test.ShouldBeEmpty)
	test.That(t, d.PlaneIndices(), test.ShouldBeEmpty)
	test.That(t, d.SphereIndices(), test.ShouldBeEmpty)
	_, ok := d.PlaneEquation()
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = d.SphereEquation()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, d.Stats().PlaneCluster, test.ShouldEqual, -1)
	test.That(t, d.Stats().SphereCluster, test.ShouldEqual, -1)
}

func TestDetectorWall(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	m := wallMap()

	status, err := d.Update(context.Background(), m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, StatusSurfaceFound)
	test.That(t, d.Status(), test.ShouldEqual, StatusSurfaceFound)

	test.That(t, d.Cloud().Size(), test.ShouldEqual, 1200)
	down := d.DownsampledCloud()
	test.That(t, down.Size(), test.ShouldBeLessThanOrEqualTo, DefaultCloudSizeThreshold)
	test.That(t, down.Size(), test.ShouldBeGreaterThan, DefaultMinClusterSize)

	stats := d.Stats()
	test.That(t, stats.Downsampled, test.ShouldBeTrue)
	test.That(t, stats.LeafSize, test.ShouldBeGreaterThan, DefaultLeafSize)
	test.That(t, stats.ValidPoints, test.ShouldEqual, 1200)
	test.That(t, stats.ClusteringPoints, test.ShouldEqual, down.Size())

	clusters := d.Clusters()
	test.That(t, clusters, test.ShouldHaveLength, 1)
	test.That(t, clusters[0].Size(), test.ShouldEqual, down.Size())
	for _, idx := range clusters[0] {
		test.That(t, idx, test.ShouldBeLessThan, down.Size())
	}

	plane, ok := d.PlaneEquation()
	test.That(t, ok, test.ShouldBeTrue)
	eq := plane.Equation()
	test.That(t, eq[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, eq[1], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, eq[2], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, eq[3], test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, stats.PlaneCluster, test.ShouldEqual, 0)

	// a flat cluster cannot hold a sphere
	_, ok = d.SphereEquation()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, d.SphereIndices(), test.ShouldBeEmpty)
	test.That(t, stats.SphereCluster, test.ShouldEqual, -1)

	indices := d.PlaneIndices()
	test.That(t, indices, test.ShouldHaveLength, 1200)
	test.That(t, indices[0], test.ShouldResemble, image.Pt(0, 0))
	test.That(t, indices[1], test.ShouldResemble, image.Pt(1, 0))
	test.That(t, indices[40], test.ShouldResemble, image.Pt(0, 1))
	test.That(t, indices[1199], test.ShouldResemble, image.Pt(39, 29))
}

func TestDetectorWallWithPatch(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	m := wallWithPatchMap()

	status, err := d.Update(context.Background(), m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, StatusSurfaceFound)

	plane, ok := d.PlaneEquation()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, plane.Normal().Z, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, plane.Offset(), test.ShouldAlmostEqual, 5, 1e-9)

	// the patch is too small to survive segmentation and lies far off the wall
	indices := d.PlaneIndices()
	test.That(t, indices, test.ShouldHaveLength, 1191)
	patch := image.Rect(18, 13, 21, 16)
	for _, pt := range indices {
		test.That(t, pt.In(patch), test.ShouldBeFalse)
		test.That(t, m.Valid(pt.X, pt.Y), test.ShouldBeTrue)
	}
	down := d.DownsampledCloud()
	for _, idx := range d.Clusters()[0] {
		test.That(t, down.At(idx).Z, test.ShouldAlmostEqual, 5, 1e-9)
	}
}

func TestDetectorBall(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	m := ballMap()

	status, err := d.Update(context.Background(), m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, StatusSurfaceFound)
	test.That(t, d.Stats().Downsampled, test.ShouldBeFalse)
	test.That(t, d.Cloud().Size(), test.ShouldEqual, m.ValidCount())
	test.That(t, d.DownsampledCloud().Size(), test.ShouldEqual, m.ValidCount())

	sphere, ok := d.SphereEquation()
	test.That(t, ok, test.ShouldBeTrue)
	eq := sphere.Equation()
	test.That(t, eq[0], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, eq[1], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, eq[2], test.ShouldAlmostEqual, 50, 1e-6)
	test.That(t, eq[3], test.ShouldAlmostEqual, 10, 1e-6)
	test.That(t, d.Stats().SphereResidual, test.ShouldBeLessThan, 1e-6)

	test.That(t, d.SphereIndices(), test.ShouldHaveLength, m.ValidCount())
	for _, pt := range d.SphereIndices() {
		test.That(t, sphere.SquaredDistance(m.Get(pt)), test.ShouldBeLessThan, DefaultRSquaredDistanceThreshold)
	}

	// the plane fitted to the cap leaves out its rim
	plane, ok := d.PlaneEquation()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, math.Abs(plane.Normal().Z), test.ShouldBeGreaterThan, 0.99)
	test.That(t, len(d.PlaneIndices()), test.ShouldBeLessThan, m.ValidCount())
}

func TestDetectorSensorBall(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	m := sensorBallMap()

	status, err := d.Update(context.Background(), m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, StatusSurfaceFound)

	stats := d.Stats()
	test.That(t, stats.Downsampled, test.ShouldBeTrue)
	test.That(t, stats.ValidPoints, test.ShouldBeGreaterThan, 20000)
	test.That(t, stats.ClusteringPoints, test.ShouldBeLessThanOrEqualTo, DefaultCloudSizeThreshold)
	test.That(t, stats.ClusteringPoints, test.ShouldBeGreaterThan, DefaultCloudSizeThreshold/2)
	test.That(t, stats.Clusters, test.ShouldBeGreaterThan, 0)

	// centroids of curved voxels sit slightly inside the ball
	sphere, ok := d.SphereEquation()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sphere.Center().Sub(r3.Vector{Z: 50}).Norm(), test.ShouldBeLessThan, 0.05)
	test.That(t, sphere.Radius(), test.ShouldAlmostEqual, 10, 0.05)
	test.That(t, len(d.SphereIndices()), test.ShouldBeGreaterThan, m.ValidCount()*9/10)
}

func TestDetectorNoisyWall(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	d, err := NewDetector(DefaultConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	m := wallMap()
	rimage.AddDepthNoise(m, 0.001, rand.NewPCG(1, 2))

	status, err := d.Update(context.Background(), m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, StatusSurfaceFound)

	plane, ok := d.PlaneEquation()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, plane.Normal().Z, test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, plane.Offset(), test.ShouldAlmostEqual, 5, 1e-3)
	test.That(t, d.PlaneIndices(), test.ShouldHaveLength, 1200)

	// the wall is not a sphere however well a large one hugs the noise
	_, ok = d.SphereEquation()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, d.SphereIndices(), test.ShouldBeEmpty)
	test.That(t, d.Stats().SphereCluster, test.ShouldEqual, -1)
	test.That(t, logs.FilterMessage("sphere fit failed").Len(), test.ShouldEqual, 1)
}

func TestDetectorNoSurface(t *testing.T) {
	t.Run("too few points", func(t *testing.T) {
		d := newTestDetector(t, DefaultConfig())
		m := rimage.NewXYZMap(10, 10)
		m.Set(2, 3, r3.Vector{X: 0.1, Y: 0.1, Z: 1})
		m.Set(4, 3, r3.Vector{X: 0.3, Y: 0.1, Z: 1})

		status, err := d.Update(context.Background(), m)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, status, test.ShouldEqual, StatusNoSurfaceFound)
		test.That(t, d.Cloud().Size(), test.ShouldEqual, 2)
		test.That(t, d.Clusters(), test.ShouldBeEmpty)
		test.That(t, d.PlaneIndices(), test.ShouldBeEmpty)
		test.That(t, d.SphereIndices(), test.ShouldBeEmpty)
		for _, n := range d.Normals() {
			test.That(t, n.Valid, test.ShouldBeFalse)
		}
	})

	t.Run("all invalid", func(t *testing.T) {
		d := newTestDetector(t, DefaultConfig())
		m := rimage.NewXYZMap(8, 6)
		m.Set(1, 1, r3.Vector{X: math.NaN(), Y: 0, Z: 1})

		status, err := d.Update(context.Background(), m)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, status, test.ShouldEqual, StatusNoSurfaceFound)
		test.That(t, d.Cloud().Size(), test.ShouldEqual, 0)
		test.That(t, d.DownsampledCloud().Size(), test.ShouldEqual, 0)
		test.That(t, d.Clusters(), test.ShouldBeEmpty)
		test.That(t, d.Stats().ValidPoints, test.ShouldEqual, 0)
	})

	t.Run("replaces a found surface", func(t *testing.T) {
		d := newTestDetector(t, DefaultConfig())
		_, err := d.Update(context.Background(), wallMap())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.Status(), test.ShouldEqual, StatusSurfaceFound)

		status, err := d.Update(context.Background(), rimage.NewXYZMap(4, 4))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, status, test.ShouldEqual, StatusNoSurfaceFound)
		_, ok := d.PlaneEquation()
		test.That(t, ok, test.ShouldBeFalse)
		test.That(t, d.PlaneIndices(), test.ShouldBeEmpty)
	})

	t.Run("nil map", func(t *testing.T) {
		d := newTestDetector(t, DefaultConfig())
		_, err := d.Update(context.Background(), nil)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestDetectorSelectors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SphereSelector = "second_largest"
	d := newTestDetector(t, cfg)

	status, err := d.Update(context.Background(), wallMap())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, StatusSurfaceFound)
	_, ok := d.PlaneEquation()
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = d.SphereEquation()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, d.Stats().SphereCluster, test.ShouldEqual, -1)
}

func TestDetectorDeterminism(t *testing.T) {
	type result struct {
		Cloud         []r3.Vector
		Clusters      [][]int
		Normals       []pointcloud.Normal
		Plane         [4]float64
		PlaneIndices  []image.Point
		SphereIndices []image.Point
	}
	run := func(workers int, m *rimage.XYZMap) result {
		cfg := DefaultConfig()
		cfg.Workers = workers
		d := newTestDetector(t, cfg)
		_, err := d.Update(context.Background(), m)
		test.That(t, err, test.ShouldBeNil)
		plane, ok := d.PlaneEquation()
		test.That(t, ok, test.ShouldBeTrue)
		var clusters [][]int
		for _, c := range d.Clusters() {
			clusters = append(clusters, c)
		}
		return result{
			Cloud:         pointcloud.Points(d.DownsampledCloud()),
			Clusters:      clusters,
			Normals:       d.Normals(),
			Plane:         plane.Equation(),
			PlaneIndices:  d.PlaneIndices(),
			SphereIndices: d.SphereIndices(),
		}
	}

	m := wallWithPatchMap()
	single := run(1, m)
	for _, workers := range []int{2, 4, 7} {
		test.That(t, cmp.Diff(single, run(workers, m)), test.ShouldBeEmpty)
	}
}

func TestDetectorCancel(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	_, err := d.Update(context.Background(), wallMap())
	test.That(t, err, test.ShouldBeNil)
	before := d.Stats()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Update(ctx, wallWithPatchMap())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err, test.ShouldWrap, context.Canceled)

	test.That(t, d.Status(), test.ShouldEqual, StatusSurfaceFound)
	test.That(t, d.PlaneIndices(), test.ShouldHaveLength, 1200)
	test.That(t, d.Stats().FrameID, test.ShouldEqual, before.FrameID)
}

func TestDetectorCopies(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	_, err := d.Update(context.Background(), wallMap())
	test.That(t, err, test.ShouldBeNil)

	indices := d.PlaneIndices()
	indices[0] = image.Pt(-5, -5)
	test.That(t, d.PlaneIndices()[0], test.ShouldResemble, image.Pt(0, 0))

	clusters := d.Clusters()
	clusters[0][0] = -1
	test.That(t, d.Clusters()[0][0], test.ShouldNotEqual, -1)

	cloud := d.Cloud()
	cloud.Append(r3.Vector{X: 1, Y: 1, Z: 1})
	test.That(t, d.Cloud().Size(), test.ShouldEqual, 1200)
	pixel, ok := d.Cloud().Pixel(41)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pixel, test.ShouldResemble, image.Pt(1, 1))

	plane, _ := d.PlaneEquation()
	other, _ := d.PlaneEquation()
	test.That(t, plane != other, test.ShouldBeTrue)
}

// tickingClock moves forward a millisecond every time it is read.
type tickingClock struct {
	*clock.Mock
}

func (c tickingClock) Now() time.Time {
	c.Add(time.Millisecond)
	return c.Mock.Now()
}

func TestDetectorStats(t *testing.T) {
	d := newTestDetector(t, DefaultConfig(), WithClock(tickingClock{clock.NewMock()}))
	_, err := d.Update(context.Background(), wallMap())
	test.That(t, err, test.ShouldBeNil)

	stats := d.Stats()
	var names []string
	for _, stage := range stats.Stages {
		names = append(names, stage.Name)
		test.That(t, stage.Duration, test.ShouldEqual, time.Millisecond)
	}
	test.That(t, names, test.ShouldResemble, []string{
		StageBuildCloud, StageDownsample, StageNormals, StageSegment,
		StageFitPlane, StageFitSphere, StageProjectPlane, StageProjectSphere,
	})
	test.That(t, stats.Total, test.ShouldEqual, 17*time.Millisecond)
	test.That(t, stats.CloudPoints, test.ShouldEqual, 1200)
	test.That(t, stats.Clusters, test.ShouldEqual, 1)
	test.That(t, stats.PlaneResidual, test.ShouldBeLessThan, 1e-9)

	first := stats.FrameID
	_, err = d.Update(context.Background(), ballMap())
	test.That(t, err, test.ShouldBeNil)
	stats = d.Stats()
	test.That(t, stats.FrameID, test.ShouldNotEqual, first)
	test.That(t, stats.Stages, test.ShouldHaveLength, 7)
	test.That(t, stats.Downsampled, test.ShouldBeFalse)
}

func TestDetectorLogging(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	d, err := NewDetector(DefaultConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = d.Update(context.Background(), wallMap())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("processed frame").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("sphere fit failed").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("plane fit failed").Len(), test.ShouldEqual, 0)

	_, err = d.Update(context.Background(), rimage.NewXYZMap(3, 3))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("processed frame").Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("no cluster to fit a plane to").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("no cluster to fit a sphere to").Len(), test.ShouldEqual, 1)
}

func TestNewDetectorInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LeafSize = 0
	cfg.PlaneSelector = "flattest"
	_, err := NewDetector(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "leaf_size")
	test.That(t, err.Error(), test.ShouldContainSubstring, "plane_selector")
}

func TestStatusString(t *testing.T) {
	test.That(t, StatusSurfaceFound.String(), test.ShouldEqual, "surface_found")
	test.That(t, StatusNoSurfaceFound.String(), test.ShouldEqual, "no_surface_found")
	test.That(t, Status(7).String(), test.ShouldEqual, "unknown")
}
