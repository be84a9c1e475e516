// Package surfaces finds the dominant plane and a sphere in a single depth frame and reports which
// pixels of the frame lie on each of them.
package surfaces

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/surfaces/logging"
	"go.viam.com/surfaces/pointcloud"
	"go.viam.com/surfaces/rimage"
	"go.viam.com/surfaces/vision/segmentation"
)

// Status is the outcome of processing a frame.
type Status int

// The possible outcomes of a frame. Not finding a surface is a normal outcome, not an error.
const (
	StatusNoSurfaceFound Status = iota
	StatusSurfaceFound
)

func (s Status) String() string {
	switch s {
	case StatusSurfaceFound:
		return "surface_found"
	case StatusNoSurfaceFound:
		return "no_surface_found"
	default:
		return "unknown"
	}
}

// Names of the pipeline stages, as found in Stats and trace spans.
const (
	StageBuildCloud    = "build_cloud"
	StageDownsample    = "downsample"
	StageNormals       = "normals"
	StageSegment       = "segment"
	StageFitPlane      = "fit_plane"
	StageFitSphere     = "fit_sphere"
	StageProjectPlane  = "project_plane"
	StageProjectSphere = "project_sphere"
)

// StageTiming is how long one stage of a frame took.
type StageTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Stats describes the last processed frame.
type Stats struct {
	FrameID     uuid.UUID `json:"frame_id"`
	ValidPoints int       `json:"valid_points"`
	CloudPoints int       `json:"cloud_points"`
	// Downsampled is set when the cloud went through voxel downsampling; LeafSize is then the leaf
	// that brought it under the size threshold.
	Downsampled      bool    `json:"downsampled"`
	LeafSize         float64 `json:"leaf_size"`
	ClusteringPoints int     `json:"clustering_points"`
	Clusters         int     `json:"clusters"`
	// PlaneCluster and SphereCluster are the positions in Clusters of the clusters fitted, -1 for none.
	PlaneCluster   int           `json:"plane_cluster"`
	SphereCluster  int           `json:"sphere_cluster"`
	PlaneResidual  float64       `json:"plane_residual"`
	SphereResidual float64       `json:"sphere_residual"`
	Stages         []StageTiming `json:"stages"`
	Total          time.Duration `json:"total"`
}

// frame holds everything derived from one depth map. It is never modified once published.
type frame struct {
	cloud           pointcloud.PointCloud
	clusteringCloud pointcloud.PointCloud
	normals         []pointcloud.Normal
	clusters        []segmentation.Cluster
	plane           *pointcloud.Plane
	sphere          *pointcloud.Sphere
	planeIndices    []image.Point
	sphereIndices   []image.Point
	status          Status
	stats           Stats
}

func emptyFrame() *frame {
	return &frame{
		cloud:           pointcloud.New(),
		clusteringCloud: pointcloud.New(),
		clusters:        []segmentation.Cluster{},
		planeIndices:    []image.Point{},
		sphereIndices:   []image.Point{},
		status:          StatusNoSurfaceFound,
		stats:           Stats{PlaneCluster: -1, SphereCluster: -1},
	}
}

// An Option configures a Detector.
type Option func(*Detector)

// WithClock sets the clock stage timings are measured with.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) {
		d.clock = c
	}
}

// Detector runs surface detection over depth frames and holds the results of the last one. It is
// safe for concurrent use; accessors always see a whole frame.
type Detector struct {
	cfg            Config
	logger         logging.Logger
	clock          clock.Clock
	planeSelector  segmentation.ClusterSelector
	sphereSelector segmentation.ClusterSelector

	updateMu sync.Mutex
	mu       sync.RWMutex
	last     *frame
}

// NewDetector returns a detector for the given config, which is validated first.
func NewDetector(cfg Config, logger logging.Logger, opts ...Option) (*Detector, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid surface detector config")
	}
	planeSelector, err := segmentation.ParseClusterSelector(cfg.PlaneSelector)
	if err != nil {
		return nil, err
	}
	sphereSelector, err := segmentation.ParseClusterSelector(cfg.SphereSelector)
	if err != nil {
		return nil, err
	}
	d := &Detector{
		cfg:            cfg,
		logger:         logger,
		clock:          clock.New(),
		planeSelector:  planeSelector,
		sphereSelector: sphereSelector,
		last:           emptyFrame(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the config the detector was built with.
func (d *Detector) Config() Config {
	return d.cfg
}

// stage runs one step of the pipeline in its own span and records its duration.
func (d *Detector) stage(ctx context.Context, stats *Stats, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "stage %s", name)
	}
	ctx, span := trace.StartSpan(ctx, "surfaces::"+name)
	defer span.End()

	start := d.clock.Now()
	err := fn(ctx)
	stats.Stages = append(stats.Stages, StageTiming{Name: name, Duration: d.clock.Now().Sub(start)})
	if err != nil {
		return errors.Wrapf(err, "stage %s", name)
	}
	return nil
}

// Update runs the whole pipeline over the map and, on success, replaces the results of the
// previous frame. An error is only returned for a nil map or when ctx is done; the previous
// results are then left as they were.
func (d *Detector) Update(ctx context.Context, m *rimage.XYZMap) (Status, error) {
	if m == nil {
		return StatusNoSurfaceFound, errors.New("cannot detect surfaces in a nil xyz map")
	}
	d.updateMu.Lock()
	defer d.updateMu.Unlock()

	ctx, span := trace.StartSpan(ctx, "surfaces::Detector::Update")
	defer span.End()

	start := d.clock.Now()
	f := emptyFrame()
	f.stats.FrameID = uuid.New()
	f.stats.ValidPoints = m.ValidCount()
	stats := &f.stats

	if err := d.stage(ctx, stats, StageBuildCloud, func(ctx context.Context) error {
		f.cloud = rimage.XYZMapToPointCloud(m)
		f.clusteringCloud = f.cloud
		stats.CloudPoints = f.cloud.Size()
		return nil
	}); err != nil {
		return d.Status(), err
	}

	if f.cloud.Size() > d.cfg.CloudSizeThreshold {
		if err := d.stage(ctx, stats, StageDownsample, func(ctx context.Context) error {
			down, leaf, err := pointcloud.DownsampleToCeiling(f.cloud, d.cfg.LeafSize, d.cfg.CloudSizeThreshold)
			if err != nil {
				return err
			}
			f.clusteringCloud = down
			stats.Downsampled = true
			stats.LeafSize = leaf
			return nil
		}); err != nil {
			return d.Status(), err
		}
	}
	stats.ClusteringPoints = f.clusteringCloud.Size()

	var tree *pointcloud.KDTree
	if err := d.stage(ctx, stats, StageNormals, func(ctx context.Context) error {
		tree = pointcloud.NewKDTree(f.clusteringCloud)
		var err error
		f.normals, err = pointcloud.EstimateNormals(ctx, f.clusteringCloud, tree, pointcloud.NormalConfig{
			K:         d.cfg.NormalNeighbors,
			Radius:    d.cfg.NormalRadius,
			Viewpoint: d.cfg.Viewpoint,
			Workers:   d.cfg.Workers,
		})
		return err
	}); err != nil {
		return d.Status(), err
	}

	if err := d.stage(ctx, stats, StageSegment, func(ctx context.Context) error {
		var err error
		f.clusters, err = segmentation.RegionGrowing(ctx, f.clusteringCloud, f.normals, tree, d.cfg.RegionGrowingConfig())
		stats.Clusters = len(f.clusters)
		return err
	}); err != nil {
		return d.Status(), err
	}

	if err := d.stage(ctx, stats, StageFitPlane, func(ctx context.Context) error {
		idx, ok := d.planeSelector.Select(f.clusters, f.normals, pointcloud.MinPlanePoints)
		if !ok {
			d.logger.Debugw("no cluster to fit a plane to", "selector", d.planeSelector, "clusters", len(f.clusters))
			return nil
		}
		pts := pointcloud.PointsAt(f.clusteringCloud, f.clusters[idx])
		plane, err := pointcloud.FitPlane(pts)
		if err != nil {
			d.logger.Debugw("plane fit failed", "cluster", idx, "error", err)
			return nil
		}
		f.plane = plane
		stats.PlaneCluster = idx
		stats.PlaneResidual = plane.RMSResidual(pts)
		return nil
	}); err != nil {
		return d.Status(), err
	}

	if err := d.stage(ctx, stats, StageFitSphere, func(ctx context.Context) error {
		idx, ok := d.sphereSelector.Select(f.clusters, f.normals, pointcloud.MinSpherePoints)
		if !ok {
			d.logger.Debugw("no cluster to fit a sphere to", "selector", d.sphereSelector, "clusters", len(f.clusters))
			return nil
		}
		pts := pointcloud.PointsAt(f.clusteringCloud, f.clusters[idx])
		sphere, err := pointcloud.FitSphere(pts)
		if err != nil {
			d.logger.Debugw("sphere fit failed", "cluster", idx, "error", err)
			return nil
		}
		f.sphere = sphere
		stats.SphereCluster = idx
		stats.SphereResidual = sphere.RMSResidual(pts)
		return nil
	}); err != nil {
		return d.Status(), err
	}

	if err := d.stage(ctx, stats, StageProjectPlane, func(ctx context.Context) error {
		var err error
		f.planeIndices, err = d.project(ctx, m, f.plane)
		return err
	}); err != nil {
		return d.Status(), err
	}

	if err := d.stage(ctx, stats, StageProjectSphere, func(ctx context.Context) error {
		var err error
		f.sphereIndices, err = d.project(ctx, m, f.sphere)
		return err
	}); err != nil {
		return d.Status(), err
	}

	if f.plane != nil || f.sphere != nil {
		f.status = StatusSurfaceFound
	}
	stats.Total = d.clock.Now().Sub(start)

	d.logger.Debugw("processed frame",
		"frame_id", stats.FrameID,
		"status", f.status,
		"valid_points", stats.ValidPoints,
		"cloud_points", stats.CloudPoints,
		"clustering_points", stats.ClusteringPoints,
		"clusters", stats.Clusters,
		"plane_inliers", len(f.planeIndices),
		"sphere_inliers", len(f.sphereIndices),
		"total", stats.Total,
	)

	d.mu.Lock()
	d.last = f
	d.mu.Unlock()
	return f.status, nil
}

// project returns the inliers of a fitted surface; a surface that was not fitted has none.
func (d *Detector) project(ctx context.Context, m *rimage.XYZMap, s segmentation.Surface) ([]image.Point, error) {
	return segmentation.ProjectInliers(ctx, m, s, d.cfg.RSquaredDistanceThreshold, d.cfg.Workers)
}

func (d *Detector) current() *frame {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Status returns the outcome of the last frame.
func (d *Detector) Status() Status {
	return d.current().status
}

// Cloud returns a copy of the cloud built from the last frame. Every point knows its pixel.
func (d *Detector) Cloud() pointcloud.PointCloud {
	return pointcloud.Clone(d.current().cloud)
}

// DownsampledCloud returns a copy of the cloud normals and clusters were computed on. It is the
// same as Cloud when the frame was small enough not to be downsampled.
func (d *Detector) DownsampledCloud() pointcloud.PointCloud {
	return pointcloud.Clone(d.current().clusteringCloud)
}

// Normals returns the normals of DownsampledCloud.
func (d *Detector) Normals() []pointcloud.Normal {
	return append([]pointcloud.Normal(nil), d.current().normals...)
}

// Clusters returns the clusters of the last frame, largest first. Indices refer to DownsampledCloud.
func (d *Detector) Clusters() []segmentation.Cluster {
	clusters := d.current().clusters
	out := make([]segmentation.Cluster, len(clusters))
	for i, c := range clusters {
		out[i] = append(segmentation.Cluster(nil), c...)
	}
	return out
}

// PlaneEquation returns the plane fitted in the last frame, if any.
func (d *Detector) PlaneEquation() (*pointcloud.Plane, bool) {
	p := d.current().plane
	if p == nil {
		return nil, false
	}
	plane := *p
	return &plane, true
}

// SphereEquation returns the sphere fitted in the last frame, if any.
func (d *Detector) SphereEquation() (*pointcloud.Sphere, bool) {
	s := d.current().sphere
	if s == nil {
		return nil, false
	}
	sphere := *s
	return &sphere, true
}

// PlaneIndices returns the pixels on the plane of the last frame in row-major order.
func (d *Detector) PlaneIndices() []image.Point {
	return append([]image.Point{}, d.current().planeIndices...)
}

// SphereIndices returns the pixels on the sphere of the last frame in row-major order.
func (d *Detector) SphereIndices() []image.Point {
	return append([]image.Point{}, d.current().sphereIndices...)
}

// Stats returns the statistics of the last frame.
func (d *Detector) Stats() Stats {
	stats := d.current().stats
	stats.Stages = append([]StageTiming(nil), stats.Stages...)
	return stats
}
