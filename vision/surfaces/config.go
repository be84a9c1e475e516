package surfaces

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/surfaces/utils"
	"go.viam.com/surfaces/vision/segmentation"
)

// configPath names the detector config in validation errors.
const configPath = "surfaces"

// Defaults for a depth frame in meters. The smoothness threshold is sized for clouds brought down
// to about DefaultCloudSizeThreshold points, where neighbouring normals on a curved surface are
// several degrees apart.
const (
	DefaultCloudSizeThreshold        = 1000
	DefaultRSquaredDistanceThreshold = 0.0005
	DefaultLeafSize                  = 0.01
	DefaultNormalNeighbors           = 30
	DefaultRegionNeighbors           = 30
	DefaultSmoothnessThreshold       = 15.0
	DefaultCurvatureThreshold        = 1.0
	DefaultMinClusterSize            = 50
	DefaultMaxClusterSize            = 1000000
)

// Config is the set of tunables for surface detection.
type Config struct {
	// CloudSizeThreshold is the point count above which the cloud is voxel downsampled before
	// normals are estimated. It is also the ceiling the downsampled cloud is brought under.
	CloudSizeThreshold int `json:"cloud_size_threshold"`
	// RSquaredDistanceThreshold is the squared distance to a fitted surface below which a pixel
	// is an inlier.
	RSquaredDistanceThreshold float64 `json:"r_squared_distance_threshold"`
	LeafSize                  float64 `json:"leaf_size"`

	NormalNeighbors int       `json:"normal_neighbors"`
	NormalRadius    float64   `json:"normal_radius"`
	Viewpoint       r3.Vector `json:"viewpoint"`

	RegionNeighbors            int     `json:"region_neighbors"`
	SmoothnessThresholdDegrees float64 `json:"smoothness_threshold_degrees"`
	CurvatureThreshold         float64 `json:"curvature_threshold"`
	MinClusterSize             int     `json:"min_cluster_size"`
	MaxClusterSize             int     `json:"max_cluster_size"`

	// PlaneSelector and SphereSelector pick the cluster each surface is fitted to, one of
	// "largest", "second_largest" or "most_curved".
	PlaneSelector  string `json:"plane_selector"`
	SphereSelector string `json:"sphere_selector"`

	// Workers bounds the goroutines used per stage. 0 means one per available CPU.
	Workers int `json:"workers"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		CloudSizeThreshold:         DefaultCloudSizeThreshold,
		RSquaredDistanceThreshold:  DefaultRSquaredDistanceThreshold,
		LeafSize:                   DefaultLeafSize,
		NormalNeighbors:            DefaultNormalNeighbors,
		RegionNeighbors:            DefaultRegionNeighbors,
		SmoothnessThresholdDegrees: DefaultSmoothnessThreshold,
		CurvatureThreshold:         DefaultCurvatureThreshold,
		MinClusterSize:             DefaultMinClusterSize,
		MaxClusterSize:             DefaultMaxClusterSize,
		PlaneSelector:              segmentation.SelectLargest,
		SphereSelector:             segmentation.SelectMostCurved,
	}
}

// NewConfigFromAttributes decodes an attribute map, as found in a JSON robot or module config,
// over the defaults and validates the result.
func NewConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	conf := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error creating decoder")
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, utils.NewConfigValidationError(configPath, err)
	}
	if err := conf.CheckValid(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// RegionGrowingConfig returns the segmentation parameters of the config.
func (cfg *Config) RegionGrowingConfig() segmentation.RegionGrowingConfig {
	return segmentation.RegionGrowingConfig{
		Neighbors:           cfg.RegionNeighbors,
		SmoothnessThreshold: cfg.SmoothnessThresholdDegrees,
		CurvatureThreshold:  cfg.CurvatureThreshold,
		MinClusterSize:      cfg.MinClusterSize,
		MaxClusterSize:      cfg.MaxClusterSize,
	}
}

// CheckValid checks every field and reports all of the invalid ones.
func (cfg *Config) CheckValid() error {
	var err error
	fieldErr := func(field, reason string) {
		err = multierr.Append(err, utils.NewConfigValidationFieldError(configPath, field, reason))
	}

	if cfg.CloudSizeThreshold <= 0 {
		fieldErr("cloud_size_threshold", "must be positive")
	}
	if !(cfg.RSquaredDistanceThreshold > 0) || !utils.IsFinite(cfg.RSquaredDistanceThreshold) {
		fieldErr("r_squared_distance_threshold", "must be a positive number")
	}
	if !(cfg.LeafSize > 0) || !utils.IsFinite(cfg.LeafSize) {
		fieldErr("leaf_size", "must be a positive number")
	}
	if cfg.NormalRadius < 0 || !utils.IsFinite(cfg.NormalRadius) {
		fieldErr("normal_radius", "must be zero or a positive number")
	}
	if cfg.NormalRadius == 0 && cfg.NormalNeighbors < 3 {
		fieldErr("normal_neighbors", "must be at least 3 when normal_radius is not set")
	}
	if !utils.IsFinite(cfg.Viewpoint.X) || !utils.IsFinite(cfg.Viewpoint.Y) || !utils.IsFinite(cfg.Viewpoint.Z) {
		fieldErr("viewpoint", "must be finite")
	}
	regionCfg := cfg.RegionGrowingConfig()
	if regionErr := regionCfg.CheckValid(); regionErr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(configPath, regionErr))
	}
	if _, selErr := segmentation.ParseClusterSelector(cfg.PlaneSelector); selErr != nil {
		fieldErr("plane_selector", selErr.Error())
	}
	if _, selErr := segmentation.ParseClusterSelector(cfg.SphereSelector); selErr != nil {
		fieldErr("sphere_selector", selErr.Error())
	}
	if cfg.Workers < 0 {
		fieldErr("workers", "cannot be negative")
	}
	return err
}
