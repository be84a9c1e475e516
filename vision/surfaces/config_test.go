package surfaces

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/surfaces/vision/segmentation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.CheckValid(), test.ShouldBeNil)
	test.That(t, cfg.CloudSizeThreshold, test.ShouldEqual, 1000)
	test.That(t, cfg.RSquaredDistanceThreshold, test.ShouldEqual, 0.0005)
	test.That(t, cfg.PlaneSelector, test.ShouldEqual, segmentation.SelectLargest)
	test.That(t, cfg.SphereSelector, test.ShouldEqual, segmentation.SelectMostCurved)
	test.That(t, cfg.Viewpoint, test.ShouldResemble, r3.Vector{})

	region := cfg.RegionGrowingConfig()
	test.That(t, region, test.ShouldResemble, segmentation.RegionGrowingConfig{
		Neighbors:           30,
		SmoothnessThreshold: 15,
		CurvatureThreshold:  1,
		MinClusterSize:      50,
		MaxClusterSize:      1000000,
	})
}

func TestConfigCheckValid(t *testing.T) {
	t.Run("every bad field is reported", func(t *testing.T) {
		cfg := Config{
			CloudSizeThreshold:         0,
			RSquaredDistanceThreshold:  -1,
			LeafSize:                   math.NaN(),
			NormalNeighbors:            2,
			Viewpoint:                  r3.Vector{X: math.Inf(1)},
			RegionNeighbors:            0,
			SmoothnessThresholdDegrees: 200,
			MinClusterSize:             5,
			MaxClusterSize:             4,
			PlaneSelector:              "flattest",
			SphereSelector:             "roundest",
			Workers:                    -1,
		}
		err := cfg.CheckValid()
		test.That(t, err, test.ShouldNotBeNil)
		for _, field := range []string{
			"cloud_size_threshold",
			"r_squared_distance_threshold",
			"leaf_size",
			"normal_neighbors",
			"viewpoint",
			"plane_selector",
			"sphere_selector",
			"workers",
		} {
			test.That(t, err.Error(), test.ShouldContainSubstring, `"`+field+`"`)
		}
		test.That(t, err.Error(), test.ShouldContainSubstring, "neighbors must be greater than 0")
		test.That(t, err.Error(), test.ShouldContainSubstring, "smoothness threshold")
		test.That(t, err.Error(), test.ShouldContainSubstring, "max cluster size 4 is less than min cluster size 5")
		test.That(t, err.Error(), test.ShouldContainSubstring, `error validating "surfaces"`)
	})

	t.Run("radius replaces neighbors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.NormalNeighbors = 0
		test.That(t, cfg.CheckValid(), test.ShouldNotBeNil)
		cfg.NormalRadius = 0.05
		test.That(t, cfg.CheckValid(), test.ShouldBeNil)
		cfg.NormalRadius = -0.05
		err := cfg.CheckValid()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, `"normal_radius"`)
	})
}

func TestNewConfigFromAttributes(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		cfg, err := NewConfigFromAttributes(map[string]interface{}{
			"cloud_size_threshold":         float64(500),
			"r_squared_distance_threshold": 0.001,
			"viewpoint":                    map[string]interface{}{"x": 0.0, "y": 0.0, "z": 1.0},
			"sphere_selector":              "second_largest",
			"workers":                      2,
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.CloudSizeThreshold, test.ShouldEqual, 500)
		test.That(t, cfg.RSquaredDistanceThreshold, test.ShouldEqual, 0.001)
		test.That(t, cfg.Viewpoint, test.ShouldResemble, r3.Vector{Z: 1})
		test.That(t, cfg.SphereSelector, test.ShouldEqual, segmentation.SelectSecondLargest)
		test.That(t, cfg.Workers, test.ShouldEqual, 2)

		// untouched fields keep their defaults
		test.That(t, cfg.LeafSize, test.ShouldEqual, DefaultLeafSize)
		test.That(t, cfg.PlaneSelector, test.ShouldEqual, segmentation.SelectLargest)
		test.That(t, cfg.MinClusterSize, test.ShouldEqual, DefaultMinClusterSize)
	})

	t.Run("empty", func(t *testing.T) {
		cfg, err := NewConfigFromAttributes(nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, *cfg, test.ShouldResemble, DefaultConfig())
	})

	t.Run("unknown attribute", func(t *testing.T) {
		_, err := NewConfigFromAttributes(map[string]interface{}{"leaf": 0.1})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "leaf")
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := NewConfigFromAttributes(map[string]interface{}{"leaf_size": -0.01})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, `"leaf_size"`)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := NewConfigFromAttributes(map[string]interface{}{"plane_selector": []int{1}})
		test.That(t, err, test.ShouldNotBeNil)
	})
}
