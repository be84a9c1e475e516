package cli

import (
	"fmt"
	"image"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/surfaces/rimage"
)

// Synthetic scenes.
const (
	scenePlane  = "plane"
	sceneSphere = "sphere"
	scenePatch  = "patch"
)

// SynthAction renders a synthetic frame and writes it as an organized PCD file.
func SynthAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one output file")
	}
	width, height := c.Int(flagWidth), c.Int(flagHeight)
	if width <= 0 || height <= 0 {
		return errors.Errorf("frame size must be positive, got %dx%d", width, height)
	}
	spacing, depth := c.Float64(flagSpacing), c.Float64(flagDepth)
	if spacing <= 0 || depth <= 0 {
		return errors.New("spacing and depth must be positive")
	}
	format, err := rimage.ParsePCDType(c.String(flagFormat))
	if err != nil {
		return err
	}

	m, err := synthScene(c.String(flagScene), width, height, spacing, depth, c.Float64(flagRadius))
	if err != nil {
		return err
	}
	if noise := c.Float64(flagNoise); noise > 0 {
		seed := c.Uint64(flagSeed)
		rimage.AddDepthNoise(m, noise, rand.NewPCG(seed, seed))
	}

	fn := c.Args().First()
	if err := rimage.WriteXYZMapPCDFile(m, fn, format); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %dx%d %s scene with %d valid points to %s\n",
		width, height, c.String(flagScene), m.ValidCount(), fn)
	return nil
}

func synthScene(scene string, width, height int, spacing, depth, radius float64) (*rimage.XYZMap, error) {
	switch scene {
	case scenePlane:
		return rimage.NewPlaneXYZMap(width, height, spacing, depth), nil
	case sceneSphere:
		if radius <= 0 {
			return nil, errors.New("sphere radius must be positive")
		}
		return rimage.NewSphereXYZMap(width, height, spacing, r3.Vector{Z: depth}, radius), nil
	case scenePatch:
		m := rimage.NewPlaneXYZMap(width, height, spacing, depth)
		patch := image.Rect(width*2/5, height*2/5, width*3/5, height*3/5)
		rimage.AddPatch(m, patch, spacing, depth/2)
		return m, nil
	default:
		return nil, errors.Errorf("unknown scene %q, expected %s, %s or %s", scene, scenePlane, sceneSphere, scenePatch)
	}
}
