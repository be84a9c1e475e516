// Package cli contains the surfaces command line tool.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	flagDebug   = "debug"
	flagConfig  = "config"
	flagWorkers = "workers"
	flagJSON    = "json"
	flagQuiet   = "quiet"

	flagScene   = "scene"
	flagWidth   = "width"
	flagHeight  = "height"
	flagSpacing = "spacing"
	flagDepth   = "depth"
	flagRadius  = "radius"
	flagFormat  = "format"
	flagNoise   = "noise"
	flagSeed    = "seed"
)

var app = &cli.App{
	Name:            "surfaces",
	Usage:           "find planes and spheres in depth frames",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "detect",
			Usage:     "detect the dominant plane and a sphere in an organized PCD file",
			ArgsUsage: "<file.pcd[.gz]>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    flagConfig,
					Aliases: []string{"c"},
					Usage:   "load detector attributes from JSON `FILE`",
				},
				&cli.IntFlag{
					Name:  flagWorkers,
					Usage: "number of goroutines per stage, 0 for one per CPU",
				},
				&cli.BoolFlag{
					Name:  flagJSON,
					Usage: "print the result as JSON instead of tables",
				},
			},
			Action: DetectAction,
		},
		{
			Name:      "watch",
			Usage:     "detect surfaces in every PCD frame written to a directory until interrupted",
			ArgsUsage: "<directory>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    flagConfig,
					Aliases: []string{"c"},
					Usage:   "load detector attributes from JSON `FILE`",
				},
				&cli.IntFlag{
					Name:  flagWorkers,
					Usage: "number of goroutines per stage, 0 for one per CPU",
				},
				&cli.DurationFlag{
					Name:  flagQuiet,
					Value: 100 * time.Millisecond,
					Usage: "how long a frame must go unmodified before it is processed",
				},
			},
			Action: WatchAction,
		},
		{
			Name:      "synth",
			Usage:     "write a synthetic depth frame as an organized PCD file",
			ArgsUsage: "<file.pcd[.gz]>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagScene,
					Value: scenePlane,
					Usage: "scene to render: plane, sphere or patch (a plane with a closer patch in the middle)",
				},
				&cli.IntFlag{
					Name:  flagWidth,
					Value: 176,
					Usage: "frame width in pixels",
				},
				&cli.IntFlag{
					Name:  flagHeight,
					Value: 120,
					Usage: "frame height in pixels",
				},
				&cli.Float64Flag{
					Name:  flagSpacing,
					Value: 0.01,
					Usage: "distance between neighbouring pixels in meters",
				},
				&cli.Float64Flag{
					Name:  flagDepth,
					Value: 1,
					Usage: "distance to the plane, or to the sphere center, in meters",
				},
				&cli.Float64Flag{
					Name:  flagRadius,
					Value: 0.3,
					Usage: "sphere radius in meters",
				},
				&cli.Float64Flag{
					Name:  flagNoise,
					Usage: "standard deviation of the gaussian noise added to each depth, in meters",
				},
				&cli.Uint64Flag{
					Name:  flagSeed,
					Value: 1,
					Usage: "seed of the depth noise",
				},
				&cli.StringFlag{
					Name:  flagFormat,
					Value: "binary",
					Usage: "PCD data format: ascii, binary or binary_compressed",
				},
			},
			Action: SynthAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
