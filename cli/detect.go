package cli

import (
	"encoding/json"
	"fmt"
	"image"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/surfaces/logging"
	"go.viam.com/surfaces/rimage"
	"go.viam.com/surfaces/utils"
	"go.viam.com/surfaces/vision/surfaces"
)

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("surfaces")
	}
	return logging.NewLogger("surfaces")
}

// loadConfig reads the detector attributes from the --config file, if given, and applies the
// flags that override them.
func loadConfig(c *cli.Context) (*surfaces.Config, error) {
	attrs := map[string]interface{}{}
	if path := c.Path(flagConfig); path != "" {
		//nolint:gosec
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var raw interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrapf(err, "error parsing config file %s", path)
		}
		var ok bool
		if attrs, ok = raw.(map[string]interface{}); !ok {
			return nil, utils.NewUnexpectedTypeError(attrs, raw)
		}
	}
	if c.IsSet(flagWorkers) {
		attrs["workers"] = c.Int(flagWorkers)
	}
	return surfaces.NewConfigFromAttributes(attrs)
}

// DetectAction runs surface detection over a PCD file and prints what was found.
func DetectAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one PCD file")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	m, err := rimage.ParseXYZMapPCDFile(c.Args().First())
	if err != nil {
		return errors.Wrapf(err, "error reading %s", c.Args().First())
	}

	detector, err := surfaces.NewDetector(*cfg, newLogger(c).Sublogger("detector"))
	if err != nil {
		return err
	}
	if _, err := detector.Update(c.Context, m); err != nil {
		return err
	}

	result := newDetectResult(detector)
	if c.Bool(flagJSON) {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintln(c.App.Writer, result.summaryTable())
	fmt.Fprintln(c.App.Writer, result.stagesTable())
	return nil
}

type detectResult struct {
	Status        string         `json:"status"`
	Stats         surfaces.Stats `json:"stats"`
	Plane         *[4]float64    `json:"plane,omitempty"`
	Sphere        *[4]float64    `json:"sphere,omitempty"`
	PlaneIndices  []image.Point  `json:"plane_indices"`
	SphereIndices []image.Point  `json:"sphere_indices"`
	ClusterSizes  []int          `json:"cluster_sizes"`
}

func newDetectResult(d *surfaces.Detector) detectResult {
	res := detectResult{
		Status:        d.Status().String(),
		Stats:         d.Stats(),
		PlaneIndices:  d.PlaneIndices(),
		SphereIndices: d.SphereIndices(),
		ClusterSizes:  []int{},
	}
	if plane, ok := d.PlaneEquation(); ok {
		eq := plane.Equation()
		res.Plane = &eq
	}
	if sphere, ok := d.SphereEquation(); ok {
		eq := sphere.Equation()
		res.Sphere = &eq
	}
	for _, c := range d.Clusters() {
		res.ClusterSizes = append(res.ClusterSizes, c.Size())
	}
	return res
}

func (res detectResult) summaryTable() string {
	t := table.NewWriter()
	t.SetTitle("frame " + res.Stats.FrameID.String())
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRow(table.Row{"Status", res.Status})
	t.AppendRow(table.Row{"Valid points", res.Stats.ValidPoints})
	leaf := "-"
	if res.Stats.Downsampled {
		leaf = fmt.Sprintf("%.3f", res.Stats.LeafSize)
	}
	t.AppendRow(table.Row{"Clustering points", fmt.Sprintf("%d (leaf %s)", res.Stats.ClusteringPoints, leaf)})
	t.AppendRow(table.Row{"Clusters", fmt.Sprintf("%d %v", res.Stats.Clusters, res.ClusterSizes)})
	t.AppendSeparator()
	if res.Plane != nil {
		eq := *res.Plane
		t.AppendRow(table.Row{"Plane", fmt.Sprintf("%.4fx + %.4fy + %.4fz = %.4f", eq[0], eq[1], eq[2], eq[3])})
		t.AppendRow(table.Row{"Plane RMS", fmt.Sprintf("%.6f", res.Stats.PlaneResidual)})
	} else {
		t.AppendRow(table.Row{"Plane", "not found"})
	}
	t.AppendRow(table.Row{"Plane inliers", len(res.PlaneIndices)})
	t.AppendSeparator()
	if res.Sphere != nil {
		eq := *res.Sphere
		t.AppendRow(table.Row{"Sphere", fmt.Sprintf("center (%.4f, %.4f, %.4f) radius %.4f", eq[0], eq[1], eq[2], eq[3])})
		t.AppendRow(table.Row{"Sphere RMS", fmt.Sprintf("%.6f", res.Stats.SphereResidual)})
	} else {
		t.AppendRow(table.Row{"Sphere", "not found"})
	}
	t.AppendRow(table.Row{"Sphere inliers", len(res.SphereIndices)})
	return t.Render()
}

func (res detectResult) stagesTable() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Stage", "Duration"})
	for _, stage := range res.Stats.Stages {
		t.AppendRow(table.Row{stage.Name, stage.Duration})
	}
	t.AppendFooter(table.Row{"Total", res.Stats.Total})
	return t.Render()
}
