package pointcloud

import "github.com/pkg/errors"

var (
	// ErrTooFewPoints is returned when a fit is given fewer points than the surface needs.
	ErrTooFewPoints = errors.New("too few points to fit surface")
	// ErrDegenerateFit is returned when the points do not determine a unique surface, e.g.
	// collinear points for a plane or coplanar points for a sphere.
	ErrDegenerateFit = errors.New("degenerate point configuration for surface fit")
)
