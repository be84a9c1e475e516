package segmentation

import (
	"context"
	"image"
	"reflect"

	"github.com/golang/geo/r3"

	"go.viam.com/surfaces/rimage"
	"go.viam.com/surfaces/utils"
)

// A Surface is anything a point can be tested against, such as a *pointcloud.Plane or a
// *pointcloud.Sphere.
type Surface interface {
	SquaredDistance(p r3.Vector) float64
}

// ProjectInliers returns, in row-major order, every valid pixel of the map whose coordinate has a
// squared distance to the surface strictly below threshold. Rows are split across workers and the
// per-worker results are joined in row order. A nil surface gives no inliers.
func ProjectInliers(
	ctx context.Context,
	m *rimage.XYZMap,
	s Surface,
	threshold float64,
	workers int,
) ([]image.Point, error) {
	if isNilSurface(s) || m == nil {
		return []image.Point{}, nil
	}
	var groups [][]image.Point
	err := utils.GroupWorkParallel(
		ctx,
		workers,
		m.Height(),
		func(numGroups int) {
			groups = make([][]image.Point, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			var found []image.Point
			return func(memberNum, row int) {
					for col := 0; col < m.Width(); col++ {
						p := m.At(col, row)
						if rimage.IsInvalidPoint(p) {
							continue
						}
						if s.SquaredDistance(p) < threshold {
							found = append(found, image.Point{X: col, Y: row})
						}
					}
				}, func() {
					groups[groupNum] = found
				}
		},
	)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, g := range groups {
		total += len(g)
	}
	inliers := make([]image.Point, 0, total)
	for _, g := range groups {
		inliers = append(inliers, g...)
	}
	return inliers, nil
}

func isNilSurface(s Surface) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
