package phasemap

import (
	"math"
	"sort"

	"fpreduce/internal/models"
)

// BuildOrderMap assigns every pixel the number of fringe borders crossed between
// the ring center and the pixel. Crossing radii are the distinct fitted ring
// radii; the border map is only checked for shape. A pixel lies beyond a crossing
// when its distance to the center is at least the crossing radius. The order therefore never decreases along a ray
// leaving the center.
func BuildOrderMap(distances *models.Map, center *models.RingCenter, wrapped *models.Map) (*models.OrderMap, error) {
	if err := wrapped.Validate("wrapped phase map"); err != nil {
		return nil, err
	}
	if err := models.CheckShape("border distance map", distances.Cols, distances.Rows, wrapped.Cols, wrapped.Rows); err != nil {
		return nil, err
	}

	radii := crossingRadii(center)
	order := models.NewOrderMap(wrapped.Cols, wrapped.Rows)
	if len(radii) == 0 {
		return order, nil
	}

	for col := 0; col < wrapped.Cols; col++ {
		dc := float64(col) - center.Center.Col
		for row := 0; row < wrapped.Rows; row++ {
			d := math.Hypot(dc, float64(row)-center.Center.Row)
			// number of radii <= d
			order.Set(col, row, sort.Search(len(radii), func(i int) bool { return radii[i] > d }))
		}
	}
	return order, nil
}
