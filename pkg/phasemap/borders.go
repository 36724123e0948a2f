package phasemap

import (
	"math"
	"sort"

	"fpreduce/internal/models"
)

// radiusEpsilon separates ring radii that are considered distinct
const radiusEpsilon = 1e-6

// MapBorderDistances builds the ring-border map: every border pixel of a ring that
// is not flagged as noise holds the radius of the ring nearest to it, all other
// pixels hold 0.
func MapBorderDistances(wrapped *models.Map, center *models.RingCenter, noise *models.Mask) (*models.Map, error) {
	if err := wrapped.Validate("wrapped phase map"); err != nil {
		return nil, err
	}
	if err := models.CheckShape("noise mask", noise.Cols, noise.Rows, wrapped.Cols, wrapped.Rows); err != nil {
		return nil, err
	}

	distances := models.NewMap(wrapped.Cols, wrapped.Rows)
	if len(center.Rings) == 0 {
		return distances, nil
	}

	radii := center.Radii()
	for _, ring := range center.Rings {
		for _, idx := range ring.Pixels {
			if idx < 0 || idx >= len(distances.Data) || noise.Data[idx] {
				continue
			}
			col, row := idx/wrapped.Rows, idx%wrapped.Rows
			d := math.Hypot(float64(col)-center.Center.Col, float64(row)-center.Center.Row)
			distances.Data[idx] = radii[nearestRadius(radii, d)]
		}
	}
	return distances, nil
}

// nearestRadius returns the index of the radius closest to d, the first on ties
func nearestRadius(radii []float64, d float64) int {
	best := 0
	for i, r := range radii {
		if math.Abs(d-r) < math.Abs(d-radii[best]) {
			best = i
		}
	}
	return best
}

// crossingRadii returns the distinct positive ring radii sorted ascending. The
// border map only ever holds ring radii, so the rings alone fix the crossings.
func crossingRadii(center *models.RingCenter) []float64 {
	all := center.Radii()
	sort.Float64s(all)

	var radii []float64
	for _, r := range all {
		if r <= 0 {
			continue
		}
		if n := len(radii); n > 0 && r-radii[n-1] < radiusEpsilon {
			continue
		}
		radii = append(radii, r)
	}
	return radii
}
