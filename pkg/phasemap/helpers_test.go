package phasemap

import (
	"math"

	"fpreduce/internal/models"
)

// twoRingCube builds a noise-free cube whose interference peak moves through one
// free spectral range every 10 pixels of radius, so the phase wraps at radii 10
// and 20 around (50, 50). Beyond radius 25 the phase stays flat.
func twoRingCube() *models.Cube {
	const (
		planes = 8
		size   = 100
		sigma  = 0.5
	)
	cube := models.NewCube(planes, size, size)
	for col := 0; col < size; col++ {
		for row := 0; row < size; row++ {
			r := math.Hypot(float64(col)-50, float64(row)-50)
			g := math.Min(r, 25) / 10
			mu := planes * (g - math.Floor(g))
			for p := 0; p < planes; p++ {
				d := float64(p) - mu
				cube.Set(p, col, row, 1+10*math.Exp(-d*d/(2*sigma*sigma)))
			}
		}
	}
	return cube
}

// twoRingWrapped runs the first stages on twoRingCube
func twoRingWrapped() *models.Map {
	cube := twoRingCube()
	continuum, err := DetectContinuum(cube, 0.25, ContinuumMedian, nil)
	if err != nil {
		panic(err)
	}
	disc, err := Discontinuum(cube, continuum)
	if err != nil {
		panic(err)
	}
	wrapped, err := DetectWrappedPhase(disc, PhaseBarycenter)
	if err != nil {
		panic(err)
	}
	return wrapped
}

func constantMap(cols, rows int, v float64) *models.Map {
	m := models.NewMap(cols, rows)
	for i := range m.Data {
		m.Data[i] = v
	}
	return m
}
