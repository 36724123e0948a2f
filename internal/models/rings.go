package models

import "math"

// Point is a sub-pixel position in (col, row) coordinates
type Point struct {
	Col, Row float64
}

// Distance returns the Euclidean distance between two points
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.Col-q.Col, p.Row-q.Row)
}

// Pixel returns the nearest integer pixel
func (p Point) Pixel() (col, row int) {
	return int(math.Round(p.Col)), int(math.Round(p.Row))
}

// Ring is one fitted interference fringe border
type Ring struct {
	// Center is the center of this ring's own fit
	Center Point

	// Radius is the mean distance of the border to the common center
	Radius float64

	// Pixels are flat [col][row] indices of the border pixels belonging to the ring
	Pixels []int
}

// RingCenter is the result of the ring-center locator: the common center shared
// by all concentric rings and the rings ordered by increasing radius.
type RingCenter struct {
	Center Point
	Rings  []Ring

	// ConsistentArcs is how many segmented arcs agreed with Center
	ConsistentArcs int
}

// Radii returns the ring radii in fit order
func (rc *RingCenter) Radii() []float64 {
	radii := make([]float64, len(rc.Rings))
	for i, r := range rc.Rings {
		radii[i] = r.Radius
	}
	return radii
}
