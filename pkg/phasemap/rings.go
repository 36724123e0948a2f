package phasemap

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fpreduce/internal/models"
)

// RingOptions configures the ring-center locator
type RingOptions struct {
	// MinArcPixels discards border arcs with fewer pixels
	MinArcPixels int

	// ArcTolerance is the radial standard deviation, in pixels, below which an arc
	// agrees with a candidate center
	ArcTolerance float64

	// RingMergeDistance merges arcs whose radii differ by less than this many pixels
	RingMergeDistance float64
}

// DefaultRingOptions returns the locator defaults
func DefaultRingOptions() RingOptions {
	return RingOptions{
		MinArcPixels:      8,
		ArcTolerance:      1.5,
		RingMergeDistance: 2,
	}
}

// candidateSlack is the relative score margin inside which candidates are ranked
// by their number of consistent arcs instead
const candidateSlack = 0.1

// arc is one 8-connected run of border pixels with its sub-pixel edge points
type arc struct {
	pixels []int
	cols   []float64
	rows   []float64
}

func (a *arc) radialDistances(center models.Point) []float64 {
	d := make([]float64, len(a.cols))
	for i := range a.cols {
		d[i] = math.Hypot(a.cols[i]-center.Col, a.rows[i]-center.Row)
	}
	return d
}

// FindRingCenter segments the fringe borders of a wrapped phase map and returns
// the common center of the concentric rings together with the rings, ordered by
// radius. It fails with ErrCenterNotFound when no arc agrees with any center or
// when the fitted center falls outside the image.
func FindRingCenter(wrapped *models.Map, opts RingOptions) (*models.RingCenter, error) {
	if err := wrapped.Validate("wrapped phase map"); err != nil {
		return nil, err
	}

	arcs := segmentArcs(wrapped, opts.MinArcPixels)
	if len(arcs) == 0 {
		return nil, fmt.Errorf("%w: no fringe border with at least %d pixels", models.ErrCenterNotFound, opts.MinArcPixels)
	}

	var candidates []models.Point
	var fitCols, fitRows []float64
	for _, a := range arcs {
		center, _, err := fitCircle(a.cols, a.rows)
		if err != nil {
			continue
		}
		candidates = append(candidates, center)
		fitCols = append(fitCols, center.Col)
		fitRows = append(fitRows, center.Row)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no arc admits a circle fit", models.ErrCenterNotFound)
	}
	if len(candidates) > 1 {
		candidates = append(candidates, models.Point{Col: median(fitCols), Row: median(fitRows)})
	}

	best, consistent := pickCandidate(candidates, arcs, opts.ArcTolerance)
	if len(consistent) == 0 {
		return nil, fmt.Errorf("%w: no arc is consistent with a common center", models.ErrCenterNotFound)
	}

	center := best
	if refined, err := fitConcentric(consistent); err == nil {
		center = refined
	}
	if center.Col < 0 || center.Col > float64(wrapped.Cols-1) || center.Row < 0 || center.Row > float64(wrapped.Rows-1) {
		return nil, fmt.Errorf("%w: center (%.2f, %.2f) lies outside the %dx%d image",
			models.ErrCenterNotFound, center.Col, center.Row, wrapped.Cols, wrapped.Rows)
	}

	return &models.RingCenter{
		Center:         center,
		Rings:          mergeRings(consistent, center, opts.RingMergeDistance),
		ConsistentArcs: len(consistent),
	}, nil
}

// segmentArcs finds the low side of every wrap in the phase map and groups the
// border pixels into 8-connected arcs
func segmentArcs(wrapped *models.Map, minPixels int) []*arc {
	jump := floats.Max(wrapped.Data) / 2
	rows := wrapped.Rows

	border := make([]bool, len(wrapped.Data))
	sumCol := make([]float64, len(wrapped.Data))
	sumRow := make([]float64, len(wrapped.Data))
	pairs := make([]int, len(wrapped.Data))

	for _, off := range crossOffsets {
		forEachShift(wrapped.Cols, rows, off[0], off[1], func(idx, nidx int) {
			if wrapped.Data[nidx]-wrapped.Data[idx] <= jump || jump <= 0 {
				return
			}
			border[idx] = true
			sumCol[idx] += float64(idx/rows) + float64(off[0])/2
			sumRow[idx] += float64(idx%rows) + float64(off[1])/2
			pairs[idx]++
		})
	}

	seen := make([]bool, len(border))
	var arcs []*arc
	var queue []int
	for start, isBorder := range border {
		if !isBorder || seen[start] {
			continue
		}
		a := &arc{}
		seen[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			a.pixels = append(a.pixels, idx)
			a.cols = append(a.cols, sumCol[idx]/float64(pairs[idx]))
			a.rows = append(a.rows, sumRow[idx]/float64(pairs[idx]))

			col, row := idx/rows, idx%rows
			for _, off := range neighbourOffsets {
				nc, nr := col+off[0], row+off[1]
				if nc < 0 || nc >= wrapped.Cols || nr < 0 || nr >= rows {
					continue
				}
				n := nc*rows + nr
				if border[n] && !seen[n] {
					seen[n] = true
					queue = append(queue, n)
				}
			}
		}
		if len(a.pixels) >= minPixels {
			sort.Ints(a.pixels)
			arcs = append(arcs, a)
		}
	}
	return arcs
}

// fitCircle solves x²+y² = 2a·x + 2b·y + c in the least-squares sense and returns
// the center (a, b) and the radius.
func fitCircle(cols, rows []float64) (models.Point, float64, error) {
	n := len(cols)
	if n < 3 {
		return models.Point{}, 0, fmt.Errorf("%w: %d points cannot define a circle", models.ErrDegenerateFit, n)
	}

	A := mat.NewDense(n, 3, nil)
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		A.Set(i, 0, 2*cols[i])
		A.Set(i, 1, 2*rows[i])
		A.Set(i, 2, 1)
		z.SetVec(i, cols[i]*cols[i]+rows[i]*rows[i])
	}

	sol, err := solveLeastSquares(A, z)
	if err != nil {
		return models.Point{}, 0, err
	}
	center := models.Point{Col: sol.AtVec(0), Row: sol.AtVec(1)}
	r2 := sol.AtVec(2) + center.Col*center.Col + center.Row*center.Row
	if r2 <= 0 || math.IsNaN(r2) {
		return models.Point{}, 0, fmt.Errorf("%w: negative squared radius", models.ErrDegenerateFit)
	}
	return center, math.Sqrt(r2), nil
}

// fitConcentric fits one center shared by all arcs with an independent radius
// term per arc: x²+y² = 2a·x + 2b·y + c_i for the points of arc i.
func fitConcentric(arcs []*arc) (models.Point, error) {
	n := 0
	for _, a := range arcs {
		n += len(a.cols)
	}
	k := len(arcs)
	if n < k+2 {
		return models.Point{}, fmt.Errorf("%w: %d points for %d arcs", models.ErrDegenerateFit, n, k)
	}

	A := mat.NewDense(n, 2+k, nil)
	z := mat.NewVecDense(n, nil)
	i := 0
	for j, a := range arcs {
		for p := range a.cols {
			x, y := a.cols[p], a.rows[p]
			A.Set(i, 0, 2*x)
			A.Set(i, 1, 2*y)
			A.Set(i, 2+j, 1)
			z.SetVec(i, x*x+y*y)
			i++
		}
	}

	sol, err := solveLeastSquares(A, z)
	if err != nil {
		return models.Point{}, err
	}
	return models.Point{Col: sol.AtVec(0), Row: sol.AtVec(1)}, nil
}

// solveLeastSquares solves A·x = b with a QR decomposition
func solveLeastSquares(A *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	var qr mat.QR
	qr.Factorize(A)

	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDegenerateFit, err)
	}
	for i := 0; i < x.Len(); i++ {
		if math.IsNaN(x.AtVec(i)) || math.IsInf(x.AtVec(i), 0) {
			return nil, fmt.Errorf("%w: singular system", models.ErrDegenerateFit)
		}
	}
	return &x, nil
}

// pickCandidate scores every candidate by the mean radial variance of all arcs
// around it and returns the winner with the arcs that agree with it
func pickCandidate(candidates []models.Point, arcs []*arc, tolerance float64) (models.Point, []*arc) {
	type scored struct {
		center     models.Point
		score      float64
		consistent []*arc
	}

	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s := scored{center: c}
		for _, a := range arcs {
			v := stat.Variance(a.radialDistances(c), nil)
			if math.IsNaN(v) {
				v = 0
			}
			s.score += v
			if math.Sqrt(v) < tolerance {
				s.consistent = append(s.consistent, a)
			}
		}
		s.score /= float64(len(arcs))
		results = append(results, s)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score < results[j].score })
	winner := results[0]
	for _, r := range results[1:] {
		if r.score > results[0].score*(1+candidateSlack) {
			break
		}
		if len(r.consistent) > len(winner.consistent) {
			winner = r
		}
	}
	return winner.center, winner.consistent
}

// mergeRings turns arcs into rings around center, merging arcs with close radii
func mergeRings(arcs []*arc, center models.Point, mergeDistance float64) []models.Ring {
	type group struct {
		cols, rows []float64
		pixels     []int
		radius     float64
	}

	sorted := make([]*arc, len(arcs))
	copy(sorted, arcs)
	radius := make(map[*arc]float64, len(arcs))
	for _, a := range sorted {
		radius[a] = stat.Mean(a.radialDistances(center), nil)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return radius[sorted[i]] < radius[sorted[j]] })

	var groups []*group
	for _, a := range sorted {
		r := radius[a]
		if n := len(groups); n > 0 && r-groups[n-1].radius < mergeDistance {
			g := groups[n-1]
			g.cols = append(g.cols, a.cols...)
			g.rows = append(g.rows, a.rows...)
			g.pixels = append(g.pixels, a.pixels...)
			continue
		}
		groups = append(groups, &group{
			cols:   append([]float64(nil), a.cols...),
			rows:   append([]float64(nil), a.rows...),
			pixels: append([]int(nil), a.pixels...),
			radius: r,
		})
	}

	rings := make([]models.Ring, 0, len(groups))
	for _, g := range groups {
		merged := &arc{pixels: g.pixels, cols: g.cols, rows: g.rows}
		ringCenter, _, err := fitCircle(g.cols, g.rows)
		if err != nil {
			ringCenter = center
		}
		sort.Ints(merged.pixels)
		rings = append(rings, models.Ring{
			Center: ringCenter,
			Radius: stat.Mean(merged.radialDistances(center), nil),
			Pixels: merged.pixels,
		})
	}
	sort.SliceStable(rings, func(i, j int) bool { return rings[i].Radius < rings[j].Radius })
	return rings
}

func median(values []float64) float64 {
	m, err := stats.Median(values)
	if err != nil {
		return 0
	}
	return m
}
