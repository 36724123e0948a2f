// Package interpolation fills masked pixels of a map by ordinary kriging over
// the nearest unmasked pixels.
package interpolation

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"fpreduce/internal/models"
	"fpreduce/pkg/logging"
)

// VariogramModel selects the semivariance function
type VariogramModel int

const (
	Spherical VariogramModel = iota
	Exponential
	Gaussian
)

func (m VariogramModel) String() string {
	switch m {
	case Exponential:
		return "exponential"
	case Gaussian:
		return "gaussian"
	default:
		return "spherical"
	}
}

// ParseVariogramModel reads a variogram model name
func ParseVariogramModel(s string) (VariogramModel, error) {
	switch strings.ToLower(s) {
	case "", "spherical":
		return Spherical, nil
	case "exponential":
		return Exponential, nil
	case "gaussian":
		return Gaussian, nil
	}
	return 0, fmt.Errorf("%w: unknown variogram model %q", models.ErrConfiguration, s)
}

// KrigingParams holds the parameters for kriging interpolation
type KrigingParams struct {
	Range     float64 // Range of the variogram in pixels
	Sill      float64 // Sill of the variogram
	Nugget    float64 // Nugget effect
	Model     VariogramModel
	Neighbors int // Number of nearest pixels used per estimate
}

// DefaultKrigingParams returns a spherical variogram over 16 neighbours
func DefaultKrigingParams() KrigingParams {
	return KrigingParams{Range: 20, Sill: 1, Model: Spherical, Neighbors: 16}
}

// Validate rejects parameters that cannot build a kriging system
func (p KrigingParams) Validate() error {
	if p.Range <= 0 || p.Sill <= 0 || p.Nugget < 0 || p.Neighbors < 1 {
		return fmt.Errorf("%w: kriging needs positive range, sill and neighbours and a non-negative nugget",
			models.ErrConfiguration)
	}
	return nil
}

// Point2D is a known pixel value at (Col, Row)
type Point2D struct {
	Col, Row float64
	Value    float64
}

// Compare implements the kdtree.Comparable interface
func (p Point2D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point2D)
	switch d {
	case 0:
		return p.Col - q.Col
	case 1:
		return p.Row - q.Row
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point2D) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p Point2D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point2D)
	dc := p.Col - q.Col
	dr := p.Row - q.Row
	return dc*dc + dr*dr
}

// Points2D is a collection of Point2D that satisfies kdtree.Interface
type Points2D []Point2D

func (p Points2D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points2D) Len() int                              { return len(p) }
func (p Points2D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points2D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points2D: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{Points2D: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points2D
type pointPlane struct {
	Points2D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points2D[i].Col < p.Points2D[j].Col
	case 1:
		return p.Points2D[i].Row < p.Points2D[j].Row
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points2D: p.Points2D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points2D[i], p.Points2D[j] = p.Points2D[j], p.Points2D[i]
}

// Kriging estimates values from the known pixels of one map
type Kriging struct {
	params KrigingParams
	tree   *kdtree.Tree
	known  int
}

// NewKriging indexes every finite pixel of m that mask does not flag. A nil
// mask uses every finite pixel.
func NewKriging(m *models.Map, mask *models.Mask, params KrigingParams) (*Kriging, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := m.Validate("map"); err != nil {
		return nil, err
	}
	if mask != nil {
		if err := models.CheckShape("mask", mask.Cols, mask.Rows, m.Cols, m.Rows); err != nil {
			return nil, err
		}
	}

	points := make(Points2D, 0, len(m.Data))
	for col := 0; col < m.Cols; col++ {
		for row := 0; row < m.Rows; row++ {
			idx := m.Index(col, row)
			v := m.Data[idx]
			if (mask != nil && mask.Data[idx]) || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			points = append(points, Point2D{Col: float64(col), Row: float64(row), Value: v})
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no known pixels to interpolate from", models.ErrDegenerateFit)
	}

	return &Kriging{params: params, tree: kdtree.New(points, false), known: len(points)}, nil
}

// Known returns the number of indexed pixels
func (k *Kriging) Known() int { return k.known }

// variogram returns the semivariance at distance h
func (k *Kriging) variogram(h float64) float64 {
	if h == 0 {
		return 0
	}
	p := k.params
	gamma := p.Nugget
	switch p.Model {
	case Spherical:
		if h < p.Range {
			r := h / p.Range
			gamma += p.Sill * (1.5*r - 0.5*r*r*r)
		} else {
			gamma += p.Sill
		}
	case Exponential:
		gamma += p.Sill * (1 - math.Exp(-3*h/p.Range))
	case Gaussian:
		gamma += p.Sill * (1 - math.Exp(-3*h*h/(p.Range*p.Range)))
	}
	return gamma
}

// neighbors returns up to Neighbors known pixels nearest to q
func (k *Kriging) neighbors(q Point2D) []Point2D {
	keeper := kdtree.NewNKeeper(k.params.Neighbors)
	k.tree.NearestSet(keeper, q)

	found := make([]Point2D, 0, keeper.Len())
	for _, item := range keeper.Heap {
		// skip the sentinel
		if item.Comparable == nil {
			continue
		}
		found = append(found, item.Comparable.(Point2D))
	}
	return found
}

// EstimateAt returns the ordinary kriging estimate at (col, row). A singular
// system falls back to inverse distance weighting.
func (k *Kriging) EstimateAt(col, row float64) float64 {
	q := Point2D{Col: col, Row: row}
	pts := k.neighbors(q)
	for _, p := range pts {
		if p.Distance(q) == 0 {
			return p.Value
		}
	}
	if len(pts) == 1 {
		return pts[0].Value
	}

	n := len(pts)
	A := mat.NewDense(n+1, n+1, nil)
	b := mat.NewVecDense(n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			A.Set(i, j, k.variogram(math.Sqrt(pts[i].Distance(pts[j]))))
		}
		// regularization
		A.Set(i, i, A.At(i, i)+1e-10)
		A.Set(i, n, 1)
		A.Set(n, i, 1)
		b.SetVec(i, k.variogram(math.Sqrt(pts[i].Distance(q))))
	}
	b.SetVec(n, 1)

	var qr mat.QR
	qr.Factorize(A)
	var w mat.VecDense
	if err := qr.SolveVecTo(&w, false, b); err == nil {
		var est float64
		finite := true
		for i := 0; i < n; i++ {
			wi := w.AtVec(i)
			if math.IsNaN(wi) || math.IsInf(wi, 0) {
				finite = false
				break
			}
			est += wi * pts[i].Value
		}
		if finite {
			return est
		}
	}
	return inverseDistance(pts, q)
}

func inverseDistance(pts []Point2D, q Point2D) float64 {
	var num, den float64
	for _, p := range pts {
		w := 1 / p.Distance(q)
		num += w * p.Value
		den += w
	}
	return num / den
}

// FillMasked returns a copy of m with every pixel flagged by mask replaced by its
// kriging estimate from the unflagged pixels.
func FillMasked(m *models.Map, mask *models.Mask, params KrigingParams, emitter logging.Emitter) (*models.Map, error) {
	if mask == nil {
		return nil, fmt.Errorf("%w: fill needs a mask", models.ErrShapeMismatch)
	}
	k, err := NewKriging(m, mask, params)
	if err != nil {
		return nil, err
	}

	out := m.Clone()
	progress := logging.NewProgress(emitter, "fill", m.Cols)
	for col := 0; col < m.Cols; col++ {
		for row := 0; row < m.Rows; row++ {
			idx := m.Index(col, row)
			if mask.Data[idx] {
				out.Data[idx] = k.EstimateAt(float64(col), float64(row))
			}
		}
		progress.Update(col + 1)
	}
	return out, nil
}
