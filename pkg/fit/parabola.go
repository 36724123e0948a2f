// Package fit holds the model fits run on the unwrapped phase map: the parabolic
// surface and the Airy interference model.
package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"fpreduce/internal/models"
)

// ratioEpsilon is the magnitude below which a denominator counts as zero
const ratioEpsilon = 1e-12

// CoefficientNames lists the parabola terms in coefficient order
var CoefficientNames = [6]string{"x0y0", "x1y0", "x0y1", "x2y0", "x0y2", "x1y1"}

// Parabola is a fitted surface
//
//	z = x0y0 + x1y0·x + x0y1·y + x2y0·x² + x0y2·y² + x1y1·x·y
//
// with x and y measured in pixels from Origin.
type Parabola struct {
	Coefficients [6]float64
	Origin       models.Point

	// Model is the surface evaluated on every pixel
	Model *models.Map

	// Residue is data minus model
	Residue *models.Map

	// Vertex is the location of the surface extremum
	Vertex models.Point

	// Ratio is x2y0 / x0y2, 0 when x0y2 vanishes
	Ratio float64

	// RMS is the residual root mean square over the fitted pixels
	RMS float64

	// Pixels is the number of pixels used by the fit
	Pixels int
}

// Coefficient returns a coefficient by name, or NaN for an unknown name
func (p *Parabola) Coefficient(name string) float64 {
	for i, n := range CoefficientNames {
		if n == name {
			return p.Coefficients[i]
		}
	}
	return math.NaN()
}

// Eval evaluates the surface at pixel coordinates (col, row)
func (p *Parabola) Eval(col, row float64) float64 {
	return evalTerms(p.Coefficients[:], col-p.Origin.Col, row-p.Origin.Row)
}

func terms(x, y float64) [6]float64 {
	return [6]float64{1, x, y, x * x, y * y, x * y}
}

func evalTerms(c []float64, x, y float64) float64 {
	t := terms(x, y)
	return floats.Dot(c, t[:])
}

// FitParabola fits a parabolic surface to the unwrapped phase over the pixels not
// flagged as noise, with coordinates relative to origin. A linear least-squares
// solution seeds a BFGS refinement of the mean squared residual.
//
// When the fit is degenerate the returned error wraps ErrDegenerateFit and the
// Parabola still holds the best coefficients found; callers may use it.
func FitParabola(unwrapped *models.Map, noise *models.Mask, origin models.Point) (*Parabola, error) {
	if err := unwrapped.Validate("unwrapped phase map"); err != nil {
		return nil, err
	}
	if noise != nil {
		if err := models.CheckShape("noise mask", noise.Cols, noise.Rows, unwrapped.Cols, unwrapped.Rows); err != nil {
			return nil, err
		}
	}

	var xs, ys, zs []float64
	for col := 0; col < unwrapped.Cols; col++ {
		for row := 0; row < unwrapped.Rows; row++ {
			idx := unwrapped.Index(col, row)
			z := unwrapped.Data[idx]
			if (noise != nil && noise.Data[idx]) || math.IsNaN(z) || math.IsInf(z, 0) {
				continue
			}
			xs = append(xs, float64(col)-origin.Col)
			ys = append(ys, float64(row)-origin.Row)
			zs = append(zs, z)
		}
	}

	p := &Parabola{Origin: origin, Pixels: len(zs)}
	var fitErr error
	if len(zs) < len(CoefficientNames) {
		fitErr = fmt.Errorf("%w: %d usable pixels for %d coefficients", models.ErrDegenerateFit, len(zs), len(CoefficientNames))
	} else if seed, err := linearSeed(xs, ys, zs); err != nil {
		fitErr = err
	} else {
		copy(p.Coefficients[:], seed)
		refined, err := refine(xs, ys, zs, seed)
		if err != nil {
			fitErr = err
		} else {
			copy(p.Coefficients[:], refined)
		}
	}

	p.complete(unwrapped, xs, ys, zs)
	return p, fitErr
}

// linearSeed solves the six-term design matrix with a QR decomposition
func linearSeed(xs, ys, zs []float64) ([]float64, error) {
	n := len(zs)
	A := mat.NewDense(n, len(CoefficientNames), nil)
	for i := range zs {
		t := terms(xs[i], ys[i])
		A.SetRow(i, t[:])
	}
	b := mat.NewVecDense(n, zs)

	var qr mat.QR
	qr.Factorize(A)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil, fmt.Errorf("%w: parabolic seed: %v", models.ErrDegenerateFit, err)
	}
	seed := make([]float64, x.Len())
	for i := range seed {
		seed[i] = x.AtVec(i)
		if math.IsNaN(seed[i]) || math.IsInf(seed[i], 0) {
			return nil, fmt.Errorf("%w: parabolic seed is not finite", models.ErrDegenerateFit)
		}
	}
	return seed, nil
}

// refine minimizes the mean squared residual with BFGS starting from seed. A
// stopped line search keeps the best location reached.
func refine(xs, ys, zs []float64, seed []float64) ([]float64, error) {
	n := float64(len(zs))
	residual := func(c []float64, i int) float64 {
		return evalTerms(c, xs[i], ys[i]) - zs[i]
	}

	problem := optimize.Problem{
		Func: func(c []float64) float64 {
			var sum float64
			for i := range zs {
				r := residual(c, i)
				sum += r * r
			}
			return sum / n
		},
		Grad: func(grad, c []float64) {
			for j := range grad {
				grad[j] = 0
			}
			for i := range zs {
				r := residual(c, i)
				t := terms(xs[i], ys[i])
				floats.AddScaled(grad, 2*r/n, t[:])
			}
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: 1e-10,
		MajorIterations:   200,
	}
	result, err := optimize.Minimize(problem, seed, settings, &optimize.BFGS{})
	if result == nil {
		return nil, fmt.Errorf("%w: parabolic refinement: %v", models.ErrDegenerateFit, err)
	}
	if math.IsNaN(result.F) || result.F > problem.Func(seed) {
		if err != nil {
			return nil, fmt.Errorf("%w: parabolic refinement: %v", models.ErrDegenerateFit, err)
		}
		return seed, nil
	}
	return result.X, nil
}

// complete fills the derived maps and diagnostics from the coefficients
func (p *Parabola) complete(data *models.Map, xs, ys, zs []float64) {
	p.Model = models.NewMap(data.Cols, data.Rows)
	p.Residue = models.NewMap(data.Cols, data.Rows)
	for col := 0; col < data.Cols; col++ {
		for row := 0; row < data.Rows; row++ {
			idx := data.Index(col, row)
			v := p.Eval(float64(col), float64(row))
			p.Model.Data[idx] = v
			p.Residue.Data[idx] = data.Data[idx] - v
		}
	}

	if len(zs) > 0 {
		var ss float64
		for i := range zs {
			r := evalTerms(p.Coefficients[:], xs[i], ys[i]) - zs[i]
			ss += r * r
		}
		p.RMS = math.Sqrt(ss / float64(len(zs)))
	}

	c := p.Coefficients
	if math.Abs(c[4]) > ratioEpsilon {
		p.Ratio = c[3] / c[4]
	}

	// grad z = 0: [2·x2y0 x1y1; x1y1 2·x0y2]·[x y] = -[x1y0 x0y1]
	p.Vertex = p.Origin
	det := 4*c[3]*c[4] - c[5]*c[5]
	if math.Abs(det) > ratioEpsilon {
		x := (-c[1]*2*c[4] + c[2]*c[5]) / det
		y := (-c[2]*2*c[3] + c[1]*c[5]) / det
		p.Vertex = models.Point{Col: p.Origin.Col + x, Row: p.Origin.Row + y}
	}
}
