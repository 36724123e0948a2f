package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"fpreduce/internal/models"
)

// AiryParams describes the interference pattern of a scanning Fabry-Perot
type AiryParams struct {
	// Beam is the peak intensity
	Beam float64

	// Finesse sets the fringe sharpness
	Finesse float64

	// InitialGap is the plate gap at channel 0, in microns
	InitialGap float64

	// Gap is the gap increment per channel, in microns
	Gap float64

	// FocalLength of the camera lens, in meters
	FocalLength float64

	// PixelSize is the detector pitch, in microns
	PixelSize float64

	// Wavelength is the calibration wavelength, in Angstroms
	Wavelength float64

	// Center is the optical axis position on the detector
	Center models.Point
}

// NewAiryParams takes the model parameters from the instrument constants
func NewAiryParams(in models.Instrument, center models.Point) AiryParams {
	return AiryParams{
		Beam:        in.Beam,
		Finesse:     in.Finesse,
		InitialGap:  in.InitialGap,
		Gap:         in.Gap,
		FocalLength: in.FocalLength,
		PixelSize:   in.PixelSize,
		Wavelength:  in.CalibrationWavelength,
		Center:      center,
	}
}

// Validate checks that the model can be evaluated
func (a AiryParams) Validate() error {
	if a.FocalLength <= 0 || a.Wavelength <= 0 || a.PixelSize <= 0 {
		return fmt.Errorf("%w: airy model needs positive focal length, wavelength and pixel size",
			models.ErrConfiguration)
	}
	return nil
}

// cosTheta is the cosine of the incidence angle seen by a pixel at distance d
func (a AiryParams) cosTheta(d float64) float64 {
	tan := d * a.PixelSize * 1e-6 / a.FocalLength
	return 1 / math.Sqrt(1+tan*tan)
}

// Intensity evaluates the Airy function for channel p at cosθ
func (a AiryParams) Intensity(p int, cos float64) float64 {
	lambda := a.Wavelength * 1e-4
	gap := a.InitialGap + float64(p)*a.Gap
	coef := 4 * a.Finesse * a.Finesse / (math.Pi * math.Pi)
	s := math.Sin(2 * math.Pi * gap * cos / lambda)
	return a.Beam / (1 + coef*s*s)
}

// AiryModel renders the model cube with the given shape
func AiryModel(params AiryParams, planes, cols, rows int) (*models.Cube, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if planes < 1 || cols < 1 || rows < 1 {
		return nil, fmt.Errorf("%w: airy cube shape (%d, %d, %d)", models.ErrShapeMismatch, planes, cols, rows)
	}

	cube := models.NewCube(planes, cols, rows)
	for col := 0; col < cols; col++ {
		for row := 0; row < rows; row++ {
			cos := params.cosTheta(math.Hypot(float64(col)-params.Center.Col, float64(row)-params.Center.Row))
			for p := 0; p < planes; p++ {
				cube.Set(p, col, row, params.Intensity(p, cos))
			}
		}
	}
	return cube, nil
}

// AiryResidue returns |raw - airy|
func AiryResidue(raw, airy *models.Cube) (*models.Cube, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if airy.Planes != raw.Planes || airy.Cols != raw.Cols || airy.Rows != raw.Rows {
		return nil, fmt.Errorf("%w: airy cube (%d, %d, %d) does not match raw cube (%d, %d, %d)",
			models.ErrShapeMismatch, airy.Planes, airy.Cols, airy.Rows, raw.Planes, raw.Cols, raw.Rows)
	}

	out := models.NewCube(raw.Planes, raw.Cols, raw.Rows)
	for i := range raw.Data {
		out.Data[i] = math.Abs(raw.Data[i] - airy.Data[i])
	}
	return out, nil
}

// GapFitOptions controls FitAiryGap
type GapFitOptions struct {
	// SampleStride takes one pixel in SampleStride along each axis
	SampleStride int

	// MaxIterations bounds the Nelder-Mead search
	MaxIterations int
}

// FitAiryGap refines the initial gap of params against a discontinuum cube. For
// every trial gap the beam is scaled linearly to the data, and the gap minimizing
// the squared residual over a pixel subsample is kept. Profiles are compared
// after removing their minimum, since the discontinuum has its continuum removed.
//
// On failure the initial params are returned with an error wrapping
// ErrDegenerateFit.
func FitAiryGap(disc *models.Cube, params AiryParams, opts GapFitOptions) (AiryParams, error) {
	if err := disc.Validate(); err != nil {
		return params, err
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	stride := max(opts.SampleStride, 1)

	type sample struct {
		cos     float64
		profile []float64
	}
	var samples []sample
	for col := 0; col < disc.Cols; col += stride {
		for row := 0; row < disc.Rows; row += stride {
			d := math.Hypot(float64(col)-params.Center.Col, float64(row)-params.Center.Row)
			profile := disc.Profile(col, row, nil)
			floats.AddConst(-floats.Min(profile), profile)
			samples = append(samples, sample{cos: params.cosTheta(d), profile: profile})
		}
	}

	data := make([]float64, 0, len(samples)*disc.Planes)
	for _, s := range samples {
		data = append(data, s.profile...)
	}
	model := make([]float64, len(data))

	// render fills model for a trial gap and returns the best beam scale
	render := func(gap float64) float64 {
		trial := params
		trial.InitialGap = gap
		i := 0
		for _, s := range samples {
			start := i
			for p := 0; p < disc.Planes; p++ {
				model[i] = trial.Intensity(p, s.cos)
				i++
			}
			floats.AddConst(-floats.Min(model[start:i]), model[start:i])
		}
		mm := floats.Dot(model, model)
		if mm == 0 {
			return 0
		}
		return floats.Dot(model, data) / mm
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			scale := render(x[0])
			var ss float64
			for i := range data {
				r := data[i] - scale*model[i]
				ss += r * r
			}
			return ss
		},
	}

	settings := &optimize.Settings{MajorIterations: opts.MaxIterations}
	if opts.MaxIterations <= 0 {
		settings.MajorIterations = 200
	}
	// a simplex of a quarter fringe keeps the search on the starting order
	method := &optimize.NelderMead{SimplexSize: params.Wavelength * 1e-4 / 8}

	result, err := optimize.Minimize(problem, []float64{params.InitialGap}, settings, method)
	if result == nil || math.IsNaN(result.F) {
		return params, fmt.Errorf("%w: airy gap: %v", models.ErrDegenerateFit, err)
	}

	fitted := params
	fitted.InitialGap = result.X[0]
	scale := render(fitted.InitialGap)
	if scale <= 0 {
		return params, fmt.Errorf("%w: airy gap: non-positive beam scale", models.ErrDegenerateFit)
	}
	fitted.Beam = params.Beam * scale
	return fitted, nil
}
