// Package pipeline runs the phase-map reduction of a Fabry-Perot cube.
//
// The reduction consists of several steps:
// 1. Continuum estimation and removal
// 2. Wrapped phase extraction
// 3. Ring center location and noise detection, run concurrently
// 4. Ring borders, interference orders and phase unwrapping
// 5. Parabolic surface fit
// 6. Airy model
// 7. Wavelength calibration
// 8. Optional kriging fill of noisy pixels
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"fpreduce/internal/models"
	"fpreduce/pkg/config"
	"fpreduce/pkg/fit"
	"fpreduce/pkg/interpolation"
	"fpreduce/pkg/logging"
	"fpreduce/pkg/phasemap"
	"fpreduce/pkg/task"
	"fpreduce/pkg/wavelength"
)

// Stage names used in logs and errors
const (
	StageInput       = "input"
	StageContinuum   = "continuum"
	StageWrapped     = "wrapped_phase"
	StageRingCenter  = "ring_center"
	StageNoise       = "noise"
	StageBorders     = "border_distances"
	StageOrder       = "order"
	StageUnwrap      = "unwrap"
	StageParabola    = "parabolic_fit"
	StageAiry        = "airy"
	StageCalibration = "wavelength"
	StageFill        = "fill"
)

// StageError reports the stage a run failed in
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline reduces cubes with a fixed set of parameters. A Pipeline holds no
// per-run state, so Run may be called concurrently on different cubes.
type Pipeline struct {
	params  Params
	emitter logging.Emitter
	logger  *slog.Logger
}

// New validates cfg and returns a pipeline reporting progress to emitter
func New(cfg *config.Config, emitter logging.Emitter) (*Pipeline, error) {
	params, err := NewParams(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithParams(params, emitter), nil
}

// NewWithParams returns a pipeline for already validated parameters
func NewWithParams(params Params, emitter logging.Emitter) *Pipeline {
	if emitter == nil {
		emitter = logging.Discard
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if se, ok := emitter.(logging.SlogEmitter); ok && se.Logger != nil {
		logger = se.Logger
	}
	return &Pipeline{params: params, emitter: emitter, logger: logger}
}

// WithLogger sets the logger receiving stage timings
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Params returns the run parameters
func (p *Pipeline) Params() Params {
	return p.params
}

// run tracks a single execution
type run struct {
	*Pipeline
	result *Result
}

// stage times fn and logs its outcome. Errors are wrapped in a StageError.
func (r *run) stage(name string, fn func() (map[string]any, error)) error {
	start := time.Now()
	logging.LogStageStart(r.logger, r.result.RunID, name)
	details, err := fn()
	if err != nil {
		logging.LogStageError(r.logger, r.result.RunID, name, time.Since(start), err)
		return &StageError{Stage: name, Err: err}
	}
	logging.LogStageComplete(r.logger, r.result.RunID, name, time.Since(start), details)
	return nil
}

// diagnose records a non-fatal problem
func (r *run) diagnose(stage string, err error) {
	r.logger.Warn("stage degraded", "run", r.result.RunID, "stage", stage, "error", err.Error())
	r.emitter.Emit(fmt.Sprintf("Warning: %s: %v", stage, err))
	r.result.Diagnostics = append(r.result.Diagnostics, &StageError{Stage: stage, Err: err})
}

// Run executes the complete reduction on cube. The cube is not modified. On
// failure no partial result is returned and the error is a *StageError.
func (p *Pipeline) Run(cube *models.Cube) (*Result, error) {
	r := &run{Pipeline: p, result: newResult(uuid.NewString())}
	res := r.result
	in := p.params.Instrument

	if err := r.stage(StageInput, func() (map[string]any, error) {
		if err := cube.Validate(); err != nil {
			return nil, err
		}
		return map[string]any{"planes": cube.Planes, "cols": cube.Cols, "rows": cube.Rows}, nil
	}); err != nil {
		return nil, err
	}
	for k, v := range in.Metadata() {
		res.Metadata[k] = v
	}

	// Step 1: continuum and discontinuum
	p.emitter.Emit("Step 1: Estimating the continuum...")
	var disc *models.Cube
	if err := r.stage(StageContinuum, func() (map[string]any, error) {
		continuum, err := phasemap.DetectContinuum(cube, p.params.ContinuumRatio, p.params.ContinuumMode, p.emitter)
		if err != nil {
			return nil, err
		}
		disc, err = phasemap.Discontinuum(cube, continuum)
		if err != nil {
			return nil, err
		}
		res.addMap(ArtifactContinuum, continuum)
		res.addCube(ArtifactDiscontinuum, disc)
		return map[string]any{
			"lowest_channels": phasemap.LowestChannelCount(cube.Planes, p.params.ContinuumRatio),
			"mode":            p.params.ContinuumMode.String(),
		}, nil
	}); err != nil {
		return nil, err
	}

	// Step 2: wrapped phase
	p.emitter.Emit("Step 2: Extracting the wrapped phase...")
	var wrapped *models.Map
	if err := r.stage(StageWrapped, func() (map[string]any, error) {
		var err error
		wrapped, err = phasemap.DetectWrappedPhase(disc, p.params.PhaseMode)
		if err != nil {
			return nil, err
		}
		res.addMap(ArtifactWrappedPhase, wrapped)
		return map[string]any{"mode": p.params.PhaseMode.String()}, nil
	}); err != nil {
		return nil, err
	}
	period := floats.Max(wrapped.Data)
	res.Metadata["channels_per_fsr"] = period

	// Step 3: ring center and noise, both reading the wrapped phase only
	p.emitter.Emit("Step 3: Locating the ring center and detecting noise...")
	centerFuture := task.Go(func() (*models.RingCenter, error) {
		var center *models.RingCenter
		err := r.stage(StageRingCenter, func() (map[string]any, error) {
			var err error
			center, err = phasemap.FindRingCenter(wrapped, p.params.Rings)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"center_col": center.Center.Col,
				"center_row": center.Center.Row,
				"rings":      len(center.Rings),
			}, nil
		})
		return center, err
	})
	noiseFuture := task.Go(func() (*models.Mask, error) {
		var noise *models.Mask
		err := r.stage(StageNoise, func() (map[string]any, error) {
			var err error
			noise, err = phasemap.DetectNoise(wrapped, p.params.Noise, p.emitter)
			if err != nil {
				return nil, err
			}
			return map[string]any{"noisy_pixels": noise.Count()}, nil
		})
		return noise, err
	})

	noise, noiseErr := noiseFuture.Wait()
	center, centerErr := centerFuture.Wait()
	if centerErr != nil {
		return nil, centerErr
	}
	if noiseErr != nil {
		return nil, noiseErr
	}
	res.Center = center
	res.addMap(ArtifactNoise, noise.Float())
	res.addMap(ArtifactRingBorders, ringBorderMap(center, wrapped.Cols, wrapped.Rows))
	res.Metadata["center_col"] = center.Center.Col
	res.Metadata["center_row"] = center.Center.Row
	res.Metadata["rings"] = float64(len(center.Rings))
	res.Metadata["noisy_pixels"] = float64(noise.Count())
	for i, ring := range center.Rings {
		res.Metadata["ring_radius_"+strconv.Itoa(i)] = ring.Radius
	}

	// Step 4: borders, orders and unwrapping
	p.emitter.Emit("Step 4: Assigning interference orders...")
	var distances *models.Map
	var order *models.OrderMap
	var unwrapped *models.Map
	if err := r.stage(StageBorders, func() (map[string]any, error) {
		var err error
		distances, err = phasemap.MapBorderDistances(wrapped, center, noise)
		if err != nil {
			return nil, err
		}
		res.addMap(ArtifactBorderDistances, distances)
		return nil, nil
	}); err != nil {
		return nil, err
	}
	if err := r.stage(StageOrder, func() (map[string]any, error) {
		var err error
		order, err = phasemap.BuildOrderMap(distances, center, wrapped)
		if err != nil {
			return nil, err
		}
		res.addMap(ArtifactOrder, order.Float())
		return map[string]any{"max_order": floats.Max(res.Map(ArtifactOrder).Data)}, nil
	}); err != nil {
		return nil, err
	}
	if err := r.stage(StageUnwrap, func() (map[string]any, error) {
		var err error
		unwrapped, err = phasemap.Unwrap(wrapped, order)
		if err != nil {
			return nil, err
		}
		res.addMap(ArtifactUnwrappedPhase, unwrapped)
		return map[string]any{"period": period}, nil
	}); err != nil {
		return nil, err
	}

	// Step 5: parabolic surface
	p.emitter.Emit("Step 5: Fitting the parabolic surface...")
	if err := r.stage(StageParabola, func() (map[string]any, error) {
		parabola, err := fit.FitParabola(unwrapped, noise, center.Center)
		if errors.Is(err, models.ErrDegenerateFit) {
			r.diagnose(StageParabola, err)
		} else if err != nil {
			return nil, err
		}
		res.Parabola = parabola
		res.addMap(ArtifactParabolicModel, parabola.Model)
		res.addMap(ArtifactParabolicResidue, parabola.Residue)
		for i, name := range fit.CoefficientNames {
			res.Metadata["parabola_"+name] = parabola.Coefficients[i]
		}
		res.Metadata["parabola_vertex_col"] = parabola.Vertex.Col
		res.Metadata["parabola_vertex_row"] = parabola.Vertex.Row
		res.Metadata["parabola_ratio"] = parabola.Ratio
		res.Metadata["parabola_rms"] = parabola.RMS
		return map[string]any{"rms": parabola.RMS, "ratio": parabola.Ratio}, nil
	}); err != nil {
		return nil, err
	}

	// Step 6: Airy model
	p.emitter.Emit("Step 6: Building the Airy model...")
	if err := r.stage(StageAiry, func() (map[string]any, error) {
		params := fit.NewAiryParams(in, center.Center)
		if p.params.RefineGap {
			refined, err := fit.FitAiryGap(disc, params, p.params.GapFit)
			if errors.Is(err, models.ErrDegenerateFit) {
				r.diagnose(StageAiry, err)
			} else if err != nil {
				return nil, err
			}
			params = refined
		}
		airy, err := fit.AiryModel(params, cube.Planes, cube.Cols, cube.Rows)
		if err != nil {
			return nil, err
		}
		residue, err := fit.AiryResidue(cube, airy)
		if err != nil {
			return nil, err
		}
		res.Airy = params
		res.addCube(ArtifactAiryModel, airy)
		res.addCube(ArtifactAiryResidue, residue)
		if len(p.params.ChannelSubset) > 0 {
			substituted, err := phasemap.SuppressChannels(cube, airy, p.params.ChannelSubset)
			if err != nil {
				return nil, err
			}
			res.addCube(ArtifactSubstitutedChannels, substituted)
		}
		res.Metadata["airy_initial_gap"] = params.InitialGap
		res.Metadata["airy_beam"] = params.Beam
		return map[string]any{"initial_gap": params.InitialGap, "refined": p.params.RefineGap}, nil
	}); err != nil {
		return nil, err
	}

	// Step 7: wavelength
	p.emitter.Emit("Step 7: Calibrating wavelengths...")
	if err := r.stage(StageCalibration, func() (map[string]any, error) {
		cal, err := wavelength.Calibrate(unwrapped, order, center.Center, wavelength.NewConstants(in, period))
		if err != nil {
			return nil, err
		}
		res.Calibration = cal
		res.addMap(ArtifactWavelength, cal.Map)
		res.Metadata["fsr"] = cal.FSR
		res.Metadata["dispersion"] = cal.Dispersion
		res.Metadata["orders"] = float64(cal.Orders)
		return map[string]any{"fsr": cal.FSR, "orders": cal.Orders}, nil
	}); err != nil {
		return nil, err
	}

	// Step 8: fill noisy pixels
	if p.params.FillNoisy {
		p.emitter.Emit("Step 8: Filling noisy pixels...")
		if err := r.stage(StageFill, func() (map[string]any, error) {
			filled, err := interpolation.FillMasked(res.Calibration.Map, noise, p.params.Fill, p.emitter)
			if errors.Is(err, models.ErrDegenerateFit) {
				r.diagnose(StageFill, err)
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			res.addMap(ArtifactFilledWavelength, filled)
			return map[string]any{"filled": noise.Count(), "model": p.params.Fill.Model.String()}, nil
		}); err != nil {
			return nil, err
		}
	}

	p.emitter.Emit(fmt.Sprintf("Reduction complete: %d artifacts, %d diagnostics", len(res.artifacts), len(res.Diagnostics)))
	return res, nil
}

// ringBorderMap marks the pixels of ring i with i+1
func ringBorderMap(center *models.RingCenter, cols, rows int) *models.Map {
	m := models.NewMap(cols, rows)
	for i, ring := range center.Rings {
		for _, idx := range ring.Pixels {
			if idx >= 0 && idx < len(m.Data) {
				m.Data[idx] = float64(i + 1)
			}
		}
	}
	return m
}
