package pipeline

import (
	"fpreduce/internal/models"
	"fpreduce/pkg/config"
	"fpreduce/pkg/fit"
	"fpreduce/pkg/interpolation"
	"fpreduce/pkg/phasemap"
)

// Params holds the validated settings of a reduction run
type Params struct {
	Instrument models.Instrument

	// ContinuumRatio is the fraction of the lowest channels estimating the continuum
	ContinuumRatio float64
	ContinuumMode  phasemap.ContinuumMode
	PhaseMode      phasemap.PhaseMode

	Noise phasemap.NoiseParams
	Rings phasemap.RingOptions

	// ChannelSubset lists channels replaced by the Airy model in the
	// substituted_channels artifact
	ChannelSubset []int

	// RefineGap fits the Airy initial gap to the discontinuum
	RefineGap bool
	GapFit    fit.GapFitOptions

	// FillNoisy publishes a wavelength map with noisy pixels kriged from
	// their clean neighbours
	FillNoisy bool
	Fill      interpolation.KrigingParams
}

// NewParams validates cfg and converts it to run parameters
func NewParams(cfg *config.Config) (Params, error) {
	instrument, err := cfg.Validate()
	if err != nil {
		return Params{}, err
	}
	continuumMode, err := phasemap.ParseContinuumMode(cfg.Processing.ContinuumMode)
	if err != nil {
		return Params{}, err
	}
	phaseMode, err := phasemap.ParsePhaseMode(cfg.Processing.PhaseMode)
	if err != nil {
		return Params{}, err
	}

	kriging, err := cfg.KrigingParams()
	if err != nil {
		return Params{}, err
	}

	rings := phasemap.DefaultRingOptions()
	if cfg.Rings.MinArcPixels > 0 {
		rings.MinArcPixels = cfg.Rings.MinArcPixels
	}
	if cfg.Rings.ArcTolerance > 0 {
		rings.ArcTolerance = cfg.Rings.ArcTolerance
	}
	if cfg.Rings.RingMergeDistance > 0 {
		rings.RingMergeDistance = cfg.Rings.RingMergeDistance
	}

	return Params{
		Instrument:     instrument,
		ContinuumRatio: cfg.Processing.ContinuumToFSRRatio,
		ContinuumMode:  continuumMode,
		PhaseMode:      phaseMode,
		Noise: phasemap.NoiseParams{
			ChannelThreshold:       cfg.Processing.ChannelThreshold,
			BadNeighboursThreshold: cfg.Processing.BadNeighboursThreshold,
			MaskRadius:             cfg.Processing.NoiseMaskRadius,
		},
		Rings:         rings,
		ChannelSubset: append([]int(nil), cfg.Processing.ChannelSubset...),
		RefineGap:     cfg.Airy.RefineGap,
		GapFit: fit.GapFitOptions{
			SampleStride:  cfg.Airy.SampleStride,
			MaxIterations: cfg.Airy.MaxIterations,
		},
		FillNoisy: cfg.Fill.Enabled,
		Fill:      kriging,
	}, nil
}
