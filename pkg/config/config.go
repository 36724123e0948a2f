// Package config provides configuration loading and management for fpreduce.
// It handles loading configuration from YAML files, provides default values and
// validates the instrument constants before a run starts.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"fpreduce/internal/models"
	"fpreduce/pkg/interpolation"
	"fpreduce/pkg/phasemap"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Instrument constants. The pointer fields are required; a nil value means the
	// key was absent from the file.
	Instrument struct {
		Beam                            *float64 `yaml:"beam"`
		CalibrationWavelength           *float64 `yaml:"calibration_wavelength"`
		Finesse                         *float64 `yaml:"finesse"`
		FocalLength                     *float64 `yaml:"focal_length"`
		FreeSpectralRange               *float64 `yaml:"free_spectral_range"`
		Gap                             *float64 `yaml:"gap"`
		InterferenceOrder               *float64 `yaml:"interference_order"`
		InterferenceReferenceWavelength *float64 `yaml:"interference_reference_wavelength"`
		ScanningWavelength              *float64 `yaml:"scanning_wavelength"`

		// InitialGap is the gap at channel 0 in microns
		InitialGap float64 `yaml:"initial_gap"`

		// PixelSize is the detector pixel pitch in microns
		PixelSize float64 `yaml:"pixel_size"`
	} `yaml:"instrument"`

	// Processing parameters
	Processing struct {
		// BadNeighboursThreshold is how many neighbours may disagree before a pixel is noise
		BadNeighboursThreshold int `yaml:"bad_neighbours_threshold"`

		// ChannelThreshold is the channel distance above which a neighbour disagrees
		ChannelThreshold float64 `yaml:"channel_threshold"`

		// ContinuumToFSRRatio selects how many of the lowest channels estimate the continuum
		ContinuumToFSRRatio float64 `yaml:"continuum_to_fsr_ratio"`

		// NoiseMaskRadius dilates every noisy pixel by this many pixels
		NoiseMaskRadius int `yaml:"noise_mask_radius"`

		// ChannelSubset lists channels replaced by the Airy model
		ChannelSubset []int `yaml:"channel_subset"`

		// ContinuumMode is "median" or "mean"
		ContinuumMode string `yaml:"continuum_mode"`

		// PhaseMode is "barycenter" or "max"
		PhaseMode string `yaml:"phase_mode"`
	} `yaml:"processing"`

	// Ring finder parameters
	Rings struct {
		MinArcPixels      int     `yaml:"min_arc_pixels"`
		ArcTolerance      float64 `yaml:"arc_tolerance"`
		RingMergeDistance float64 `yaml:"ring_merge_distance"`
	} `yaml:"rings"`

	// Airy model parameters
	Airy struct {
		// RefineGap enables the iterative gap refinement against the discontinuum
		RefineGap bool `yaml:"refine_gap"`

		// SampleStride subsamples pixels used by the gap refinement
		SampleStride int `yaml:"sample_stride"`

		// MaxIterations bounds the gap refinement
		MaxIterations int `yaml:"max_iterations"`
	} `yaml:"airy"`

	// Kriging fill of noisy pixels in the wavelength map
	Fill struct {
		Enabled   bool    `yaml:"enabled"`
		Model     string  `yaml:"model"`
		Range     float64 `yaml:"range"`
		Sill      float64 `yaml:"sill"`
		Nugget    float64 `yaml:"nugget"`
		Neighbors int     `yaml:"neighbors"`
	} `yaml:"fill"`

	// Logging parameters
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values.
// Instrument constants have no defaults and must come from a file.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Instrument.PixelSize = 9
	cfg.Processing.BadNeighboursThreshold = 7
	cfg.Processing.ChannelThreshold = 1
	cfg.Processing.ContinuumToFSRRatio = 0.125
	cfg.Processing.NoiseMaskRadius = 1
	cfg.Processing.ChannelSubset = []int{}
	cfg.Processing.ContinuumMode = "median"
	cfg.Processing.PhaseMode = "barycenter"

	cfg.Rings.MinArcPixels = 8
	cfg.Rings.ArcTolerance = 1.5
	cfg.Rings.RingMergeDistance = 2

	cfg.Airy.RefineGap = false
	cfg.Airy.SampleStride = 4
	cfg.Airy.MaxIterations = 200

	cfg.Fill.Enabled = false
	cfg.Fill.Model = "spherical"
	cfg.Fill.Range = 20
	cfg.Fill.Sill = 1
	cfg.Fill.Neighbors = 16

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "traditional"

	return cfg
}

// ExampleConfig returns the defaults with instrument constants filled in for a
// typical H-alpha setup, used when writing a template file.
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	set := func(v float64) *float64 { return &v }
	cfg.Instrument.Beam = set(450)
	cfg.Instrument.CalibrationWavelength = set(6598.953125)
	cfg.Instrument.Finesse = set(15)
	cfg.Instrument.FocalLength = set(0.1)
	cfg.Instrument.FreeSpectralRange = set(8.36522123894)
	cfg.Instrument.Gap = set(0.01)
	cfg.Instrument.InterferenceOrder = set(791)
	cfg.Instrument.InterferenceReferenceWavelength = set(6562.7797852)
	cfg.Instrument.ScanningWavelength = set(6616.89)
	cfg.Instrument.InitialGap = 1904
	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Non-numeric values for numeric keys are
// reported as configuration errors.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: error parsing config: %v", models.ErrConfiguration, err)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a template configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(ExampleConfig(), configPath)
}

// Validate checks that every required instrument constant is present and that
// processing parameters are usable. It returns the typed instrument constants.
func (cfg *Config) Validate() (models.Instrument, error) {
	in := cfg.Instrument
	required := map[string]*float64{
		"beam":                              in.Beam,
		"calibration_wavelength":            in.CalibrationWavelength,
		"finesse":                           in.Finesse,
		"focal_length":                      in.FocalLength,
		"free_spectral_range":               in.FreeSpectralRange,
		"gap":                               in.Gap,
		"interference_order":                in.InterferenceOrder,
		"interference_reference_wavelength": in.InterferenceReferenceWavelength,
		"scanning_wavelength":               in.ScanningWavelength,
	}
	var missing []string
	for name, v := range required {
		if v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return models.Instrument{}, fmt.Errorf("%w: missing instrument constants: %s",
			models.ErrConfiguration, strings.Join(missing, ", "))
	}

	for name, v := range required {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return models.Instrument{}, fmt.Errorf("%w: %s must be a finite number", models.ErrConfiguration, name)
		}
	}
	switch {
	case *in.Beam <= 0:
		return models.Instrument{}, fmt.Errorf("%w: beam must be positive", models.ErrConfiguration)
	case *in.Finesse <= 0:
		return models.Instrument{}, fmt.Errorf("%w: finesse must be positive", models.ErrConfiguration)
	case !(in.PixelSize > 0) || math.IsInf(in.PixelSize, 0):
		return models.Instrument{}, fmt.Errorf("%w: pixel_size must be positive, got %g", models.ErrConfiguration, in.PixelSize)
	case math.IsNaN(in.InitialGap) || math.IsInf(in.InitialGap, 0):
		return models.Instrument{}, fmt.Errorf("%w: initial_gap must be a finite number", models.ErrConfiguration)
	}

	p := cfg.Processing
	switch {
	case p.ContinuumToFSRRatio <= 0 || p.ContinuumToFSRRatio > 1:
		return models.Instrument{}, fmt.Errorf("%w: continuum_to_fsr_ratio must be in (0, 1], got %g",
			models.ErrConfiguration, p.ContinuumToFSRRatio)
	case p.ChannelThreshold < 0:
		return models.Instrument{}, fmt.Errorf("%w: channel_threshold must not be negative", models.ErrConfiguration)
	case p.BadNeighboursThreshold < 0:
		return models.Instrument{}, fmt.Errorf("%w: bad_neighbours_threshold must not be negative", models.ErrConfiguration)
	case p.NoiseMaskRadius < 0:
		return models.Instrument{}, fmt.Errorf("%w: noise_mask_radius must not be negative", models.ErrConfiguration)
	}
	if _, err := phasemap.ParseContinuumMode(p.ContinuumMode); err != nil {
		return models.Instrument{}, err
	}
	if _, err := phasemap.ParsePhaseMode(p.PhaseMode); err != nil {
		return models.Instrument{}, err
	}
	if _, err := cfg.KrigingParams(); err != nil {
		return models.Instrument{}, err
	}
	if *in.FocalLength <= 0 {
		return models.Instrument{}, fmt.Errorf("%w: focal_length must be positive", models.ErrConfiguration)
	}
	if *in.CalibrationWavelength <= 0 || *in.ScanningWavelength <= 0 {
		return models.Instrument{}, fmt.Errorf("%w: wavelengths must be positive", models.ErrConfiguration)
	}

	return models.Instrument{
		Beam:                            *in.Beam,
		CalibrationWavelength:           *in.CalibrationWavelength,
		Finesse:                         *in.Finesse,
		FocalLength:                     *in.FocalLength,
		FreeSpectralRange:               *in.FreeSpectralRange,
		Gap:                             *in.Gap,
		InitialGap:                      in.InitialGap,
		InterferenceOrder:               *in.InterferenceOrder,
		InterferenceReferenceWavelength: *in.InterferenceReferenceWavelength,
		ScanningWavelength:              *in.ScanningWavelength,
		PixelSize:                       in.PixelSize,
	}, nil
}

// KrigingParams converts the fill section. It is only checked when the fill is
// enabled.
func (cfg *Config) KrigingParams() (interpolation.KrigingParams, error) {
	f := cfg.Fill
	model, err := interpolation.ParseVariogramModel(f.Model)
	if err != nil && f.Enabled {
		return interpolation.KrigingParams{}, err
	}
	params := interpolation.KrigingParams{
		Range:     f.Range,
		Sill:      f.Sill,
		Nugget:    f.Nugget,
		Model:     model,
		Neighbors: f.Neighbors,
	}
	if f.Enabled {
		if err := params.Validate(); err != nil {
			return params, err
		}
	}
	return params, nil
}
