package pipeline

import (
	"fmt"

	"fpreduce/internal/models"
	"fpreduce/pkg/fit"
	"fpreduce/pkg/wavelength"
)

// Artifact names, in the order the stages publish them
const (
	ArtifactContinuum           = "continuum"
	ArtifactDiscontinuum        = "discontinuum"
	ArtifactWrappedPhase        = "wrapped_phase"
	ArtifactNoise               = "noise"
	ArtifactRingBorders         = "ring_borders"
	ArtifactBorderDistances     = "border_distances"
	ArtifactOrder               = "order"
	ArtifactUnwrappedPhase      = "unwrapped_phase"
	ArtifactParabolicModel      = "parabolic_model"
	ArtifactParabolicResidue    = "parabolic_residue"
	ArtifactAiryModel           = "airy_model"
	ArtifactAiryResidue         = "airy_residue"
	ArtifactSubstitutedChannels = "substituted_channels"
	ArtifactWavelength          = "wavelength"
	ArtifactFilledWavelength    = "filled_wavelength"
)

// Artifact is one published array. Exactly one of Map and Cube is set.
type Artifact struct {
	Name  string
	Index int
	Map   *models.Map
	Cube  *models.Cube
}

// FileName is the numbered name used when the artifact is written to disk
func (a Artifact) FileName(ext string) string {
	return fmt.Sprintf("%02d_%s%s", a.Index, a.Name, ext)
}

// Result holds every artifact of a successful run
type Result struct {
	RunID string

	Center      *models.RingCenter
	Parabola    *fit.Parabola
	Airy        fit.AiryParams
	Calibration *wavelength.Calibration

	// Metadata collects the instrument constants and the fitted scalars
	Metadata map[string]float64

	// Diagnostics are non-fatal problems, such as degenerate fits
	Diagnostics []error

	artifacts []Artifact
	byName    map[string]int
}

func newResult(runID string) *Result {
	return &Result{
		RunID:    runID,
		Metadata: make(map[string]float64),
		byName:   make(map[string]int),
	}
}

func (r *Result) addMap(name string, m *models.Map) {
	r.add(Artifact{Name: name, Map: m})
}

func (r *Result) addCube(name string, c *models.Cube) {
	r.add(Artifact{Name: name, Cube: c})
}

func (r *Result) add(a Artifact) {
	a.Index = len(r.artifacts) + 1
	r.byName[a.Name] = len(r.artifacts)
	r.artifacts = append(r.artifacts, a)
}

// Artifact returns the artifact with the given name
func (r *Result) Artifact(name string) (Artifact, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Artifact{}, false
	}
	return r.artifacts[i], true
}

// Map returns a 2D artifact by name, or nil
func (r *Result) Map(name string) *models.Map {
	a, ok := r.Artifact(name)
	if !ok {
		return nil
	}
	return a.Map
}

// Cube returns a 3D artifact by name, or nil
func (r *Result) Cube(name string) *models.Cube {
	a, ok := r.Artifact(name)
	if !ok {
		return nil
	}
	return a.Cube
}

// Names lists the artifact names in publication order
func (r *Result) Names() []string {
	names := make([]string, len(r.artifacts))
	for i, a := range r.artifacts {
		names[i] = a.Name
	}
	return names
}

// Artifacts returns every artifact in publication order
func (r *Result) Artifacts() []Artifact {
	return append([]Artifact(nil), r.artifacts...)
}

// PixelProfile follows one pixel through every stage of the run
type PixelProfile struct {
	Col, Row int

	Raw          []float64
	Continuum    float64
	Discontinuum []float64
	Wrapped      float64
	Noisy        bool
	Border       float64
	Order        int
	Unwrapped    float64
	Parabolic    float64
	Airy         []float64
	Wavelength   float64
}

// Profile extracts the processing history of one pixel. raw is the input cube
// of the run.
func (r *Result) Profile(raw *models.Cube, col, row int) (*PixelProfile, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if col < 0 || col >= raw.Cols || row < 0 || row >= raw.Rows {
		return nil, fmt.Errorf("%w: pixel (%d, %d) outside %dx%d", models.ErrShapeMismatch, col, row, raw.Cols, raw.Rows)
	}

	p := &PixelProfile{Col: col, Row: row, Raw: raw.Profile(col, row, nil)}
	at := func(name string) float64 {
		if m := r.Map(name); m != nil {
			return m.At(col, row)
		}
		return 0
	}
	p.Continuum = at(ArtifactContinuum)
	p.Wrapped = at(ArtifactWrappedPhase)
	p.Noisy = at(ArtifactNoise) != 0
	p.Border = at(ArtifactBorderDistances)
	p.Order = int(at(ArtifactOrder))
	p.Unwrapped = at(ArtifactUnwrappedPhase)
	p.Parabolic = at(ArtifactParabolicModel)
	p.Wavelength = at(ArtifactWavelength)
	if c := r.Cube(ArtifactDiscontinuum); c != nil {
		p.Discontinuum = c.Profile(col, row, nil)
	}
	if c := r.Cube(ArtifactAiryModel); c != nil {
		p.Airy = c.Profile(col, row, nil)
	}
	return p, nil
}
