package pipeline

import (
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"

	"fpreduce/internal/models"
	"fpreduce/pkg/config"
	"fpreduce/pkg/fit"
	"fpreduce/pkg/logging"
)

const (
	testPlanes = 16
	testSize   = 120

	// order of the first plane on the optical axis; the .5 puts channel 8 on the peak
	testAxisOrder = 5802.5

	testWavelength = 6562.78

	// tanθ per pixel: pixel size 9 µm over a 22.5 mm lens
	testPixelAngle = 9e-6 / 0.0225
)

var testCenter = models.Point{Col: 61, Row: 58}

// airyConfig describes an instrument scanning exactly one free spectral range
// over testPlanes channels
func airyConfig() *config.Config {
	cfg := config.ExampleConfig()
	set := func(v float64) *float64 { return &v }
	lambda := testWavelength * 1e-4
	cfg.Instrument.Beam = set(450)
	cfg.Instrument.Finesse = set(15)
	cfg.Instrument.CalibrationWavelength = set(testWavelength)
	cfg.Instrument.InterferenceReferenceWavelength = set(testWavelength)
	cfg.Instrument.InterferenceOrder = set(testAxisOrder)
	cfg.Instrument.FocalLength = set(0.0225)
	cfg.Instrument.Gap = set(lambda / (2 * testPlanes))
	cfg.Instrument.InitialGap = testAxisOrder * lambda / 2
	cfg.Instrument.PixelSize = 9
	return cfg
}

// airyCube renders the synthetic observation for airyConfig
func airyCube(t *testing.T) *models.Cube {
	t.Helper()
	instrument, err := airyConfig().Validate()
	if err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}
	cube, err := fit.AiryModel(fit.NewAiryParams(instrument, testCenter), testPlanes, testSize, testSize)
	if err != nil {
		t.Fatalf("Failed to render Airy cube: %v", err)
	}
	return cube
}

// groundTruthOrder counts the fringe wraps between the axis and a pixel at
// distance d. The peak position q(d) grows outward from channel 8 and the
// wrapped phase flips to 0 once the peak is closer to channel 16 than to 15.
func groundTruthOrder(d float64) int {
	tan := d * testPixelAngle
	cos := 1 / math.Sqrt(1+tan*tan)
	k := math.Ceil(testAxisOrder)
	q := testPlanes * (k/cos - testAxisOrder)
	return int(math.Floor((q + 0.5) / testPlanes))
}

func TestRoundTripAiryCube(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full reduction in short mode")
	}

	cube := airyCube(t)
	rec := &logging.Recorder{}
	p, err := New(airyConfig(), rec)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	res, err := p.Run(cube)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if d := res.Center.Center.Distance(testCenter); d > 1 {
		t.Errorf("Expected center within 1 pixel of (%.0f, %.0f), got (%.2f, %.2f)",
			testCenter.Col, testCenter.Row, res.Center.Center.Col, res.Center.Center.Row)
	}
	if n := len(res.Center.Rings); n != 3 {
		t.Errorf("Expected 3 rings, got %d: %v", n, res.Center.Radii())
	}

	order := res.Map(ArtifactOrder)
	noise := res.Map(ArtifactNoise)
	checked := 0
	for col := 0; col < testSize; col++ {
		for row := 0; row < testSize; row++ {
			d := math.Hypot(float64(col)-testCenter.Col, float64(row)-testCenter.Row)
			want := groundTruthOrder(d)
			// skip the band around each fringe border
			if groundTruthOrder(math.Max(d-1.5, 0)) != want || groundTruthOrder(d+1.5) != want {
				continue
			}
			if noise.At(col, row) != 0 {
				continue
			}
			checked++
			if got := int(order.At(col, row)); got != want {
				t.Fatalf("Order at (%d, %d), distance %.2f: got %d, want %d", col, row, d, got, want)
			}
		}
	}
	if checked < testSize*testSize/2 {
		t.Errorf("Only %d pixels checked against the ground truth", checked)
	}

	// the parabolic surface is centred on the rings
	if d := res.Parabola.Vertex.Distance(testCenter); d > 2 {
		t.Errorf("Expected parabola vertex near the center, got (%.2f, %.2f)", res.Parabola.Vertex.Col, res.Parabola.Vertex.Row)
	}

	// wavelength grows with the unwrapped phase
	unwrapped := res.Map(ArtifactUnwrappedPhase)
	lambda := res.Map(ArtifactWavelength)
	for i := range unwrapped.Data {
		for _, j := range []int{i + 1, i + testSize} {
			if j >= len(unwrapped.Data) || math.Abs(unwrapped.Data[i]-unwrapped.Data[j]) < 1e-6 {
				continue
			}
			if (unwrapped.Data[i] < unwrapped.Data[j]) != (lambda.Data[i] < lambda.Data[j]) {
				t.Fatalf("Wavelength not monotonic in phase between pixels %d and %d", i, j)
			}
		}
	}

	if len(res.Diagnostics) != 0 {
		t.Errorf("Unexpected diagnostics: %v", res.Diagnostics)
	}
	if res.Metadata["calibration_wavelength"] != testWavelength {
		t.Error("Instrument constants missing from metadata")
	}
	for _, key := range []string{"center_col", "parabola_x2y0", "fsr", "ring_radius_0", "airy_initial_gap"} {
		if _, ok := res.Metadata[key]; !ok {
			t.Errorf("Metadata key %q missing", key)
		}
	}

	msgs := strings.Join(rec.Messages(), "\n")
	for _, want := range []string{"Step 1:", "Step 7:", "continuum 100% done", "noise 100% done"} {
		if !strings.Contains(msgs, want) {
			t.Errorf("Expected emitted message containing %q", want)
		}
	}
}

func TestArtifactsAndProfile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full reduction in short mode")
	}

	cfg := airyConfig()
	cfg.Processing.ChannelSubset = []int{0, 3}
	cfg.Fill.Enabled = true
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	cube := airyCube(t)
	original := cube.Clone()

	res, err := p.Run(cube)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !slices.Equal(cube.Data, original.Data) {
		t.Error("Run modified the input cube")
	}

	want := []string{
		ArtifactContinuum, ArtifactDiscontinuum, ArtifactWrappedPhase, ArtifactNoise,
		ArtifactRingBorders, ArtifactBorderDistances, ArtifactOrder, ArtifactUnwrappedPhase,
		ArtifactParabolicModel, ArtifactParabolicResidue, ArtifactAiryModel, ArtifactAiryResidue,
		ArtifactSubstitutedChannels, ArtifactWavelength, ArtifactFilledWavelength,
	}
	if got := res.Names(); !slices.Equal(got, want) {
		t.Fatalf("Artifact names = %v, want %v", got, want)
	}

	a, ok := res.Artifact(ArtifactWavelength)
	if !ok || a.Map == nil || a.Cube != nil {
		t.Fatal("Wavelength artifact should be a map")
	}
	if name := a.FileName(".fits"); name != "14_wavelength.fits" {
		t.Errorf("Unexpected file name %q", name)
	}
	if _, ok := res.Artifact("missing"); ok {
		t.Error("Unexpected artifact for an unknown name")
	}

	filled := res.Map(ArtifactFilledWavelength)
	noise := res.Map(ArtifactNoise)
	for i, v := range res.Map(ArtifactWavelength).Data {
		if noise.Data[i] == 0 && filled.Data[i] != v {
			t.Fatalf("Fill changed the clean pixel %d", i)
		}
	}

	substituted := res.Cube(ArtifactSubstitutedChannels)
	airy := res.Cube(ArtifactAiryModel)
	if substituted.At(3, 10, 10) != airy.At(3, 10, 10) || substituted.At(1, 10, 10) != cube.At(1, 10, 10) {
		t.Error("Channel substitution replaced the wrong planes")
	}

	prof, err := res.Profile(cube, 61, 58)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if len(prof.Raw) != testPlanes || len(prof.Discontinuum) != testPlanes || len(prof.Airy) != testPlanes {
		t.Errorf("Expected %d channels in each profile", testPlanes)
	}
	if prof.Order != 0 {
		t.Errorf("Expected order 0 on the axis, got %d", prof.Order)
	}
	if math.Abs(prof.Wavelength-testWavelength) > res.Calibration.FSR {
		t.Errorf("Expected a wavelength within one FSR of %f on the axis, got %f", testWavelength, prof.Wavelength)
	}
	if _, err := res.Profile(cube, testSize, 0); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for an outside pixel, got %v", err)
	}
}

func TestRunFlatCubeFails(t *testing.T) {
	p, err := New(airyConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	cube := models.NewCube(8, 30, 30)
	for i := range cube.Data {
		cube.Data[i] = 1
	}

	res, err := p.Run(cube)
	if res != nil {
		t.Error("Expected no partial result")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected a StageError, got %v", err)
	}
	if stageErr.Stage != StageRingCenter {
		t.Errorf("Expected failure in %s, got %s", StageRingCenter, stageErr.Stage)
	}
	if !errors.Is(err, models.ErrCenterNotFound) {
		t.Errorf("Expected ErrCenterNotFound, got %v", err)
	}
}

func TestRunInvalidCube(t *testing.T) {
	p, err := New(airyConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	_, err = p.Run(&models.Cube{Data: make([]float64, 7), Planes: 2, Cols: 2, Rows: 2})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageInput {
		t.Fatalf("Expected an input StageError, got %v", err)
	}
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestNewRequiresInstrument(t *testing.T) {
	_, err := New(config.DefaultConfig(), nil)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestNewRejectsZeroPixelSize(t *testing.T) {
	cfg := airyConfig()
	cfg.Instrument.PixelSize = 0
	_, err := New(cfg, nil)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration before any stage runs, got %v", err)
	}
}

func TestConcurrentRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrent reductions in short mode")
	}

	p, err := New(airyConfig(), &logging.Recorder{})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	cube := airyCube(t)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Run(cube)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}
	if results[0].RunID == results[1].RunID {
		t.Error("Expected distinct run IDs")
	}
	if !slices.Equal(results[0].Map(ArtifactWavelength).Data, results[1].Map(ArtifactWavelength).Data) {
		t.Error("Concurrent runs on the same cube disagree")
	}
}
