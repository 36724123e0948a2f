package phasemap

import (
	"errors"
	"math"
	"testing"

	"fpreduce/internal/models"
)

func TestBarycenter(t *testing.T) {
	tests := []struct {
		name    string
		profile []float64
		want    float64
	}{
		{"symmetric peak", []float64{0, 1, 4, 1, 0}, 2},
		{"two equal channels", []float64{0, 0, 3, 3, 0, 0}, 2.5},
		{"peak at the first channel", []float64{4, 3, 0, 0}, 3.0 / 7},
		{"peak at the last channel", []float64{0, 0, 0, 2}, 3},
		{"flat zero profile", []float64{0, 0, 0}, 0},
		{"below half maximum ignored", []float64{1, 0, 10, 0, 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := barycenter(tt.profile); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("barycenter(%v) = %f, want %f", tt.profile, got, tt.want)
			}
		})
	}
}

func TestBarycenterStaysOnLastChannel(t *testing.T) {
	profile := []float64{1, 1, 1, 1.0000000000008, 1.0000006, 1.0084, 3.111, 10.72}
	if got := barycenter(profile); got != 7 {
		t.Errorf("Expected exactly 7 for a peak alone in the last channel, got %.17g", got)
	}

	// a wide window ending on the last channel
	profile = []float64{0, 0, 0, 0, 9.7, 9.9, 9.8, 10}
	got := barycenter(profile)
	if got < 4 || got > 7 {
		t.Errorf("Barycenter %.17g left the window [4, 7]", got)
	}
}

func TestPeakChannelFirstOnTies(t *testing.T) {
	if got := peakChannel([]float64{1, 3, 2, 3}); got != 1 {
		t.Errorf("Expected first maximum at 1, got %d", got)
	}
}

func TestWrappedPhaseRange(t *testing.T) {
	cube := twoRingCube()
	for _, mode := range []PhaseMode{PhaseBarycenter, PhaseMaxChannel} {
		wrapped, err := DetectWrappedPhase(cube, mode)
		if err != nil {
			t.Fatalf("DetectWrappedPhase(%s) failed: %v", mode, err)
		}
		for i, v := range wrapped.Data {
			if v < 0 || v > float64(cube.Planes-1) {
				t.Fatalf("%s: wrapped phase %f at %d outside [0, %d]", mode, v, i, cube.Planes-1)
			}
		}
	}
}

func TestParseModes(t *testing.T) {
	if m, err := ParsePhaseMode("MAX"); err != nil || m != PhaseMaxChannel {
		t.Errorf("ParsePhaseMode(MAX) = %v, %v", m, err)
	}
	if m, err := ParseContinuumMode(""); err != nil || m != ContinuumMedian {
		t.Errorf("ParseContinuumMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParsePhaseMode("centroid"); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
	if _, err := ParseContinuumMode("mode"); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}
