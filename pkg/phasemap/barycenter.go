package phasemap

import (
	"fmt"
	"math"
	"strings"

	"fpreduce/internal/models"
)

// PhaseMode selects the wrapped-phase estimator
type PhaseMode int

const (
	// PhaseBarycenter is the intensity-weighted centroid around the peak channel
	PhaseBarycenter PhaseMode = iota

	// PhaseMaxChannel is the index of the brightest channel
	PhaseMaxChannel
)

func (m PhaseMode) String() string {
	switch m {
	case PhaseBarycenter:
		return "barycenter"
	case PhaseMaxChannel:
		return "max"
	default:
		return "unknown"
	}
}

// ParsePhaseMode maps a configuration string to a PhaseMode.
// An empty string selects the barycenter.
func ParsePhaseMode(s string) (PhaseMode, error) {
	switch strings.ToLower(s) {
	case "", "barycenter":
		return PhaseBarycenter, nil
	case "max", "max_channel", "argmax":
		return PhaseMaxChannel, nil
	}
	return 0, fmt.Errorf("%w: unknown phase mode %q", models.ErrConfiguration, s)
}

// DetectWrappedPhase computes, for every pixel of the discontinuum, the channel
// position of the interference peak. Values lie in [0, planes-1] and wrap at the
// free spectral range.
func DetectWrappedPhase(discontinuum *models.Cube, mode PhaseMode) (*models.Map, error) {
	if err := discontinuum.Validate(); err != nil {
		return nil, err
	}

	wrapped := models.NewMap(discontinuum.Cols, discontinuum.Rows)
	profile := make([]float64, discontinuum.Planes)
	for col := 0; col < discontinuum.Cols; col++ {
		for row := 0; row < discontinuum.Rows; row++ {
			profile = discontinuum.Profile(col, row, profile)
			switch mode {
			case PhaseMaxChannel:
				wrapped.Set(col, row, float64(peakChannel(profile)))
			default:
				wrapped.Set(col, row, barycenter(profile))
			}
		}
	}
	return wrapped, nil
}

// peakChannel returns the index of the largest value, the first one on ties
func peakChannel(profile []float64) int {
	best := 0
	for i, v := range profile {
		if v > profile[best] {
			best = i
		}
	}
	return best
}

// barycenter returns the intensity-weighted mean channel of the contiguous run of
// channels around the peak that stay at or above half the peak intensity.
// The run stops at the cube edges, so the result never leaves [0, len-1].
func barycenter(profile []float64) float64 {
	peak := peakChannel(profile)
	top := profile[peak]
	if top <= 0 {
		return 0
	}
	half := top / 2

	lo, hi := peak, peak
	for lo > 0 && profile[lo-1] >= half {
		lo--
	}
	for hi < len(profile)-1 && profile[hi+1] >= half {
		hi++
	}

	// offsets from lo keep rounding from pushing the mean past hi
	var sum, weighted float64
	for ch := lo; ch <= hi; ch++ {
		sum += profile[ch]
		weighted += profile[ch] * float64(ch-lo)
	}
	return math.Min(math.Max(float64(lo)+weighted/sum, float64(lo)), float64(hi))
}
