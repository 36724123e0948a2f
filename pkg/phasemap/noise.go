package phasemap

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"fpreduce/internal/models"
	"fpreduce/pkg/logging"
)

// NoiseParams configures the noise detector
type NoiseParams struct {
	// ChannelThreshold is the channel distance above which a neighbour disagrees
	ChannelThreshold float64

	// BadNeighboursThreshold is how many disagreeing neighbours a pixel tolerates
	BadNeighboursThreshold int

	// MaskRadius dilates every noisy pixel by a disk of this radius
	MaskRadius int
}

// DefaultNoiseParams returns the detector defaults
func DefaultNoiseParams() NoiseParams {
	return NoiseParams{
		ChannelThreshold:       1,
		BadNeighboursThreshold: 7,
		MaskRadius:             1,
	}
}

// DetectNoise flags pixels whose wrapped phase disagrees with too many of their
// 8-connected neighbours, then dilates the flags by params.MaskRadius.
// Differences are taken modulo the map maximum, so a fringe wrapping from the top
// channel back to 0 is not counted as disagreement.
func DetectNoise(wrapped *models.Map, params NoiseParams, emitter logging.Emitter) (*models.Mask, error) {
	if err := wrapped.Validate("wrapped phase map"); err != nil {
		return nil, err
	}

	period := floats.Max(wrapped.Data)
	bad := make([]int, len(wrapped.Data))
	progress := logging.NewProgress(emitter, "noise", len(neighbourOffsets)+1)

	for i, off := range neighbourOffsets {
		forEachShift(wrapped.Cols, wrapped.Rows, off[0], off[1], func(idx, nidx int) {
			if wrapDistance(wrapped.Data[idx], wrapped.Data[nidx], period) > params.ChannelThreshold {
				bad[idx]++
			}
		})
		progress.Update(i + 1)
	}

	noise := models.NewMask(wrapped.Cols, wrapped.Rows)
	for i, n := range bad {
		if n > params.BadNeighboursThreshold {
			noise.Data[i] = true
		}
	}

	dilated := Dilate(noise, params.MaskRadius)
	progress.Update(len(neighbourOffsets) + 1)
	return dilated, nil
}

// wrapDistance is |a-b| on a circle of the given period
func wrapDistance(a, b, period float64) float64 {
	d := math.Abs(a - b)
	if period > 0 && period-d < d {
		return period - d
	}
	return d
}
