// Package phasemap implements the stages that turn a Fabry-Perot data cube into an
// unwrapped phase map: continuum and discontinuum, wrapped phase, ring center,
// noise mask, border distances, order map and unwrapping.
package phasemap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"fpreduce/internal/models"
	"fpreduce/pkg/logging"
)

// ContinuumMode selects the statistic taken over the lowest channels
type ContinuumMode int

const (
	ContinuumMedian ContinuumMode = iota
	ContinuumMean
)

func (m ContinuumMode) String() string {
	switch m {
	case ContinuumMedian:
		return "median"
	case ContinuumMean:
		return "mean"
	default:
		return "unknown"
	}
}

// ParseContinuumMode maps a configuration string to a ContinuumMode.
// An empty string selects the median.
func ParseContinuumMode(s string) (ContinuumMode, error) {
	switch strings.ToLower(s) {
	case "", "median":
		return ContinuumMedian, nil
	case "mean", "average":
		return ContinuumMean, nil
	}
	return 0, fmt.Errorf("%w: unknown continuum mode %q", models.ErrConfiguration, s)
}

// LowestChannelCount returns how many of the lowest channels estimate the
// continuum for a cube with the given number of planes.
func LowestChannelCount(planes int, ratio float64) int {
	k := int(ratio * float64(planes))
	if k < 1 {
		k = 1
	}
	if k > planes {
		k = planes
	}
	return k
}

// DetectContinuum estimates the continuum level of every pixel as the median (or
// mean) of the k lowest values of its spectral profile. The peak of a Fabry-Perot
// profile sits on a flat floor, so the low tail rejects the peak while the median
// resists single low outliers.
func DetectContinuum(cube *models.Cube, ratio float64, mode ContinuumMode, emitter logging.Emitter) (*models.Map, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}

	k := LowestChannelCount(cube.Planes, ratio)
	continuum := models.NewMap(cube.Cols, cube.Rows)
	progress := logging.NewProgress(emitter, "continuum", cube.Cols)

	profile := make([]float64, cube.Planes)
	for col := 0; col < cube.Cols; col++ {
		for row := 0; row < cube.Rows; row++ {
			profile = cube.Profile(col, row, profile)
			continuum.Set(col, row, lowTailLevel(profile, k, mode))
		}
		progress.Update(col + 1)
	}

	return continuum, nil
}

// lowTailLevel sorts profile in place and returns the statistic of its k lowest values
func lowTailLevel(profile []float64, k int, mode ContinuumMode) float64 {
	sort.Float64s(profile)
	lowest := profile[:k]
	if lowest[0] == lowest[k-1] {
		return lowest[0]
	}
	if mode == ContinuumMean {
		return stat.Mean(lowest, nil)
	}
	median, err := stats.Median(lowest)
	if err != nil {
		return lowest[0]
	}
	return median
}

// Discontinuum returns |cube - continuum| with the continuum broadcast over planes
func Discontinuum(cube *models.Cube, continuum *models.Map) (*models.Cube, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if err := models.CheckShape("continuum", continuum.Cols, continuum.Rows, cube.Cols, cube.Rows); err != nil {
		return nil, err
	}

	out := models.NewCube(cube.Planes, cube.Cols, cube.Rows)
	stride := cube.Cols * cube.Rows
	for p := 0; p < cube.Planes; p++ {
		plane := cube.Data[p*stride : (p+1)*stride]
		dst := out.Data[p*stride : (p+1)*stride]
		for i, v := range plane {
			d := v - continuum.Data[i]
			if d < 0 {
				d = -d
			}
			dst[i] = d
		}
	}
	return out, nil
}

// SuppressChannels returns a copy of cube whose listed planes are replaced by the
// corresponding planes of replacement. Channels outside the cube are ignored.
func SuppressChannels(cube, replacement *models.Cube, channels []int) (*models.Cube, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if replacement.Planes != cube.Planes || replacement.Cols != cube.Cols || replacement.Rows != cube.Rows {
		return nil, fmt.Errorf("%w: replacement cube (%d, %d, %d) does not match (%d, %d, %d)",
			models.ErrShapeMismatch, replacement.Planes, replacement.Cols, replacement.Rows,
			cube.Planes, cube.Cols, cube.Rows)
	}

	out := cube.Clone()
	stride := cube.Cols * cube.Rows
	for _, ch := range channels {
		if ch < 0 || ch >= cube.Planes {
			continue
		}
		copy(out.Data[ch*stride:(ch+1)*stride], replacement.Data[ch*stride:(ch+1)*stride])
	}
	return out, nil
}
