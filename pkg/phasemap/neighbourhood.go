package phasemap

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"fpreduce/internal/models"
)

// neighbourOffsets is the 8-connected neighbourhood in (dcol, drow) form
var neighbourOffsets = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// crossOffsets is the 4-connected neighbourhood
var crossOffsets = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// forEachShift calls fn for every pixel that has an in-bounds neighbour at
// offset (dc, dr). Neighbours outside the array are skipped, never wrapped.
func forEachShift(cols, rows, dc, dr int, fn func(idx, nidx int)) {
	c0, c1 := max(0, -dc), min(cols, cols-dc)
	r0, r1 := max(0, -dr), min(rows, rows-dr)
	for c := c0; c < c1; c++ {
		base := c * rows
		nbase := (c + dc) * rows
		for r := r0; r < r1; r++ {
			fn(base+r, nbase+r+dr)
		}
	}
}

// Dilate flags every pixel within Euclidean distance radius of a flagged pixel.
// The disk is applied as a zero-padded FFT convolution, so nothing wraps around
// the array edges.
func Dilate(mask *models.Mask, radius int) *models.Mask {
	out := models.NewMask(mask.Cols, mask.Rows)
	copy(out.Data, mask.Data)
	if radius <= 0 || mask.Count() == 0 {
		return out
	}

	flags := make([]float64, len(mask.Data))
	for i, v := range mask.Data {
		if v {
			flags[i] = 1
		}
	}
	hits := convolveDisk(flags, mask.Cols, mask.Rows, radius)
	for i, v := range hits {
		if v > 0.5 {
			out.Data[i] = true
		}
	}
	return out
}

// convolveDisk convolves a cols x rows array with a binary disk of the given radius
func convolveDisk(data []float64, cols, rows, radius int) []float64 {
	// padding by the radius keeps the circular convolution free of wraparound
	nc := cols + radius
	nr := rows + radius

	signal := make([]complex128, nc*nr)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			signal[c*nr+r] = complex(data[c*rows+r], 0)
		}
	}

	kernel := make([]complex128, nc*nr)
	r2 := radius * radius
	for dc := -radius; dc <= radius; dc++ {
		for dr := -radius; dr <= radius; dr++ {
			if dc*dc+dr*dr > r2 {
				continue
			}
			kc := (dc + nc) % nc
			kr := (dr + nr) % nr
			kernel[kc*nr+kr] = 1
		}
	}

	sf := fft2D(signal, nc, nr, false)
	kf := fft2D(kernel, nc, nr, false)
	for i := range sf {
		sf[i] *= kf[i]
	}
	conv := fft2D(sf, nc, nr, true)

	out := make([]float64, cols*rows)
	norm := float64(nc * nr)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			out[c*rows+r] = math.Round(real(conv[c*nr+r]) / norm)
		}
	}
	return out
}

// fft2D performs a 2D complex FFT of an nc x nr array stored column-major by
// col (row index fastest). The inverse transform is not normalized.
func fft2D(data []complex128, nc, nr int, inverse bool) []complex128 {
	result := make([]complex128, len(data))
	copy(result, data)

	// transform along rows
	rowFFT := fourier.NewCmplxFFT(nr)
	line := make([]complex128, nr)
	for c := 0; c < nc; c++ {
		seq := result[c*nr : (c+1)*nr]
		if inverse {
			rowFFT.Sequence(line, seq)
		} else {
			rowFFT.Coefficients(line, seq)
		}
		copy(seq, line)
	}

	// transform along columns
	colFFT := fourier.NewCmplxFFT(nc)
	colIn := make([]complex128, nc)
	colOut := make([]complex128, nc)
	for r := 0; r < nr; r++ {
		for c := 0; c < nc; c++ {
			colIn[c] = result[c*nr+r]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for c := 0; c < nc; c++ {
			result[c*nr+r] = colOut[c]
		}
	}

	return result
}
