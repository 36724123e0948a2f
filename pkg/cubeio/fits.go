// Package cubeio reads Fabry-Perot cubes from FITS files and writes reduction
// artifacts back to FITS.
package cubeio

import (
	"fmt"
	"io"
	"os"

	"github.com/astrogo/fitsio"

	"fpreduce/internal/models"
)

// Card is a FITS header keyword. Names are limited to 8 characters.
type Card = fitsio.Card

// ReadCube loads the first image HDU of a FITS file as a cube. The fastest FITS
// axis is the row, then the column, then the scanning channel. A 2D image is
// read as a single-plane cube.
func ReadCube(path string) (*models.Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cube: %w", err)
	}
	defer f.Close()
	return ReadCubeFrom(f)
}

// ReadCubeFrom loads a cube from a FITS stream
func ReadCubeFrom(r io.Reader) (*models.Cube, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FITS: %w", err)
	}
	defer f.Close()

	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		axes := img.Header().Axes()
		if len(axes) < 2 {
			continue
		}
		if len(axes) > 3 {
			return nil, fmt.Errorf("%w: FITS image has %d axes", models.ErrShapeMismatch, len(axes))
		}

		rows, cols, planes := axes[0], axes[1], 1
		if len(axes) == 3 {
			planes = axes[2]
		}

		data, err := readPixels(img, rows*cols*planes)
		if err != nil {
			return nil, err
		}
		cube := &models.Cube{Data: data, Planes: planes, Cols: cols, Rows: rows}
		if err := cube.Validate(); err != nil {
			return nil, err
		}
		return cube, nil
	}
	return nil, fmt.Errorf("%w: no image HDU in FITS file", models.ErrShapeMismatch)
}

// ReadMap loads a 2D FITS image as a map
func ReadMap(path string) (*models.Map, error) {
	cube, err := ReadCube(path)
	if err != nil {
		return nil, err
	}
	if cube.Planes != 1 {
		return nil, fmt.Errorf("%w: expected a 2D image, got %d planes", models.ErrShapeMismatch, cube.Planes)
	}
	return &models.Map{Data: cube.Data, Cols: cube.Cols, Rows: cube.Rows}, nil
}

// WriteCube writes a cube as a 3-axis float64 FITS image
func WriteCube(path string, cube *models.Cube, cards ...Card) error {
	if err := cube.Validate(); err != nil {
		return err
	}
	return writeImage(path, []int{cube.Rows, cube.Cols, cube.Planes}, cube.Data, cards)
}

// WriteMap writes a map as a 2-axis float64 FITS image
func WriteMap(path string, m *models.Map, cards ...Card) error {
	if err := m.Validate("map"); err != nil {
		return err
	}
	return writeImage(path, []int{m.Rows, m.Cols}, m.Data, cards)
}

// readPixels reads n pixels in the image's own BITPIX type and converts them to
// float64, applying BSCALE and BZERO
func readPixels(img fitsio.Image, n int) ([]float64, error) {
	data := make([]float64, n)
	var err error
	switch bitpix := img.Header().Bitpix(); bitpix {
	case 8:
		raw := make([]uint8, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case 16:
		raw := make([]int16, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case 32:
		raw := make([]int32, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case 64:
		raw := make([]int64, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case -32:
		raw := make([]float32, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case -64:
		err = img.Read(&data)
	default:
		return nil, fmt.Errorf("%w: unsupported BITPIX %d", models.ErrShapeMismatch, bitpix)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	scale := cardFloat(img.Header(), "BSCALE", 1)
	zero := cardFloat(img.Header(), "BZERO", 0)
	if scale != 1 || zero != 0 {
		for i := range data {
			data[i] = data[i]*scale + zero
		}
	}
	return data, nil
}

// cardFloat returns a numeric header card, or def when it is absent
func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	card := hdr.Get(name)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return def
}

func writeImage(path string, axes []int, data []float64, cards []Card) error {
	return writeRaw(path, -64, axes, data, cards)
}

// writeRaw writes data, a slice matching bitpix, as a single image HDU
func writeRaw(path string, bitpix int, axes []int, data any, cards []Card) error {
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encodeImage(w, bitpix, axes, data, cards); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func encodeImage(w io.Writer, bitpix int, axes []int, data any, cards []Card) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("failed to start FITS file: %w", err)
	}

	img := fitsio.NewImage(bitpix, axes)
	defer img.Close()

	if len(cards) > 0 {
		if err := img.Header().Append(cards...); err != nil {
			return fmt.Errorf("failed to add header cards: %w", err)
		}
	}
	if err := img.Write(data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("failed to write image HDU: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to finish FITS file: %w", err)
	}
	return nil
}
