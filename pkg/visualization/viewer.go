// Package visualization renders quick-look PNG images of cubes and maps
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"fpreduce/internal/models"
	"fpreduce/pkg/pipeline"
)

// Viewer cuts 2D slices out of a cube. Values are scaled linearly from the
// cube's finite minimum and maximum to the full 16-bit range.
type Viewer struct {
	cube     *models.Cube
	min, max float64
}

// NewViewer creates a viewer over cube
func NewViewer(cube *models.Cube) (*Viewer, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	finite := make([]float64, 0, len(cube.Data))
	for _, v := range cube.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	v := &Viewer{cube: cube}
	if len(finite) > 0 {
		v.min, v.max = floats.Min(finite), floats.Max(finite)
	}
	return v, nil
}

// NewMapViewer creates a viewer over a single map
func NewMapViewer(m *models.Map) (*Viewer, error) {
	if err := m.Validate("map"); err != nil {
		return nil, err
	}
	return NewViewer(&models.Cube{Data: m.Data, Planes: 1, Cols: m.Cols, Rows: m.Rows})
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if math.IsNaN(value) || math.IsInf(value, 0) || v.max <= v.min {
		return color.Gray16{}
	}
	scaled := (value - v.min) / (v.max - v.min) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled)))}
}

// ExtractSlice cuts the cube along an axis:
//
//	"plane" (or "z"): one channel image, x = col, y = row
//	"col" (or "x"):   spectra along one column, x = plane, y = row
//	"row" (or "y"):   spectra along one row, x = col, y = plane
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	c := v.cube

	var img *image.Gray16
	switch axis {
	case "plane", "z", "Z":
		if position >= c.Planes {
			return nil, fmt.Errorf("position %d exceeds %d planes", position, c.Planes)
		}
		img = image.NewGray16(image.Rect(0, 0, c.Cols, c.Rows))
		for col := 0; col < c.Cols; col++ {
			for row := 0; row < c.Rows; row++ {
				img.SetGray16(col, row, v.gray(c.At(position, col, row)))
			}
		}

	case "col", "x", "X":
		if position >= c.Cols {
			return nil, fmt.Errorf("position %d exceeds %d columns", position, c.Cols)
		}
		img = image.NewGray16(image.Rect(0, 0, c.Planes, c.Rows))
		for p := 0; p < c.Planes; p++ {
			for row := 0; row < c.Rows; row++ {
				img.SetGray16(p, row, v.gray(c.At(p, position, row)))
			}
		}

	case "row", "y", "Y":
		if position >= c.Rows {
			return nil, fmt.Errorf("position %d exceeds %d rows", position, c.Rows)
		}
		img = image.NewGray16(image.Rect(0, 0, c.Cols, c.Planes))
		for p := 0; p < c.Planes; p++ {
			for col := 0; col < c.Cols; col++ {
				img.SetGray16(col, p, v.gray(c.At(p, col, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be plane, col or row)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along axis to outputDir
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) ([]string, error) {
	var count int
	switch axis {
	case "plane", "z", "Z":
		count = v.cube.Planes
	case "col", "x", "X":
		count = v.cube.Cols
	case "row", "y", "Y":
		count = v.cube.Rows
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be plane, col or row)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	files := make([]string, 0, count)
	for pos := 0; pos < count; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return files, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return files, err
		}
		files = append(files, filename)
	}
	return files, nil
}

// SaveArtifacts writes a quick-look image of every artifact to dir. Maps become
// NN_name.png, cubes a directory NN_name holding one image per plane.
func SaveArtifacts(dir string, artifacts []pipeline.Artifact) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}

	var written []string
	for _, a := range artifacts {
		if a.Cube != nil {
			v, err := NewViewer(a.Cube)
			if err != nil {
				return written, fmt.Errorf("preview %s: %w", a.Name, err)
			}
			files, err := v.SaveSliceSequence("plane", filepath.Join(dir, a.FileName("")))
			written = append(written, files...)
			if err != nil {
				return written, fmt.Errorf("preview %s: %w", a.Name, err)
			}
			continue
		}

		v, err := NewMapViewer(a.Map)
		if err != nil {
			return written, fmt.Errorf("preview %s: %w", a.Name, err)
		}
		img, err := v.ExtractSlice("plane", 0)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, a.FileName(".png"))
		if err := SaveSlice(img, path); err != nil {
			return written, fmt.Errorf("preview %s: %w", a.Name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
