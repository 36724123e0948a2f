package fit

import (
	"errors"
	"math"
	"testing"

	"fpreduce/internal/models"
)

// bowl is 0.04(x-3)² + 0.02(y+2)² + 5 around origin
func bowl(origin models.Point, cols, rows int) *models.Map {
	m := models.NewMap(cols, rows)
	for col := 0; col < cols; col++ {
		for row := 0; row < rows; row++ {
			x := float64(col) - origin.Col - 3
			y := float64(row) - origin.Row + 2
			m.Set(col, row, 0.04*x*x+0.02*y*y+5)
		}
	}
	return m
}

func TestFitParabolaRecoversCoefficients(t *testing.T) {
	origin := models.Point{Col: 20, Row: 15}
	data := bowl(origin, 40, 30)

	// garbage under the noise mask must not affect the fit
	noise := models.NewMask(40, 30)
	for _, px := range [][2]int{{1, 1}, {10, 20}, {33, 7}} {
		data.Set(px[0], px[1], 1e6)
		noise.Set(px[0], px[1], true)
	}

	p, err := FitParabola(data, noise, origin)
	if err != nil {
		t.Fatalf("FitParabola failed: %v", err)
	}

	want := map[string]float64{
		"x0y0": 5.44,
		"x1y0": -0.24,
		"x0y1": 0.08,
		"x2y0": 0.04,
		"x0y2": 0.02,
		"x1y1": 0,
	}
	for name, w := range want {
		if got := p.Coefficient(name); math.Abs(got-w) > 1e-6 {
			t.Errorf("Coefficient %s = %f, want %f", name, got, w)
		}
	}
	if !math.IsNaN(p.Coefficient("x3y0")) {
		t.Error("Expected NaN for an unknown coefficient")
	}

	if math.Abs(p.Ratio-2) > 1e-6 {
		t.Errorf("Expected ratio 2, got %f", p.Ratio)
	}
	if math.Abs(p.Vertex.Col-23) > 1e-4 || math.Abs(p.Vertex.Row-13) > 1e-4 {
		t.Errorf("Expected vertex (23, 13), got (%f, %f)", p.Vertex.Col, p.Vertex.Row)
	}
	if p.Pixels != 40*30-3 {
		t.Errorf("Expected %d fitted pixels, got %d", 40*30-3, p.Pixels)
	}
	if p.RMS > 1e-6 {
		t.Errorf("Expected a near-zero RMS, got %g", p.RMS)
	}
	if got := p.Model.At(5, 5); math.Abs(got-p.Eval(5, 5)) > 1e-12 {
		t.Errorf("Model map disagrees with Eval: %f vs %f", got, p.Eval(5, 5))
	}
	if got := p.Residue.At(10, 20); math.Abs(got-(1e6-p.Eval(10, 20))) > 1e-6 {
		t.Errorf("Unexpected residue at a masked pixel: %f", got)
	}
}

func TestFitParabolaFlatRatio(t *testing.T) {
	// z = 2 + x²: no y² term, so the ratio falls back to 0
	m := models.NewMap(12, 12)
	for col := 0; col < 12; col++ {
		for row := 0; row < 12; row++ {
			x := float64(col) - 6
			m.Set(col, row, 2+x*x)
		}
	}
	p, err := FitParabola(m, nil, models.Point{Col: 6, Row: 6})
	if err != nil {
		t.Fatalf("FitParabola failed: %v", err)
	}
	if p.Ratio != 0 {
		t.Errorf("Expected ratio 0 without a y² term, got %f", p.Ratio)
	}
}

func TestFitParabolaDegenerate(t *testing.T) {
	data := bowl(models.Point{}, 10, 10)
	noise := models.NewMask(10, 10)
	for i := range noise.Data {
		noise.Data[i] = true
	}

	p, err := FitParabola(data, noise, models.Point{})
	if !errors.Is(err, models.ErrDegenerateFit) {
		t.Fatalf("Expected ErrDegenerateFit, got %v", err)
	}
	if p == nil || p.Model == nil {
		t.Fatal("Expected a best-effort result alongside the diagnostic")
	}
}

func TestFitParabolaShapeMismatch(t *testing.T) {
	_, err := FitParabola(models.NewMap(4, 4), models.NewMask(3, 4), models.Point{})
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}
