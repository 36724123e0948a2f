package phasemap

import (
	"errors"
	"testing"

	"fpreduce/internal/models"
)

func TestUnwrapIdentity(t *testing.T) {
	wrapped := &models.Map{Data: []float64{0, 1.5, 3, 2, 0.5, 2.5}, Cols: 2, Rows: 3}
	order := &models.OrderMap{Data: []int{0, 1, 2, 0, 3, 1}, Cols: 2, Rows: 3}

	unwrapped, err := Unwrap(wrapped, order)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	want := []float64{0, 4.5, 9, 2, 9.5, 5.5}
	for i := range want {
		if unwrapped.Data[i] != want[i] {
			t.Errorf("Unwrapped[%d] = %f, want %f", i, unwrapped.Data[i], want[i])
		}
	}
	if wrapped.Data[1] != 1.5 || order.Data[4] != 3 {
		t.Error("Unwrap modified its inputs")
	}

	if _, err := Unwrap(wrapped, models.NewOrderMap(3, 2)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestMapBorderDistances(t *testing.T) {
	wrapped := twoRingWrapped()
	center, err := FindRingCenter(wrapped, DefaultRingOptions())
	if err != nil {
		t.Fatalf("FindRingCenter failed: %v", err)
	}

	noise := models.NewMask(wrapped.Cols, wrapped.Rows)
	masked := center.Rings[0].Pixels[0]
	noise.Data[masked] = true

	distances, err := MapBorderDistances(wrapped, center, noise)
	if err != nil {
		t.Fatalf("MapBorderDistances failed: %v", err)
	}
	radii := center.Radii()
	nonzero := 0
	for i, v := range distances.Data {
		if v == 0 {
			continue
		}
		nonzero++
		if v != radii[0] && v != radii[1] {
			t.Fatalf("Border value %f at %d is not a ring radius %v", v, i, radii)
		}
	}
	if nonzero != len(center.Rings[0].Pixels)+len(center.Rings[1].Pixels)-1 {
		t.Errorf("Expected every unmasked ring pixel in the border map, got %d", nonzero)
	}
	if distances.Data[masked] != 0 {
		t.Error("Noisy pixel kept in the border map")
	}
}

func TestOrderMapMonotonicAlongRays(t *testing.T) {
	wrapped := twoRingWrapped()
	center, err := FindRingCenter(wrapped, DefaultRingOptions())
	if err != nil {
		t.Fatalf("FindRingCenter failed: %v", err)
	}
	distances, err := MapBorderDistances(wrapped, center, models.NewMask(wrapped.Cols, wrapped.Rows))
	if err != nil {
		t.Fatalf("MapBorderDistances failed: %v", err)
	}
	order, err := BuildOrderMap(distances, center, wrapped)
	if err != nil {
		t.Fatalf("BuildOrderMap failed: %v", err)
	}

	for _, o := range order.Data {
		if o < 0 {
			t.Fatal("Negative order")
		}
	}

	for _, dir := range neighbourOffsets {
		prev := -1
		for k := 0; ; k++ {
			col, row := 50+k*dir[0], 50+k*dir[1]
			if col < 0 || col >= order.Cols || row < 0 || row >= order.Rows {
				break
			}
			o := order.At(col, row)
			if o < prev {
				t.Fatalf("Order decreases along ray %v at (%d, %d): %d after %d", dir, col, row, o, prev)
			}
			prev = o
		}
	}

	// ground truth away from the fringe borders
	cases := []struct {
		col, row, want int
	}{
		{50, 50, 0},
		{55, 50, 0},
		{50, 65, 1},
		{35, 50, 1},
		{74, 50, 2},
		{95, 95, 2},
	}
	for _, c := range cases {
		if got := order.At(c.col, c.row); got != c.want {
			t.Errorf("Order at (%d, %d) = %d, want %d", c.col, c.row, got, c.want)
		}
	}
}

func TestBuildOrderMapWithoutRings(t *testing.T) {
	wrapped := constantMap(5, 5, 1)
	order, err := BuildOrderMap(models.NewMap(5, 5), &models.RingCenter{Center: models.Point{Col: 2, Row: 2}}, wrapped)
	if err != nil {
		t.Fatalf("BuildOrderMap failed: %v", err)
	}
	for _, o := range order.Data {
		if o != 0 {
			t.Fatal("Expected order 0 everywhere without rings")
		}
	}
}

func TestOrderMapFollowsRingRadii(t *testing.T) {
	wrapped := constantMap(9, 1, 1)
	center := &models.RingCenter{
		Center: models.Point{Col: 0, Row: 0},
		Rings:  []models.Ring{{Radius: 6}, {Radius: 3}, {Radius: 3 + 1e-9}},
	}
	stray := models.NewMap(9, 1)
	stray.Set(4, 0, 4.5)

	order, err := BuildOrderMap(stray, center, wrapped)
	if err != nil {
		t.Fatalf("BuildOrderMap failed: %v", err)
	}
	want := []int{0, 0, 0, 1, 1, 1, 2, 2, 2}
	for col, w := range want {
		if got := order.At(col, 0); got != w {
			t.Errorf("Order at col %d = %d, want %d", col, got, w)
		}
	}
}
