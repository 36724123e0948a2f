package phasemap

import (
	"testing"

	"fpreduce/internal/models"
)

func TestDilateSinglePixelDisk(t *testing.T) {
	const size, radius = 21, 3
	mask := models.NewMask(size, size)
	mask.Set(10, 10, true)

	dilated := Dilate(mask, radius)
	for col := 0; col < size; col++ {
		for row := 0; row < size; row++ {
			dc, dr := col-10, row-10
			want := dc*dc+dr*dr <= radius*radius
			if got := dilated.At(col, row); got != want {
				t.Errorf("Pixel (%d, %d) at squared distance %d: flagged=%v, want %v", col, row, dc*dc+dr*dr, got, want)
			}
		}
	}
	if mask.Count() != 1 {
		t.Error("Dilate modified its input")
	}
}

func TestDilateDoesNotWrap(t *testing.T) {
	mask := models.NewMask(10, 8)
	mask.Set(0, 0, true)

	dilated := Dilate(mask, 2)
	if !dilated.At(2, 0) || !dilated.At(1, 1) {
		t.Error("Expected pixels within the radius to be flagged")
	}
	if dilated.At(9, 0) || dilated.At(0, 7) || dilated.At(9, 7) {
		t.Error("Dilation wrapped around the array edge")
	}
	if got := dilated.Count(); got != 6 {
		t.Errorf("Expected 6 flagged pixels in the corner quarter disk, got %d", got)
	}
}

func TestDilateZeroRadius(t *testing.T) {
	mask := models.NewMask(4, 4)
	mask.Set(1, 2, true)
	dilated := Dilate(mask, 0)
	if dilated.Count() != 1 || !dilated.At(1, 2) {
		t.Error("Radius 0 should return a copy of the mask")
	}
}

func TestDetectNoiseIsolatedSpike(t *testing.T) {
	wrapped := constantMap(10, 10, 2)
	wrapped.Set(5, 5, 6)
	// a spike in the corner has only three neighbours and is tolerated
	wrapped.Set(0, 0, 6)

	params := DefaultNoiseParams()
	params.MaskRadius = 0
	noise, err := DetectNoise(wrapped, params, nil)
	if err != nil {
		t.Fatalf("DetectNoise failed: %v", err)
	}
	if noise.Count() != 1 || !noise.At(5, 5) {
		t.Errorf("Expected only (5, 5) flagged, got %d pixels", noise.Count())
	}

	params.MaskRadius = 1
	noise, err = DetectNoise(wrapped, params, nil)
	if err != nil {
		t.Fatalf("DetectNoise failed: %v", err)
	}
	if noise.Count() != 5 {
		t.Errorf("Expected the spike and its 4 nearest neighbours flagged, got %d", noise.Count())
	}
	if wrapped.At(5, 5) != 6 {
		t.Error("DetectNoise modified its input")
	}
}

func TestDetectNoiseIgnoresWraps(t *testing.T) {
	// values at both ends of the period are neighbours on the phase circle
	wrapped := constantMap(6, 6, 0.2)
	wrapped.Set(3, 3, 7.9)
	wrapped.Set(0, 5, 8)

	params := DefaultNoiseParams()
	noise, err := DetectNoise(wrapped, params, nil)
	if err != nil {
		t.Fatalf("DetectNoise failed: %v", err)
	}
	if noise.Count() != 0 {
		t.Errorf("Expected no noise across a wrap, got %d pixels", noise.Count())
	}
}

func TestDetectNoiseTwoRingsClean(t *testing.T) {
	noise, err := DetectNoise(twoRingWrapped(), DefaultNoiseParams(), nil)
	if err != nil {
		t.Fatalf("DetectNoise failed: %v", err)
	}
	if noise.Count() != 0 {
		t.Errorf("Expected a noise-free map, got %d noisy pixels", noise.Count())
	}
}
