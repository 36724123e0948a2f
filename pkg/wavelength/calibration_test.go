package wavelength

import (
	"errors"
	"math"
	"testing"

	"fpreduce/internal/models"
)

func haConstants() Constants {
	return Constants{
		CalibrationWavelength:           6598.953125,
		InterferenceOrder:               791,
		InterferenceReferenceWavelength: 6562.7797852,
		FreeSpectralRange:               8.36522123894,
		ScanningWavelength:              6616.89,
		ChannelsPerFSR:                  48,
	}
}

func TestFSR(t *testing.T) {
	c := haConstants()
	pc := 791 * 6562.7797852 / 6598.953125
	if got := c.FSR(); math.Abs(got-6598.953125/pc) > 1e-9 {
		t.Errorf("FSR = %f, want %f", got, 6598.953125/pc)
	}

	c.InterferenceOrder = 0
	want := 8.36522123894 * 6598.953125 / 6616.89
	if got := c.FSR(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Fallback FSR = %f, want %f", got, want)
	}
}

func TestCalibrateMonotonic(t *testing.T) {
	unwrapped := models.NewMap(5, 4)
	for i := range unwrapped.Data {
		unwrapped.Data[i] = float64(i) * 3.5
	}
	order := models.NewOrderMap(5, 4)
	order.Set(4, 3, 2)
	center := models.Point{Col: 2.2, Row: 0.9}

	cal, err := Calibrate(unwrapped, order, center, haConstants())
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	if got := cal.Map.At(2, 1); math.Abs(got-6598.953125) > 1e-9 {
		t.Errorf("Expected the calibration wavelength at the center, got %f", got)
	}
	for i := 1; i < len(cal.Map.Data); i++ {
		if cal.Map.Data[i] <= cal.Map.Data[i-1] {
			t.Fatalf("Wavelength not increasing with phase at %d", i)
		}
	}
	// one order of phase spans one free spectral range
	step := cal.Map.Data[1] - cal.Map.Data[0]
	if math.Abs(step*48/3.5-cal.FSR) > 1e-9 {
		t.Errorf("Expected %f Å per order, got %f", cal.FSR, step*48/3.5)
	}
	if cal.Orders != 3 {
		t.Errorf("Expected 3 orders, got %d", cal.Orders)
	}
	if unwrapped.Data[1] != 3.5 {
		t.Error("Calibrate modified its input")
	}
}

func TestCalibrateErrors(t *testing.T) {
	unwrapped := models.NewMap(3, 3)

	if _, err := Calibrate(unwrapped, models.NewOrderMap(2, 3), models.Point{}, haConstants()); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	c := haConstants()
	c.CalibrationWavelength = 0
	if _, err := Calibrate(unwrapped, models.NewOrderMap(3, 3), models.Point{}, c); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}

	c = haConstants()
	c.ChannelsPerFSR = 0
	if _, err := Calibrate(unwrapped, models.NewOrderMap(3, 3), models.Point{}, c); !errors.Is(err, models.ErrDegenerateFit) {
		t.Errorf("Expected ErrDegenerateFit, got %v", err)
	}
}
