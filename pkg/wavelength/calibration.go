// Package wavelength converts an unwrapped phase map into a wavelength map using
// the Fabry-Perot order equation p·λ = 2·n·e·cosθ.
package wavelength

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"fpreduce/internal/models"
)

// Constants holds the instrument values the calibration depends on. Wavelengths
// are in Angstroms.
type Constants struct {
	CalibrationWavelength           float64
	InterferenceOrder               float64
	InterferenceReferenceWavelength float64
	FreeSpectralRange               float64
	ScanningWavelength              float64

	// ChannelsPerFSR is the phase span of one interference order, the maximum of
	// the wrapped phase map
	ChannelsPerFSR float64
}

// NewConstants picks the calibration constants out of the instrument description
func NewConstants(in models.Instrument, channelsPerFSR float64) Constants {
	return Constants{
		CalibrationWavelength:           in.CalibrationWavelength,
		InterferenceOrder:               in.InterferenceOrder,
		InterferenceReferenceWavelength: in.InterferenceReferenceWavelength,
		FreeSpectralRange:               in.FreeSpectralRange,
		ScanningWavelength:              in.ScanningWavelength,
		ChannelsPerFSR:                  channelsPerFSR,
	}
}

// OrderAtCalibration is the interference order at the calibration wavelength,
// scaled from the order given at the reference wavelength
func (c Constants) OrderAtCalibration() float64 {
	if c.CalibrationWavelength == 0 {
		return 0
	}
	return c.InterferenceOrder * c.InterferenceReferenceWavelength / c.CalibrationWavelength
}

// FSR returns the free spectral range at the calibration wavelength. Without an
// interference order it scales the configured range from the scanning wavelength.
func (c Constants) FSR() float64 {
	if pc := c.OrderAtCalibration(); c.InterferenceOrder > 0 && pc > 0 {
		return c.CalibrationWavelength / pc
	}
	if c.ScanningWavelength > 0 {
		return c.FreeSpectralRange * c.CalibrationWavelength / c.ScanningWavelength
	}
	return c.FreeSpectralRange
}

// Calibration is a wavelength map with the values used to derive it
type Calibration struct {
	Map *models.Map

	// Reference is the unwrapped phase at the ring center, mapped to the
	// calibration wavelength
	Reference float64

	// FSR is the free spectral range in Angstroms
	FSR float64

	// Dispersion is Angstroms per phase channel
	Dispersion float64

	// Orders is the number of interference orders spanned by the map
	Orders int
}

// Calibrate maps every unwrapped phase value U to
//
//	λ = λc + (U - U(center))·FSR/C
//
// where C is the number of channels in one interference order. The result is
// strictly increasing in U.
func Calibrate(unwrapped *models.Map, order *models.OrderMap, center models.Point, c Constants) (*Calibration, error) {
	if err := unwrapped.Validate("unwrapped phase map"); err != nil {
		return nil, err
	}
	if err := models.CheckShape("order map", order.Cols, order.Rows, unwrapped.Cols, unwrapped.Rows); err != nil {
		return nil, err
	}
	if c.CalibrationWavelength <= 0 {
		return nil, fmt.Errorf("%w: calibration wavelength must be positive", models.ErrConfiguration)
	}
	fsr := c.FSR()
	if fsr <= 0 || math.IsNaN(fsr) || math.IsInf(fsr, 0) {
		return nil, fmt.Errorf("%w: free spectral range %g is not usable", models.ErrConfiguration, fsr)
	}
	if c.ChannelsPerFSR <= 0 {
		return nil, fmt.Errorf("%w: phase span %g per order", models.ErrDegenerateFit, c.ChannelsPerFSR)
	}

	col, row := center.Pixel()
	col = min(max(col, 0), unwrapped.Cols-1)
	row = min(max(row, 0), unwrapped.Rows-1)
	ref := unwrapped.At(col, row)
	dispersion := fsr / c.ChannelsPerFSR

	out := models.NewMap(unwrapped.Cols, unwrapped.Rows)
	copy(out.Data, unwrapped.Data)
	floats.AddConst(-ref, out.Data)
	floats.Scale(dispersion, out.Data)
	floats.AddConst(c.CalibrationWavelength, out.Data)

	orders := 0
	for _, o := range order.Data {
		orders = max(orders, o+1)
	}

	return &Calibration{
		Map:        out,
		Reference:  ref,
		FSR:        fsr,
		Dispersion: dispersion,
		Orders:     orders,
	}, nil
}
