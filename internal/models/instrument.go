package models

// Instrument holds the validated optical and calibration constants of one run.
// Wavelengths are in Angstrom, gaps and pixel sizes in microns, focal length in meters.
type Instrument struct {
	Beam                            float64
	CalibrationWavelength           float64
	Finesse                         float64
	FocalLength                     float64
	FreeSpectralRange               float64
	Gap                             float64
	InitialGap                      float64
	InterferenceOrder               float64
	InterferenceReferenceWavelength float64
	ScanningWavelength              float64
	PixelSize                       float64
}

// Metadata returns the constants keyed by their configuration names
func (in Instrument) Metadata() map[string]float64 {
	return map[string]float64{
		"beam":                              in.Beam,
		"calibration_wavelength":            in.CalibrationWavelength,
		"finesse":                           in.Finesse,
		"focal_length":                      in.FocalLength,
		"free_spectral_range":               in.FreeSpectralRange,
		"gap":                               in.Gap,
		"initial_gap":                       in.InitialGap,
		"interference_order":                in.InterferenceOrder,
		"interference_reference_wavelength": in.InterferenceReferenceWavelength,
		"scanning_wavelength":               in.ScanningWavelength,
		"pixel_size":                        in.PixelSize,
	}
}
