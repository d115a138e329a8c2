package dsp

import "math"

// AxialResolution returns the theoretical axial resolution in micrometers of
// a source spanning [lambdaMinNM, lambdaMaxNM] nanometers, assuming a
// Gaussian spectral envelope centered on the mean of the bounds:
//
//	δz = (2·ln2/π) · λc²/Δλ
func AxialResolution(lambdaMinNM, lambdaMaxNM float64) float64 {
	min := lambdaMinNM * 1e-9
	max := lambdaMaxNM * 1e-9
	center := (min + max) / 2
	res := (2 * math.Ln2 / math.Pi) * center * center / (max - min)
	return res * 1e6
}

// MaxDepthRange returns the maximum imaging depth in millimeters for a
// spectrometer spanning [lambdaMinNM, lambdaMaxNM] nanometers across nPixels
// detector pixels: z_max = π/δk with δk the per-pixel wavenumber increment,
// so the range scales linearly with pixel count.
func MaxDepthRange(lambdaMinNM, lambdaMaxNM float64, nPixels int) float64 {
	kMax := 2 * math.Pi / (lambdaMinNM * 1e-9)
	kMin := 2 * math.Pi / (lambdaMaxNM * 1e-9)
	dk := (kMax - kMin) / float64(nPixels)
	return math.Pi / dk * 1e3
}
