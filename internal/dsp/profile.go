package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// DepthProfile computes the full-range depth profile of a resampled
// interferogram: the FFT of the real signal restricted to non-negative
// optical path differences, paired with the OPD axis in meters. dk is the
// uniform wavenumber grid spacing the signal was resampled onto.
//
// The OPD axis follows the FFT bin layout for sample spacing dk/2π, so
// opd[i] = 2π·i/(n·dk) for the retained half.
func DepthProfile(signal []float64, dk float64) ([]complex128, []float64) {
	n := len(signal)
	if n == 0 {
		return nil, nil
	}

	spectrum := fft.FFTReal(signal)

	// Non-negative frequencies occupy the first ceil(n/2) bins; for even n
	// the Nyquist bin is negative by convention and gets dropped with the
	// rest of the mirror half.
	half := (n + 1) / 2
	z := spectrum[:half]

	opd := make([]float64, half)
	for i := range opd {
		opd[i] = 2 * math.Pi * float64(i) / (float64(n) * dk)
	}
	return z, opd
}
