package dsp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// Interpolation selects how intensities are mapped onto the uniform
// wavenumber grid.
type Interpolation int

const (
	InterpCubic  Interpolation = iota // natural cubic spline
	InterpLinear                      // piecewise linear
)

func (m Interpolation) String() string {
	switch m {
	case InterpCubic:
		return "cubic"
	case InterpLinear:
		return "linear"
	default:
		return fmt.Sprintf("interpolation(%d)", int(m))
	}
}

// Wavelength-axis cache tolerances. Two axes within these bounds are
// considered the same calibration and do not trigger a grid rebuild.
const (
	cacheRelTol = 1e-5
	cacheAbsTol = 1e-8
)

// Resampler converts a spectrometer wavelength axis (nanometers) to an
// ascending wavenumber grid k = 2π/λ and interpolates intensities onto a
// uniform grid over the same span. The derived grids are cached against the
// wavelength axis and rebuilt only when the axis drifts beyond tolerance,
// since the calibration is stable across an entire scan.
//
// A Resampler is not safe for concurrent use; the processing pipeline owns
// exactly one.
type Resampler struct {
	wavelengths []float64 // axis the cache was built from, nm
	k           []float64 // ascending wavenumber grid, rad/m
	kLin        []float64 // uniform grid spanning [k[0], k[n-1]]
	dk          float64
	sampleRate  float64 // 2π/dk
	mirrored    bool    // raw axis order is reversed relative to k
	generation  uint64
}

// Resample maps one spectrum onto the uniform wavenumber grid. The
// wavelength axis must be strictly monotonic in either direction and match
// the intensity length. A cubic request falls back to linear interpolation
// when the spline fit fails, never to an error.
func (r *Resampler) Resample(wavelengthsNM, intensity []float64, method Interpolation) ([]float64, error) {
	if len(wavelengthsNM) != len(intensity) {
		return nil, fmt.Errorf("axis length %d does not match intensity length %d", len(wavelengthsNM), len(intensity))
	}
	if len(wavelengthsNM) < 2 {
		return nil, errors.New("need at least two samples to resample")
	}

	if !r.cacheValid(wavelengthsNM) {
		if err := r.rebuild(wavelengthsNM); err != nil {
			return nil, err
		}
	}

	ys := intensity
	if r.mirrored {
		ys = make([]float64, len(intensity))
		for i, v := range intensity {
			ys[len(intensity)-1-i] = v
		}
	}

	var pred interp.Predictor
	switch method {
	case InterpCubic:
		var nc interp.NaturalCubic
		if err := nc.Fit(r.k, ys); err == nil {
			pred = &nc
			break
		}
		fallthrough
	case InterpLinear:
		var pl interp.PiecewiseLinear
		if err := pl.Fit(r.k, ys); err != nil {
			return nil, fmt.Errorf("fitting interpolant: %w", err)
		}
		pred = &pl
	default:
		return nil, fmt.Errorf("unknown interpolation method %v", method)
	}

	out := make([]float64, len(r.kLin))
	for i, x := range r.kLin {
		out[i] = pred.Predict(x)
	}
	return out, nil
}

// KLinear returns the uniform wavenumber grid of the current cache. The
// returned slice is shared; callers must not modify it.
func (r *Resampler) KLinear() []float64 { return r.kLin }

// DK returns the uniform grid spacing in rad/m.
func (r *Resampler) DK() float64 { return r.dk }

// SampleRate returns the spatial sample rate 2π/dk of the uniform grid.
func (r *Resampler) SampleRate() float64 { return r.sampleRate }

// Generation counts cache rebuilds. It increments once per calibration
// change, not per spectrum.
func (r *Resampler) Generation() uint64 { return r.generation }

func (r *Resampler) cacheValid(wavelengthsNM []float64) bool {
	if len(r.wavelengths) != len(wavelengthsNM) {
		return false
	}
	for i, w := range wavelengthsNM {
		if math.Abs(w-r.wavelengths[i]) > cacheAbsTol+cacheRelTol*math.Abs(r.wavelengths[i]) {
			return false
		}
	}
	return true
}

func (r *Resampler) rebuild(wavelengthsNM []float64) error {
	n := len(wavelengthsNM)
	ascending := wavelengthsNM[1] > wavelengthsNM[0]
	for i := 1; i < n; i++ {
		if ascending && wavelengthsNM[i] <= wavelengthsNM[i-1] {
			return errors.New("wavelength axis must be strictly monotonic")
		}
		if !ascending && wavelengthsNM[i] >= wavelengthsNM[i-1] {
			return errors.New("wavelength axis must be strictly monotonic")
		}
	}

	// k = 2π/λ inverts the axis direction: an ascending wavelength axis
	// yields a descending wavenumber axis, which gets reversed so the
	// interpolators see strictly increasing abscissae.
	k := make([]float64, n)
	for i, w := range wavelengthsNM {
		k[i] = 2 * math.Pi / (w * 1e-9)
	}
	if ascending {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			k[i], k[j] = k[j], k[i]
		}
	}

	kLin := make([]float64, n)
	span := k[n-1] - k[0]
	for i := range kLin {
		kLin[i] = k[0] + span*float64(i)/float64(n-1)
	}
	kLin[n-1] = k[n-1] // exact endpoint keeps predictions in the fitted range

	r.wavelengths = append(r.wavelengths[:0], wavelengthsNM...)
	r.k = k
	r.kLin = kLin
	r.dk = span / float64(n-1)
	r.sampleRate = 2 * math.Pi / r.dk
	r.mirrored = ascending
	r.generation++
	return nil
}
