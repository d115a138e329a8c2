// Package sim provides in-process device implementations used by tests and
// dry runs: a spectrometer synthesizing interferograms for a configurable
// set of reflectors, and an instantly-settling motion stage.
package sim

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/vl-photonics/oct-controller/internal/device"
)

// Reflector is a synthetic sample interface at a fixed optical path
// difference.
type Reflector struct {
	OPD       float64 // meters
	Amplitude float64 // relative to the source envelope
}

// Spectrometer synthesizes raw frames the way a real spectrometer sees an
// interferometer: a Gaussian source envelope modulated by one cosine fringe
// per reflector, I(k) = E(λ)·(1 + Σ aᵢ·cos(k·dᵢ)), plus optional detector
// noise. The wavelength axis ascends, matching the HR-series detector
// readout order.
type Spectrometer struct {
	wavelengths []float64
	exposure    time.Duration
	reflectors  []Reflector
	noise       float64
	rng         *rand.Rand
}

// SpectrometerOption configures a simulated spectrometer.
type SpectrometerOption func(*Spectrometer)

// WithReflectors sets the synthetic sample interfaces.
func WithReflectors(refs ...Reflector) SpectrometerOption {
	return func(s *Spectrometer) { s.reflectors = refs }
}

// WithNoise adds zero-mean uniform detector noise of the given amplitude.
func WithNoise(amplitude float64) SpectrometerOption {
	return func(s *Spectrometer) { s.noise = amplitude }
}

// WithSeed fixes the noise generator seed for reproducible frames.
func WithSeed(seed int64) SpectrometerOption {
	return func(s *Spectrometer) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewSpectrometer builds a simulated spectrometer with pixels samples spread
// uniformly over [lambdaMinNM, lambdaMaxNM] nanometers.
func NewSpectrometer(pixels int, lambdaMinNM, lambdaMaxNM float64, opts ...SpectrometerOption) *Spectrometer {
	wl := make([]float64, pixels)
	for i := range wl {
		wl[i] = lambdaMinNM + (lambdaMaxNM-lambdaMinNM)*float64(i)/float64(pixels-1)
	}
	s := &Spectrometer{
		wavelengths: wl,
		exposure:    time.Millisecond,
		rng:         rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read blocks for the exposure time, then returns a synthesized frame.
func (s *Spectrometer) Read(ctx context.Context) (device.Frame, error) {
	if s.exposure > 0 {
		t := time.NewTimer(s.exposure)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return device.Frame{}, ctx.Err()
		case <-t.C:
		}
	}

	n := len(s.wavelengths)
	center := (s.wavelengths[0] + s.wavelengths[n-1]) / 2
	sigma := (s.wavelengths[n-1] - s.wavelengths[0]) / 4

	intensity := make([]float64, n)
	for i, wl := range s.wavelengths {
		d := (wl - center) / sigma
		envelope := math.Exp(-d * d)

		fringes := 1.0
		k := 2 * math.Pi / (wl * 1e-9)
		for _, r := range s.reflectors {
			fringes += r.Amplitude * math.Cos(k*r.OPD)
		}

		v := envelope * fringes
		if s.noise > 0 {
			v += s.noise * (2*s.rng.Float64() - 1)
		}
		intensity[i] = v
	}

	return device.Frame{Wavelengths: s.wavelengths, Intensity: intensity}, nil
}

// SetExposure sets the simulated integration time.
func (s *Spectrometer) SetExposure(d time.Duration) error {
	s.exposure = d
	return nil
}

// Exposure returns the simulated integration time.
func (s *Spectrometer) Exposure() time.Duration { return s.exposure }

var _ device.Spectrometer = (*Spectrometer)(nil)
