package device

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Gamma exponent safety limits. Values outside this range either flatten the
// spectrum into noise or saturate it, so requests are clamped rather than
// rejected.
const (
	GammaMin = 0.1
	GammaMax = 3.0
)

// Corrected decorates a Spectrometer with the standard acquisition
// corrections: frame averaging, dark-level subtraction (removing the frame
// minimum) and gamma compression. Corrections apply in that order; each is
// off by default.
type Corrected struct {
	src      Spectrometer
	averages int
	gamma    float64
	dark     bool
}

// CorrectedOption configures a Corrected spectrometer.
type CorrectedOption func(*Corrected)

// WithAverages sets the number of raw frames averaged per Read. Values below
// one are treated as one.
func WithAverages(n int) CorrectedOption {
	return func(c *Corrected) {
		if n > 1 {
			c.averages = n
		}
	}
}

// WithGamma sets the gamma exponent, clamped to [GammaMin, GammaMax].
// Exponents below one compress highlights (0.5 is a square root); above one
// they expand contrast. 1.0 disables the correction.
func WithGamma(gamma float64) CorrectedOption {
	return func(c *Corrected) {
		c.gamma = math.Min(GammaMax, math.Max(GammaMin, gamma))
	}
}

// WithDarkSubtraction enables dark-level subtraction.
func WithDarkSubtraction() CorrectedOption {
	return func(c *Corrected) { c.dark = true }
}

// NewCorrected wraps src with the configured corrections.
func NewCorrected(src Spectrometer, opts ...CorrectedOption) *Corrected {
	c := &Corrected{
		src:      src,
		averages: 1,
		gamma:    1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read acquires the configured number of frames, averages them, and applies
// dark subtraction and gamma correction to the average.
func (c *Corrected) Read(ctx context.Context) (Frame, error) {
	first, err := c.src.Read(ctx)
	if err != nil {
		return Frame{}, err
	}

	acc := make([]float64, len(first.Intensity))
	copy(acc, first.Intensity)

	for i := 1; i < c.averages; i++ {
		f, err := c.src.Read(ctx)
		if err != nil {
			return Frame{}, fmt.Errorf("averaging frame %d: %w", i+1, err)
		}
		if len(f.Intensity) != len(acc) {
			return Frame{}, fmt.Errorf("averaging frame %d: pixel count changed from %d to %d", i+1, len(acc), len(f.Intensity))
		}
		for j, v := range f.Intensity {
			acc[j] += v
		}
	}
	if c.averages > 1 {
		inv := 1 / float64(c.averages)
		for j := range acc {
			acc[j] *= inv
		}
	}

	if c.dark {
		dark := math.Inf(1)
		for _, v := range acc {
			if v < dark {
				dark = v
			}
		}
		for j := range acc {
			acc[j] -= dark
		}
	}

	if c.gamma != 1.0 {
		for j := range acc {
			if acc[j] < 0 {
				acc[j] = 0
			}
			acc[j] = math.Pow(acc[j], c.gamma)
		}
	}

	return Frame{Wavelengths: first.Wavelengths, Intensity: acc}, nil
}

// SetExposure forwards to the wrapped spectrometer.
func (c *Corrected) SetExposure(d time.Duration) error { return c.src.SetExposure(d) }

// Exposure forwards to the wrapped spectrometer.
func (c *Corrected) Exposure() time.Duration { return c.src.Exposure() }

var _ Spectrometer = (*Corrected)(nil)
