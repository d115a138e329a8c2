package dsp

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// CZT computes the chirp Z-transform of x over the span [f1, f2), sampled at
// m output points (adjusted by SnapResolution), via Bluestein's FFT-based
// convolution. It returns the transform and the matching output axis
// fz[i] = f1 + (f2-f1)*i/m'. The axis is linear regardless of input spacing.
//
// For the OCT depth path f1 and f2 are OPD bounds in meters and sampleRate is
// the k-space sample rate 2π/dk; the generic frequency form works the same.
//
// Degenerate inputs (empty signal, f1 == f2) yield non-finite output values
// rather than an error; guarding against invalid windows belongs to the
// caller.
func CZT(x []complex128, f1, f2, sampleRate float64, m int) ([]complex128, []float64) {
	k := len(x)
	m = SnapResolution(m)

	// Spiral start point on the unit circle and per-step rotation.
	a := cmplx.Exp(complex(0, -2*math.Pi*f1/sampleRate))
	beta := (f2 - f1) / (float64(m) * sampleRate)
	wAngle := 2 * math.Pi * beta

	// Chirp premultiply: y[n] = x[n] * A^(-n) * W^(n²/2). The n²/2 exponent
	// is evaluated in float64 so large k cannot overflow an integer square.
	nfft := nextPow2(k + m - 1)
	y := make([]complex128, nfft)
	for n := 0; n < k; n++ {
		fn := float64(n)
		y[n] = x[n] * cmplx.Pow(a, complex(-fn, 0)) * chirp(wAngle, fn*fn/2)
	}

	// Convolution kernel: W^(-n²/2) for n = 0..m-1, a zero gap, then the
	// mirrored tail W^(-n²/2) for n = k-1..1 occupying the top of the buffer.
	v := make([]complex128, nfft)
	for n := 0; n < m; n++ {
		fn := float64(n)
		v[n] = chirp(wAngle, -fn*fn/2)
	}
	for i, n := 0, k-1; n >= 1; i, n = i+1, n-1 {
		fn := float64(n)
		v[nfft-k+1+i] = chirp(wAngle, -fn*fn/2)
	}

	fy := fft.FFT(y)
	fv := fft.FFT(v)
	for i := range fy {
		fy[i] *= fv[i]
	}
	g := fft.IFFT(fy)

	// Chirp postmultiply on the first m samples of the convolution.
	z := make([]complex128, m)
	fz := make([]float64, m)
	span := f2 - f1
	for mm := 0; mm < m; mm++ {
		fm := float64(mm)
		z[mm] = g[mm] * chirp(wAngle, fm*fm/2)
		fz[mm] = f1 + span*fm/float64(m)
	}

	return z, fz
}

// CZTReal promotes a real signal to complex and computes its CZT.
func CZTReal(x []float64, f1, f2, sampleRate float64, m int) ([]complex128, []float64) {
	xc := make([]complex128, len(x))
	for i, v := range x {
		xc[i] = complex(v, 0)
	}
	return CZT(xc, f1, f2, sampleRate, m)
}

// SnapResolution adjusts a requested output length to the nearer power of
// two: with potHi the smallest power of two >= m and potLo = potHi/2, the
// result is potLo when |m-potLo| < |m-potHi| and potHi otherwise, so an
// exact midpoint resolves upward.
func SnapResolution(m int) int {
	potHi := nextPow2(m)
	potLo := potHi / 2
	if abs(m-potLo) < abs(m-potHi) {
		return potLo
	}
	return potHi
}

// chirp returns W^p for W = exp(i*wAngle), i.e. exp(i*wAngle*p). W lies on
// the unit circle, so the power reduces to a pure rotation.
func chirp(wAngle, p float64) complex128 {
	return cmplx.Exp(complex(0, wAngle*p))
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
