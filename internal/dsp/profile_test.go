package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

func TestDepthProfile_LocalizesReflector(t *testing.T) {
	const (
		n   = 256
		dk  = 500.0 // rad/m per sample
		bin = 20
	)

	// A single reflector at OPD z0 produces cos(k·z0); place z0 exactly on
	// an FFT bin so the peak lands there without leakage.
	z0 := 2 * math.Pi * bin / (n * dk)
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = math.Cos(float64(i) * dk * z0)
	}

	spectrum, opd := DepthProfile(signal, dk)

	if len(spectrum) != n/2 {
		t.Fatalf("expected %d non-negative bins, got %d", n/2, len(spectrum))
	}
	if len(opd) != len(spectrum) {
		t.Fatalf("axis length %d does not match spectrum length %d", len(opd), len(spectrum))
	}
	if opd[0] != 0 {
		t.Errorf("axis starts at %g, want 0", opd[0])
	}

	best := 0
	for i := range spectrum {
		if cmplx.Abs(spectrum[i]) > cmplx.Abs(spectrum[best]) {
			best = i
		}
	}
	if best != bin {
		t.Errorf("peak at bin %d, want %d", best, bin)
	}
	if math.Abs(opd[best]-z0) > 1e-12 {
		t.Errorf("peak OPD = %g, want %g", opd[best], z0)
	}
}

func TestDepthProfile_OddLength(t *testing.T) {
	const n = 255
	signal := make([]float64, n)
	signal[0] = 1

	spectrum, opd := DepthProfile(signal, 500)
	if want := (n + 1) / 2; len(spectrum) != want {
		t.Fatalf("expected %d non-negative bins, got %d", want, len(spectrum))
	}
	for i := 1; i < len(opd); i++ {
		if opd[i] <= opd[i-1] {
			t.Fatalf("axis not strictly increasing at %d", i)
		}
	}
}

func TestDepthProfile_Empty(t *testing.T) {
	spectrum, opd := DepthProfile(nil, 500)
	if spectrum != nil || opd != nil {
		t.Error("expected nil results for empty input")
	}
}
