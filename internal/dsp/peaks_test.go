package dsp

import (
	"math"
	"testing"
)

// axisMicrons builds an ascending axis with 1 µm spacing, which makes the
// default 3 µm width floor equal to exactly 3 samples.
func axisMicrons(n int) []float64 {
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = float64(i) * 1e-6
	}
	return axis
}

func toComplex(mag []float64) []complex128 {
	z := make([]complex128, len(mag))
	for i, v := range mag {
		z[i] = complex(v, 0)
	}
	return z
}

func TestPeakDetector_StrictTier(t *testing.T) {
	const n = 101
	mag := make([]float64, n)
	for i := range mag {
		d := float64(i-50) / 10
		mag[i] = 10 * math.Exp(-d*d)
	}

	axis := axisMicrons(n)
	d := NewPeakDetector(5)
	locs, heights, idx := d.Detect(toComplex(mag), axis)

	if len(idx) != 1 {
		t.Fatalf("expected 1 peak, got %d", len(idx))
	}
	if idx[0] != 50 {
		t.Errorf("peak index = %d, want 50", idx[0])
	}
	if locs[0] != axis[50] {
		t.Errorf("peak location = %g, want %g", locs[0], axis[50])
	}
	if heights[0] != 10 {
		t.Errorf("peak height = %g, want 10", heights[0])
	}
}

// A small bump riding the tail of a decaying baseline is below the strict
// height floor (30 % of max) but has enough prominence and width for the
// relaxed pass.
func TestPeakDetector_RelaxedTier(t *testing.T) {
	const n = 101
	mag := make([]float64, n)
	for i := range mag {
		mag[i] = 10 * float64(100-i) / 100
	}
	bump := []float64{0, 0.5, 1.0, 1.5, 1.0, 0.5, 0}
	for i, b := range bump {
		mag[87+i] += b
	}

	d := NewPeakDetector(5)
	_, heights, idx := d.Detect(toComplex(mag), axisMicrons(n))

	if len(idx) != 1 {
		t.Fatalf("expected 1 peak, got %d", len(idx))
	}
	if idx[0] != 90 {
		t.Errorf("peak index = %d, want 90", idx[0])
	}
	if heights[0] >= 3.0 {
		t.Errorf("peak height %g should be below the strict floor 3.0", heights[0])
	}
}

// A tiny bump on a high plateau has negligible prominence, so only the
// minimal height-only pass can report it.
func TestPeakDetector_MinimalTier(t *testing.T) {
	const n = 50
	mag := make([]float64, n)
	for i := range mag {
		mag[i] = 100
	}
	mag[25] = 101

	d := NewPeakDetector(5)
	_, _, idx := d.Detect(toComplex(mag), axisMicrons(n))

	if len(idx) != 1 {
		t.Fatalf("expected 1 peak, got %d", len(idx))
	}
	if idx[0] != 25 {
		t.Errorf("peak index = %d, want 25", idx[0])
	}
}

func TestPeakDetector_SortsAndTruncates(t *testing.T) {
	const n = 101
	mag := make([]float64, n)
	add := func(center int, height float64) {
		for i := range mag {
			d := float64(i-center) / 3
			mag[i] += height * math.Exp(-d*d)
		}
	}
	add(20, 10)
	add(50, 8)
	add(80, 6)

	d := NewPeakDetector(2)
	_, heights, idx := d.Detect(toComplex(mag), axisMicrons(n))

	if len(idx) != 2 {
		t.Fatalf("expected 2 peaks after truncation, got %d", len(idx))
	}
	if idx[0] != 20 || idx[1] != 50 {
		t.Errorf("peak indices = %v, want [20 50]", idx)
	}
	if heights[0] < heights[1] {
		t.Errorf("peaks not sorted by descending magnitude: %v", heights)
	}
}

func TestPeakDetector_NaNInputYieldsNothing(t *testing.T) {
	const n = 101
	mag := make([]float64, n)
	for i := range mag {
		d := float64(i-50) / 10
		mag[i] = 10 * math.Exp(-d*d)
	}
	mag[10] = math.NaN()

	d := NewPeakDetector(5)
	locs, heights, idx := d.Detect(toComplex(mag), axisMicrons(n))

	if len(locs) != 0 || len(heights) != 0 || len(idx) != 0 {
		t.Errorf("expected empty results for NaN input, got %d peaks", len(idx))
	}
}

func TestPeakDetector_EmptyInput(t *testing.T) {
	d := NewPeakDetector(5)
	locs, heights, idx := d.Detect(nil, nil)
	if locs != nil || heights != nil || idx != nil {
		t.Error("expected nil results for empty input")
	}
}

func TestPeakDetector_WindowRemapsIndices(t *testing.T) {
	const n = 100
	axis := axisMicrons(n)
	mag := make([]float64, n)
	for i := range mag {
		d := float64(i-73) / 5
		mag[i] = 10 * math.Exp(-d*d)
	}

	d := NewPeakDetector(5)
	locs, _, idx := d.DetectInWindow(toComplex(mag), axis, axis[60], axis[85])

	if len(idx) != 1 {
		t.Fatalf("expected 1 peak, got %d", len(idx))
	}
	if idx[0] != 73 {
		t.Errorf("remapped index = %d, want 73", idx[0])
	}
	if locs[0] != axis[73] {
		t.Errorf("peak location = %g, want %g", locs[0], axis[73])
	}
}

func TestPeakDetector_WindowOutsideAxis(t *testing.T) {
	const n = 100
	axis := axisMicrons(n)
	mag := make([]float64, n)
	mag[50] = 10

	d := NewPeakDetector(5)
	locs, heights, idx := d.DetectInWindow(toComplex(mag), axis, 1.0, 2.0)

	if locs != nil || heights != nil || idx != nil {
		t.Error("expected nil results for a window outside the axis range")
	}
}
