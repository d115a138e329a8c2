package dsp

import (
	"math"
	"math/cmplx"
	"sort"
)

const (
	// DefaultThresholdRatio is the tier-1 peak height floor as a fraction
	// of the magnitude maximum.
	DefaultThresholdRatio = 0.3

	// DefaultMinPeakWidth is the minimum peak width in axis units (3 µm on
	// the OPD axis).
	DefaultMinPeakWidth = 3e-6

	// Relaxed-tier ratios. These match the reference detector and have no
	// configuration surface.
	lowThresholdRatio     = 0.10
	minimalThresholdRatio = 0.05
)

// PeakDetector finds dominant reflectors in a transformed depth profile
// using a three-tier adaptive threshold strategy: a strict pass (height,
// prominence and width constraints), a relaxed pass (prominence and width
// only), and a minimal pass (low height floor only). The first tier that
// yields at least one candidate wins.
type PeakDetector struct {
	MaxPeaks       int     // maximum peaks returned, strongest first
	ThresholdRatio float64 // tier-1 height floor as a fraction of max
	MinWidth       float64 // minimum peak width in axis units
}

// NewPeakDetector returns a detector with the reference thresholds.
func NewPeakDetector(maxPeaks int) PeakDetector {
	return PeakDetector{
		MaxPeaks:       maxPeaks,
		ThresholdRatio: DefaultThresholdRatio,
		MinWidth:       DefaultMinPeakWidth,
	}
}

// Detect runs the tiered search over |z| and returns peak locations on the
// axis, peak magnitudes, and the corresponding indices into z, sorted by
// descending magnitude and truncated to MaxPeaks. All three slices are empty
// when nothing qualifies; a magnitude sequence containing NaN qualifies
// nothing.
func (d PeakDetector) Detect(z []complex128, axis []float64) ([]float64, []float64, []int) {
	mag := magnitude(z)
	if len(mag) == 0 {
		return nil, nil, nil
	}

	maxMag := 0.0
	for _, v := range mag {
		if math.IsNaN(v) {
			return nil, nil, nil
		}
		if v > maxMag {
			maxMag = v
		}
	}

	widthSamples := 1
	if len(axis) > 1 {
		df := math.Abs(meanDiff(axis))
		if df > 0 {
			widthSamples = int(d.MinWidth / df)
			if widthSamples < 1 {
				widthSamples = 1
			}
		}
	}

	// Tier 1: strict height, prominence and width constraints.
	high := maxMag * d.ThresholdRatio
	peaks := findPeaks(mag, high, high*0.5, float64(widthSamples))

	// Tier 2: drop the height constraint, relax prominence and width.
	if len(peaks) == 0 {
		low := maxMag * lowThresholdRatio
		peaks = findPeaks(mag, noConstraint, low*0.5, float64(max(1, widthSamples/2)))
	}

	// Tier 3: height floor only.
	if len(peaks) == 0 {
		peaks = findPeaks(mag, maxMag*minimalThresholdRatio, noConstraint, noConstraint)
	}
	if len(peaks) == 0 {
		return nil, nil, nil
	}

	sort.SliceStable(peaks, func(i, j int) bool {
		return mag[peaks[i]] > mag[peaks[j]]
	})
	if d.MaxPeaks > 0 && len(peaks) > d.MaxPeaks {
		peaks = peaks[:d.MaxPeaks]
	}

	locs := make([]float64, len(peaks))
	heights := make([]float64, len(peaks))
	for i, p := range peaks {
		locs[i] = axis[p]
		heights[i] = mag[p]
	}
	return locs, heights, peaks
}

// DetectInWindow restricts the search to samples with fMin <= axis <= fMax
// (the axis is ascending, so the window is a contiguous slice), runs Detect
// on the slice, and maps the returned indices back into the full axis. An
// empty window returns empty results without invoking the detector.
func (d PeakDetector) DetectInWindow(z []complex128, axis []float64, fMin, fMax float64) ([]float64, []float64, []int) {
	lo, hi := -1, -1
	for i, v := range axis {
		if v >= fMin && v <= fMax {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	if lo < 0 {
		return nil, nil, nil
	}

	locs, heights, idx := d.Detect(z[lo:hi+1], axis[lo:hi+1])
	for i := range idx {
		idx[i] += lo
	}
	return locs, heights, idx
}

// noConstraint disables a findPeaks criterion.
const noConstraint = -1

// findPeaks returns indices of local maxima filtered by minimum height,
// minimum prominence and minimum width (in samples, at half prominence).
// Negative constraint values disable the corresponding filter.
func findPeaks(mag []float64, minHeight, minProminence, minWidth float64) []int {
	peaks := localMaxima(mag)

	if minHeight >= 0 {
		peaks = filterPeaks(peaks, func(p int) bool { return mag[p] >= minHeight })
	}

	var proms []float64
	if minProminence >= 0 || minWidth >= 0 {
		proms = peakProminences(mag, peaks)
	}

	if minProminence >= 0 {
		kept := peaks[:0]
		keptProms := proms[:0]
		for i, p := range peaks {
			if proms[i] >= minProminence {
				kept = append(kept, p)
				keptProms = append(keptProms, proms[i])
			}
		}
		peaks, proms = kept, keptProms
	}

	if minWidth >= 0 {
		widths := peakWidths(mag, peaks, proms)
		kept := peaks[:0]
		for i, p := range peaks {
			if widths[i] >= minWidth {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	return peaks
}

// localMaxima finds strict local maxima, treating a flat plateau bounded by
// lower samples on both sides as a single peak at the plateau midpoint.
// Boundary samples never qualify.
func localMaxima(mag []float64) []int {
	var peaks []int
	i := 1
	for i < len(mag)-1 {
		if mag[i-1] < mag[i] {
			// Scan ahead across a possible plateau.
			ahead := i + 1
			for ahead < len(mag)-1 && mag[ahead] == mag[i] {
				ahead++
			}
			if mag[ahead] < mag[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
				continue
			}
			i = ahead
			continue
		}
		i++
	}
	return peaks
}

// peakProminences computes the topographic prominence of each peak: its
// height above the higher of the two minima separating it from the nearest
// higher terrain (or the signal edge) on each side.
func peakProminences(mag []float64, peaks []int) []float64 {
	proms := make([]float64, len(peaks))
	for i, p := range peaks {
		leftMin := mag[p]
		for j := p - 1; j >= 0 && mag[j] <= mag[p]; j-- {
			if mag[j] < leftMin {
				leftMin = mag[j]
			}
		}
		rightMin := mag[p]
		for j := p + 1; j < len(mag) && mag[j] <= mag[p]; j++ {
			if mag[j] < rightMin {
				rightMin = mag[j]
			}
		}
		proms[i] = mag[p] - math.Max(leftMin, rightMin)
	}
	return proms
}

// peakWidths measures each peak's width in samples at half its prominence,
// with linearly interpolated crossings on both flanks.
func peakWidths(mag []float64, peaks []int, proms []float64) []float64 {
	widths := make([]float64, len(peaks))
	for i, p := range peaks {
		height := mag[p] - proms[i]*0.5

		leftIP := float64(p)
		for j := p - 1; j >= 0; j-- {
			if mag[j] < height {
				leftIP = float64(j) + (height-mag[j])/(mag[j+1]-mag[j])
				break
			}
			leftIP = float64(j)
		}

		rightIP := float64(p)
		for j := p + 1; j < len(mag); j++ {
			if mag[j] < height {
				rightIP = float64(j) - (height-mag[j])/(mag[j-1]-mag[j])
				break
			}
			rightIP = float64(j)
		}

		widths[i] = rightIP - leftIP
	}
	return widths
}

func filterPeaks(peaks []int, keep func(int) bool) []int {
	kept := peaks[:0]
	for _, p := range peaks {
		if keep(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

func magnitude(z []complex128) []float64 {
	mag := make([]float64, len(z))
	for i, v := range z {
		mag[i] = cmplx.Abs(v)
	}
	return mag
}

func meanDiff(axis []float64) float64 {
	return (axis[len(axis)-1] - axis[0]) / float64(len(axis)-1)
}
