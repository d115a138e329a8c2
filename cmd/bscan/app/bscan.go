package app

import (
	"math"
	"time"

	"github.com/vl-photonics/oct-controller/internal/scan"
)

// BScanData accumulates archived depth profiles into a cross-sectional
// image: one column per scan point, depth increasing downwards. Amplitudes
// are converted to dB on the way in, with nil marking pixels that have no
// reading (zero magnitude, or a point stored without its profile).
type BScanData struct {
	Width, Height int
	DepthMax      float64 // meters, bottom edge of the image
	XMin, XMax    float64 // mm, lateral extent
	ScanType      string
	Exposure      time.Duration
	StartTime     time.Time
	EndTime       time.Time
	BoundsTracker *SmoothBounds
	Columns       [][]*float64
}

func NewBScanData(meta scan.Metadata, b *SmoothBounds) *BScanData {
	return &BScanData{
		DepthMax:      depthRange(meta.Wavelengths),
		XMin:          math.MaxFloat64,
		XMax:          -math.MaxFloat64,
		ScanType:      meta.ScanType,
		Exposure:      meta.Exposure,
		StartTime:     meta.StartTime,
		EndTime:       meta.EndTime,
		BoundsTracker: b,
		Columns:       make([][]*float64, 0),
	}
}

func (s *BScanData) Update(rec scan.PointRecord) {
	s.Width++
	s.Height = max(s.Height, len(rec.Magnitude))

	s.XMin = min(s.XMin, rec.X)
	s.XMax = max(s.XMax, rec.X)

	if rec.Magnitude == nil {
		s.Columns = append(s.Columns, nil)
		return
	}

	column := make([]*float64, len(rec.Magnitude))
	for i, m := range rec.Magnitude {
		if m <= 0 {
			continue
		}
		db := 20 * math.Log10(m)
		column[i] = &db
		s.BoundsTracker.Update(&db)
	}
	s.Columns = append(s.Columns, column)
}

// depthRange computes the far edge of the depth axis from the session's
// wavelength calibration: the last of the (n+1)/2 profile bins spaced
// 2π/(n·dk) apart in optical path difference.
func depthRange(wavelengthsNM []float64) float64 {
	n := len(wavelengthsNM)
	if n < 2 {
		return 0
	}

	kFirst := 2 * math.Pi / (wavelengthsNM[0] * 1e-9)
	kLast := 2 * math.Pi / (wavelengthsNM[n-1] * 1e-9)
	dk := math.Abs(kLast-kFirst) / float64(n-1)

	half := (n + 1) / 2
	return 2 * math.Pi * float64(half-1) / (float64(n) * dk)
}
