package scan

import (
	"context"
	"time"
)

// Metadata describes a scan session as stored alongside its points. The
// scanner fills the progress and timing fields; everything else comes from
// the run configuration.
type Metadata struct {
	ScanType      string // enabled axes, e.g. "XY"
	Exposure      time.Duration
	Averages      int
	Mode          TransformMode
	Interpolation string
	Windows       []Window
	Wavelengths   []float64 // detector axis of the first acquired frame

	PointsTotal    int
	PointsAcquired int
	PartIndex      int
	PartsTotal     int
	IsFinal        bool

	StartTime time.Time
	EndTime   time.Time
}

// Archiver persists scan sessions. The scanner calls BeginSession once,
// StorePoints for each drained batch, and UpdateSession at every checkpoint
// and once more with IsFinal set; each call must leave the archive in a
// consistent, readable state so an interrupted scan still yields a valid
// partial dataset.
type Archiver interface {
	BeginSession(ctx context.Context, meta Metadata) error
	StorePoints(ctx context.Context, points []PointRecord) error
	UpdateSession(ctx context.Context, meta Metadata) error
}
