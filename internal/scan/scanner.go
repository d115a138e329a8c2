package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vl-photonics/oct-controller/internal/device"
)

// rangeSlack absorbs float accumulation error at the far end of an axis
// range, so an end coordinate that lands within it is still visited.
const rangeSlack = 1e-12

// ErrScanInProgress is returned when Run is called while a scan is already
// running.
var ErrScanInProgress = errors.New("scan already in progress")

// AxisPlan describes the sweep of one stage axis. A disabled axis
// contributes a single zero coordinate and is never moved.
type AxisPlan struct {
	Enabled bool
	Start   float64 // mm
	End     float64 // mm
	Step    float64 // mm, sign ignored
}

func (a AxisPlan) positions() []float64 {
	if !a.Enabled {
		return []float64{0}
	}
	if a.Start == a.End {
		return []float64{a.Start}
	}

	step := math.Abs(a.Step)
	var out []float64
	if a.End > a.Start {
		for v := a.Start; v <= a.End+rangeSlack; v += step {
			out = append(out, v)
		}
	} else {
		for v := a.Start; v >= a.End-rangeSlack; v -= step {
			out = append(out, v)
		}
	}
	return out
}

func (a AxisPlan) validate(axis device.Axis) error {
	if !a.Enabled {
		return nil
	}
	if a.Start != a.End && a.Step == 0 {
		return fmt.Errorf("axis %s: step must be non-zero for a ranged sweep", axis)
	}
	return nil
}

// Plan describes a full scan: up to three nested axis sweeps (Z outermost,
// then Y, then X), the mechanical settling time after each move, and how
// often progress is checkpointed to the archive.
type Plan struct {
	X, Y, Z AxisPlan

	// Settle is the pause after each stage move before acquisition.
	Settle time.Duration

	// CheckpointInterval is the fraction of total progress between partial
	// archive saves; zero disables checkpointing until the final save.
	CheckpointInterval float64
}

// Validate checks the plan for configurations the sweep cannot execute.
func (p Plan) Validate() error {
	if !p.X.Enabled && !p.Y.Enabled && !p.Z.Enabled {
		return errors.New("at least one axis must be enabled")
	}
	if err := p.X.validate(device.AxisX); err != nil {
		return err
	}
	if err := p.Y.validate(device.AxisY); err != nil {
		return err
	}
	if err := p.Z.validate(device.AxisZ); err != nil {
		return err
	}
	if p.CheckpointInterval < 0 || p.CheckpointInterval > 1 {
		return fmt.Errorf("checkpoint interval %g outside [0, 1]", p.CheckpointInterval)
	}
	return nil
}

// TotalPoints returns the number of points the plan will visit.
func (p Plan) TotalPoints() int {
	return len(p.X.positions()) * len(p.Y.positions()) * len(p.Z.positions())
}

// ScanType names the enabled axes in traversal significance order, e.g.
// "X", "XY" or "XYZ".
func (p Plan) ScanType() string {
	var b strings.Builder
	if p.X.Enabled {
		b.WriteString("X")
	}
	if p.Y.Enabled {
		b.WriteString("Y")
	}
	if p.Z.Enabled {
		b.WriteString("Z")
	}
	return b.String()
}

// Summary reports how a scan ended.
type Summary struct {
	PointsTotal    int
	PointsAcquired int
	ReadFailures   int
	Aborted        bool
	Duration       time.Duration
}

// Scanner executes scan plans against the hardware: it walks the stage
// through the planned grid, acquires and processes a spectrum at every
// point, and persists results through the archiver. One scan runs at a
// time; Abort stops the current one at the next point boundary.
type Scanner struct {
	spec     device.Spectrometer
	motion   device.Motion
	pipeline *Pipeline
	archive  Archiver
	buffer   Buffer
	logger   *slog.Logger

	running atomic.Bool
	aborted atomic.Bool
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScannerLogger sets the scanner's logger.
func WithScannerLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = logger }
}

// NewScanner builds a scanner over the given devices, pipeline and archive.
func NewScanner(spec device.Spectrometer, motion device.Motion, pipeline *Pipeline, archive Archiver, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		spec:     spec,
		motion:   motion,
		pipeline: pipeline,
		archive:  archive,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Abort requests a graceful stop. The running scan finishes its current
// point, flushes acquired data and returns the stages to their start
// positions.
func (s *Scanner) Abort() {
	if s.running.Load() {
		s.logger.Info("abort requested, finishing current point")
	}
	s.aborted.Store(true)
}

// Running reports whether a scan is in progress.
func (s *Scanner) Running() bool { return s.running.Load() }

// Run executes the plan. Context cancellation behaves like Abort: the scan
// stops at the next point boundary, already-acquired data is flushed, and
// the stages return to start. Motor failures are fatal — the data is
// flushed but the stages are left untouched, since their positions can no
// longer be trusted.
func (s *Scanner) Run(ctx context.Context, plan Plan, meta Metadata) (*Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.running.Store(false)
	s.aborted.Store(false)

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan plan: %w", err)
	}

	xs, ys, zs := plan.X.positions(), plan.Y.positions(), plan.Z.positions()
	total := len(xs) * len(ys) * len(zs)

	meta.ScanType = plan.ScanType()
	meta.Exposure = s.spec.Exposure()
	meta.Mode = s.pipeline.Mode()
	meta.Interpolation = s.pipeline.Interpolation().String()
	meta.Windows = s.pipeline.Windows()
	meta.PointsTotal = total
	meta.StartTime = time.Now()
	if plan.CheckpointInterval > 0 {
		meta.PartsTotal = int(math.Round(1 / plan.CheckpointInterval))
	}

	if err := s.archive.BeginSession(ctx, meta); err != nil {
		return nil, fmt.Errorf("opening archive session: %w", err)
	}

	s.logger.Info("scan started",
		"type", meta.ScanType,
		"points", total,
		"mode", meta.Mode.String(),
		"interpolation", meta.Interpolation,
	)

	acquired := 0
	readFailures := 0
	lastCheckpoint := 0.0

	checkpoint := func() error {
		if plan.CheckpointInterval <= 0 || total == 0 {
			return nil
		}
		progress := float64(acquired) / float64(total)
		if progress-lastCheckpoint < plan.CheckpointInterval {
			return nil
		}
		meta.PartIndex++
		meta.PointsAcquired = acquired
		if err := s.flush(ctx, meta); err != nil {
			return err
		}
		lastCheckpoint = progress
		s.logger.Info("checkpoint saved", "part", meta.PartIndex, "acquired", acquired, "total", total)
		return nil
	}

	sweep := func() error {
		for _, z := range zs {
			if s.stopping(ctx) {
				return nil
			}
			if plan.Z.Enabled {
				if err := s.moveAndSettle(ctx, device.AxisZ, z, plan.Settle); err != nil {
					return err
				}
			}
			for _, y := range ys {
				if s.stopping(ctx) {
					return nil
				}
				if plan.Y.Enabled {
					if err := s.moveAndSettle(ctx, device.AxisY, y, plan.Settle); err != nil {
						return err
					}
				}
				for _, x := range xs {
					if s.stopping(ctx) {
						return nil
					}
					if plan.X.Enabled {
						if err := s.moveAndSettle(ctx, device.AxisX, x, plan.Settle); err != nil {
							return err
						}
					}

					rec, wavelengths, err := s.acquirePoint(ctx, acquired, x, y, z)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						readFailures++
						s.logger.Error("point acquisition failed, skipping",
							"x_mm", x, "y_mm", y, "z_mm", z, "error", err)
						continue
					}
					if meta.Wavelengths == nil {
						meta.Wavelengths = wavelengths
					}

					s.buffer.Append(rec)
					acquired++
					if err := checkpoint(); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	scanErr := sweep()

	// Final flush runs even after cancellation so acquired points survive.
	flushCtx := context.WithoutCancel(ctx)
	meta.PointsAcquired = acquired
	meta.EndTime = time.Now()
	meta.IsFinal = true
	if err := s.flush(flushCtx, meta); err != nil {
		if scanErr == nil {
			scanErr = err
		} else {
			s.logger.Error("final flush failed", "error", err)
		}
	}

	var motorErr *device.MotorError
	if scanErr == nil || !errors.As(scanErr, &motorErr) {
		s.returnToStart(flushCtx, plan)
	}

	if scanErr != nil {
		return nil, scanErr
	}
	return &Summary{
		PointsTotal:    total,
		PointsAcquired: acquired,
		ReadFailures:   readFailures,
		Aborted:        s.aborted.Load() || ctx.Err() != nil,
		Duration:       meta.EndTime.Sub(meta.StartTime),
	}, nil
}

func (s *Scanner) stopping(ctx context.Context) bool {
	return s.aborted.Load() || ctx.Err() != nil
}

func (s *Scanner) moveAndSettle(ctx context.Context, axis device.Axis, pos float64, settle time.Duration) error {
	if _, err := s.motion.GotoAndWait(ctx, axis, pos); err != nil {
		return err
	}
	return ignoreCancel(sleepCtx(ctx, settle))
}

// acquirePoint performs the synchronized acquisition sequence: one discarded
// read to drop the integration that ran during the move, a wait of one
// exposure for a clean integration, then the valid read.
func (s *Scanner) acquirePoint(ctx context.Context, seq int, x, y, z float64) (PointRecord, []float64, error) {
	if _, err := s.spec.Read(ctx); err != nil {
		return PointRecord{}, nil, fmt.Errorf("discard read: %w", err)
	}
	if err := sleepCtx(ctx, s.spec.Exposure()); err != nil {
		return PointRecord{}, nil, err
	}
	frame, err := s.spec.Read(ctx)
	if err != nil {
		return PointRecord{}, nil, fmt.Errorf("valid read: %w", err)
	}

	res, err := s.pipeline.ProcessFrame(frame)
	if err != nil {
		return PointRecord{}, nil, err
	}

	return PointRecord{
		Seq:       seq,
		X:         x,
		Y:         y,
		Z:         z,
		Spectrum:  frame.Intensity,
		Magnitude: res.Magnitude,
		PeakOPD:   res.PeakOPD,
		PeakAmp:   res.PeakAmp,
	}, frame.Wavelengths, nil
}

func (s *Scanner) flush(ctx context.Context, meta Metadata) error {
	if points := s.buffer.DrainAll(); points != nil {
		if err := s.archive.StorePoints(ctx, points); err != nil {
			return fmt.Errorf("storing %d points: %w", len(points), err)
		}
	}
	if err := s.archive.UpdateSession(ctx, meta); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// returnToStart drives enabled axes back to their start positions. Failures
// are logged, not returned: the scan data is already safe and there is
// nothing left to unwind.
func (s *Scanner) returnToStart(ctx context.Context, plan Plan) {
	s.logger.Info("returning stages to start position")
	for _, m := range []struct {
		axis device.Axis
		plan AxisPlan
	}{
		{device.AxisX, plan.X},
		{device.AxisY, plan.Y},
		{device.AxisZ, plan.Z},
	} {
		if !m.plan.Enabled {
			continue
		}
		if _, err := s.motion.GotoAndWait(ctx, m.axis, m.plan.Start); err != nil {
			s.logger.Error("failed to return axis to start", "axis", m.axis.String(), "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
