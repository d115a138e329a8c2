package scan

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vl-photonics/oct-controller/internal/device"
	"github.com/vl-photonics/oct-controller/internal/device/sim"
	"github.com/vl-photonics/oct-controller/internal/dsp"
)

type fakeArchiver struct {
	mu       sync.Mutex
	sessions []Metadata
	updates  []Metadata
	batches  [][]PointRecord
	onBegin  func()
}

func (a *fakeArchiver) BeginSession(ctx context.Context, meta Metadata) error {
	a.mu.Lock()
	a.sessions = append(a.sessions, meta)
	a.mu.Unlock()
	if a.onBegin != nil {
		a.onBegin()
	}
	return nil
}

func (a *fakeArchiver) StorePoints(ctx context.Context, points []PointRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, points)
	return nil
}

func (a *fakeArchiver) UpdateSession(ctx context.Context, meta Metadata) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates = append(a.updates, meta)
	return nil
}

func (a *fakeArchiver) allPoints() []PointRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []PointRecord
	for _, b := range a.batches {
		out = append(out, b...)
	}
	return out
}

func (a *fakeArchiver) lastUpdate() Metadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updates[len(a.updates)-1]
}

// scriptedSpectrometer returns the same synthetic frame on every read and
// lets tests hook the read sequence.
type scriptedSpectrometer struct {
	frame  device.Frame
	delay  time.Duration
	reads  int
	onRead func(n int)
}

func newScriptedSpectrometer() *scriptedSpectrometer {
	const pixels = 64
	wl := make([]float64, pixels)
	intensity := make([]float64, pixels)
	for i := range wl {
		wl[i] = 900 - 100*float64(i)/float64(pixels-1)
		k := 2 * math.Pi / (wl[i] * 1e-9)
		intensity[i] = 1 + 0.8*math.Cos(k*50e-6)
	}
	return &scriptedSpectrometer{
		frame: device.Frame{Wavelengths: wl, Intensity: intensity},
	}
}

func (s *scriptedSpectrometer) Read(ctx context.Context) (device.Frame, error) {
	if err := ctx.Err(); err != nil {
		return device.Frame{}, err
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.reads++
	if s.onRead != nil {
		s.onRead(s.reads)
	}
	return s.frame, nil
}

func (s *scriptedSpectrometer) SetExposure(time.Duration) error { return nil }
func (s *scriptedSpectrometer) Exposure() time.Duration         { return 0 }

func newTestScanner(spec device.Spectrometer, stage *sim.Stage, archive *fakeArchiver) *Scanner {
	pipeline := NewPipeline(ModeFullSpectrum, dsp.InterpLinear, nil)
	return NewScanner(spec, stage, pipeline, archive)
}

func TestScanner_TraversalAndReturnToStart(t *testing.T) {
	stage := sim.NewStage()
	archive := &fakeArchiver{}
	s := newTestScanner(newScriptedSpectrometer(), stage, archive)

	plan := Plan{
		X: AxisPlan{Enabled: true, Start: 0, End: 2, Step: 1},
		Y: AxisPlan{Enabled: true, Start: 0, End: 1, Step: 1},
	}

	summary, err := s.Run(context.Background(), plan, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.PointsTotal != 6 || summary.PointsAcquired != 6 {
		t.Errorf("summary = %d/%d, want 6/6", summary.PointsAcquired, summary.PointsTotal)
	}
	if summary.Aborted {
		t.Error("scan should not report aborted")
	}

	// X is the fastest axis, Y the next.
	points := archive.allPoints()
	if len(points) != 6 {
		t.Fatalf("archived %d points, want 6", len(points))
	}
	wantXY := [][2]float64{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}}
	for i, p := range points {
		if p.Seq != i || p.X != wantXY[i][0] || p.Y != wantXY[i][1] || p.Z != 0 {
			t.Errorf("point %d = seq %d (%.0f, %.0f, %.0f), want seq %d (%.0f, %.0f, 0)",
				i, p.Seq, p.X, p.Y, p.Z, i, wantXY[i][0], wantXY[i][1])
		}
		if p.Spectrum == nil || p.Magnitude == nil {
			t.Errorf("point %d missing spectrum or magnitude", i)
		}
	}

	// Both axes returned to their start positions after the sweep.
	moves := stage.Moves()
	if len(moves) < 2 {
		t.Fatal("expected return-to-start moves")
	}
	retX, retY := moves[len(moves)-2], moves[len(moves)-1]
	if retX.Axis != device.AxisX || retX.Position != 0 {
		t.Errorf("second-to-last move = %v, want X back to 0", retX)
	}
	if retY.Axis != device.AxisY || retY.Position != 0 {
		t.Errorf("last move = %v, want Y back to 0", retY)
	}

	final := archive.lastUpdate()
	if !final.IsFinal || final.PointsAcquired != 6 || final.ScanType != "XY" {
		t.Errorf("final update = %+v, want final XY with 6 points", final)
	}
	if final.Wavelengths == nil {
		t.Error("final update is missing the wavelength axis")
	}
}

func TestScanner_WindowedScanPeakLayout(t *testing.T) {
	const reflectorOPD = 100e-6

	stage := sim.NewStage()
	archive := &fakeArchiver{}
	spec := &scriptedSpectrometer{frame: reflectorFrame(2048, reflectorOPD)}

	// Only the second window slot is enabled; it brackets the reflector.
	windows := []Window{
		{},
		{Min: 50e-6, Max: 150e-6, Enabled: true},
	}
	pipeline := NewPipeline(ModeFullSpectrum, dsp.InterpCubic, windows)
	s := NewScanner(spec, stage, pipeline, archive)

	// One frame through the pipeline gives the FFT bin width for the
	// peak-location tolerance below.
	ref, err := pipeline.ProcessFrame(spec.frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	binWidth := ref.OPD[1] - ref.OPD[0]

	plan := Plan{
		X: AxisPlan{Enabled: true, Start: 0, End: 2, Step: 1},
		Y: AxisPlan{Enabled: true, Start: 0, End: 2, Step: 1},
	}

	summary, err := s.Run(context.Background(), plan, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.PointsAcquired != 9 {
		t.Fatalf("acquired %d points, want 9", summary.PointsAcquired)
	}

	points := archive.allPoints()
	if len(points) != 9 {
		t.Fatalf("archived %d points, want 9", len(points))
	}
	for _, p := range points {
		if p.Magnitude == nil {
			t.Fatalf("point %d has no depth profile", p.Seq)
		}

		// The enabled window's first slot holds the reflector peak.
		if math.IsNaN(p.PeakOPD[1][0]) || math.IsNaN(p.PeakAmp[1][0]) {
			t.Fatalf("point %d found no peak in the enabled window", p.Seq)
		}
		if diff := math.Abs(p.PeakOPD[1][0] - reflectorOPD); diff > binWidth {
			t.Errorf("point %d peak at %.2f µm, want within %.2f µm of %.2f µm",
				p.Seq, p.PeakOPD[1][0]*1e6, binWidth*1e6, reflectorOPD*1e6)
		}

		// Every other window row stays at its NaN sentinels.
		for w := 0; w < MaxWindows; w++ {
			if w == 1 {
				continue
			}
			for i := 0; i < PeaksPerWindow; i++ {
				if !math.IsNaN(p.PeakOPD[w][i]) || !math.IsNaN(p.PeakAmp[w][i]) {
					t.Fatalf("point %d window %d slot %d is not NaN", p.Seq, w, i)
				}
			}
		}
	}
}

func TestScanner_AbortStopsAtPointBoundary(t *testing.T) {
	stage := sim.NewStage()
	archive := &fakeArchiver{}
	spec := newScriptedSpectrometer()
	s := newTestScanner(spec, stage, archive)

	// Two reads per point: abort during the fifth point's valid read, so
	// the fifth point completes and the sixth is never started.
	spec.onRead = func(n int) {
		if n == 10 {
			s.Abort()
		}
	}

	plan := Plan{X: AxisPlan{Enabled: true, Start: 0, End: 8, Step: 1}}
	summary, err := s.Run(context.Background(), plan, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !summary.Aborted {
		t.Error("summary should report aborted")
	}
	if summary.PointsAcquired != 5 {
		t.Errorf("acquired %d points, want 5", summary.PointsAcquired)
	}
	if got := len(archive.allPoints()); got != 5 {
		t.Errorf("archived %d points, want 5", got)
	}

	// Abort still flushes and returns the stage to start.
	final := archive.lastUpdate()
	if !final.IsFinal || final.PointsAcquired != 5 {
		t.Errorf("final update = %+v, want final with 5 points", final)
	}
	moves := stage.Moves()
	last := moves[len(moves)-1]
	if last.Axis != device.AxisX || last.Position != 0 {
		t.Errorf("last move = %v, want X back to 0", last)
	}
}

func TestScanner_ContextCancelBehavesLikeAbort(t *testing.T) {
	stage := sim.NewStage()
	archive := &fakeArchiver{}
	spec := newScriptedSpectrometer()
	s := newTestScanner(spec, stage, archive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	spec.onRead = func(n int) {
		if n == 4 { // second point's valid read
			cancel()
		}
	}

	plan := Plan{X: AxisPlan{Enabled: true, Start: 0, End: 5, Step: 1}}
	summary, err := s.Run(ctx, plan, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !summary.Aborted {
		t.Error("summary should report aborted")
	}
	if summary.PointsAcquired != 2 {
		t.Errorf("acquired %d points, want 2", summary.PointsAcquired)
	}

	// Flush and return-to-start still run after cancellation.
	if got := len(archive.allPoints()); got != 2 {
		t.Errorf("archived %d points, want 2", got)
	}
	moves := stage.Moves()
	last := moves[len(moves)-1]
	if last.Axis != device.AxisX || last.Position != 0 {
		t.Errorf("last move = %v, want X back to 0", last)
	}
}

func TestScanner_MotorErrorIsFatal(t *testing.T) {
	stage := sim.NewStage()
	stage.FailAt = 3
	stage.FailErr = errors.New("axis stall")
	archive := &fakeArchiver{}
	s := newTestScanner(newScriptedSpectrometer(), stage, archive)

	plan := Plan{X: AxisPlan{Enabled: true, Start: 0, End: 4, Step: 1}}
	_, err := s.Run(context.Background(), plan, Metadata{})

	var motorErr *device.MotorError
	if !errors.As(err, &motorErr) {
		t.Fatalf("expected *device.MotorError, got %v", err)
	}

	// Points acquired before the failure are flushed, but the stage is not
	// driven back to start: its position can no longer be trusted.
	if got := len(archive.allPoints()); got != 2 {
		t.Errorf("archived %d points, want 2", got)
	}
	if got := len(stage.Moves()); got != 2 {
		t.Errorf("stage recorded %d moves, want 2 (no return-to-start)", got)
	}
}

func TestScanner_Checkpointing(t *testing.T) {
	stage := sim.NewStage()
	archive := &fakeArchiver{}
	s := newTestScanner(newScriptedSpectrometer(), stage, archive)

	plan := Plan{
		X:                  AxisPlan{Enabled: true, Start: 0, End: 9, Step: 1},
		CheckpointInterval: 0.2,
	}

	summary, err := s.Run(context.Background(), plan, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.PointsAcquired != 10 {
		t.Fatalf("acquired %d points, want 10", summary.PointsAcquired)
	}

	// Every 20 % of progress drains a two-point batch.
	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.batches) != 5 {
		t.Fatalf("stored %d batches, want 5", len(archive.batches))
	}
	for i, b := range archive.batches {
		if len(b) != 2 {
			t.Errorf("batch %d has %d points, want 2", i, len(b))
		}
	}

	final := archive.updates[len(archive.updates)-1]
	if !final.IsFinal || final.PartIndex != 5 || final.PartsTotal != 5 {
		t.Errorf("final update = part %d/%d final=%v, want 5/5 final",
			final.PartIndex, final.PartsTotal, final.IsFinal)
	}

	// The five checkpoints plus the final update.
	if len(archive.updates) != 6 {
		t.Errorf("session updated %d times, want 6", len(archive.updates))
	}
}

func TestScanner_RejectsConcurrentRun(t *testing.T) {
	s := newTestScanner(newScriptedSpectrometer(), sim.NewStage(), &fakeArchiver{})
	s.running.Store(true)
	defer s.running.Store(false)

	plan := Plan{X: AxisPlan{Enabled: true, Start: 0, End: 1, Step: 1}}
	if _, err := s.Run(context.Background(), plan, Metadata{}); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("expected ErrScanInProgress, got %v", err)
	}
}

func TestAxisPlan_Positions(t *testing.T) {
	testCases := []struct {
		name string
		plan AxisPlan
		want []float64
	}{
		{"disabled", AxisPlan{}, []float64{0}},
		{"single point", AxisPlan{Enabled: true, Start: 2, End: 2, Step: 1}, []float64{2}},
		{"ascending inclusive", AxisPlan{Enabled: true, Start: 0, End: 2, Step: 1}, []float64{0, 1, 2}},
		{"descending", AxisPlan{Enabled: true, Start: 3, End: 1, Step: 1}, []float64{3, 2, 1}},
		{"negative step ignored", AxisPlan{Enabled: true, Start: 0, End: 2, Step: -1}, []float64{0, 1, 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.plan.positions()
			if len(got) != len(tc.want) {
				t.Fatalf("positions = %v, want %v", got, tc.want)
			}
			for i := range got {
				if math.Abs(got[i]-tc.want[i]) > 1e-9 {
					t.Fatalf("positions = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestPlan_Validate(t *testing.T) {
	if err := (Plan{}).Validate(); err == nil {
		t.Error("expected error when no axis is enabled")
	}

	bad := Plan{X: AxisPlan{Enabled: true, Start: 0, End: 1, Step: 0}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero step on a ranged axis")
	}

	badInterval := Plan{
		X:                  AxisPlan{Enabled: true, Start: 0, End: 1, Step: 1},
		CheckpointInterval: 1.5,
	}
	if err := badInterval.Validate(); err == nil {
		t.Error("expected error for checkpoint interval above 1")
	}
}

func TestPlan_TotalPointsAndScanType(t *testing.T) {
	plan := Plan{
		X: AxisPlan{Enabled: true, Start: 0, End: 2, Step: 1},
		Z: AxisPlan{Enabled: true, Start: 0, End: 1, Step: 1},
	}
	if got := plan.TotalPoints(); got != 6 {
		t.Errorf("TotalPoints = %d, want 6", got)
	}
	if got := plan.ScanType(); got != "XZ" {
		t.Errorf("ScanType = %q, want XZ", got)
	}
}
