package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/vl-photonics/oct-controller/internal/device"
	"github.com/vl-photonics/oct-controller/internal/device/sim"
	"github.com/vl-photonics/oct-controller/internal/dsp"
	"github.com/vl-photonics/oct-controller/internal/scan"
)

// countingSpectrometer counts reads on its way through to the simulator.
type countingSpectrometer struct {
	inner device.Spectrometer
	reads int
}

func (s *countingSpectrometer) Read(ctx context.Context) (device.Frame, error) {
	frame, err := s.inner.Read(ctx)
	if err == nil {
		s.reads++
	}
	return frame, err
}

func (s *countingSpectrometer) SetExposure(d time.Duration) error { return s.inner.SetExposure(d) }
func (s *countingSpectrometer) Exposure() time.Duration           { return s.inner.Exposure() }

func newPreviewController(spec device.Spectrometer) *scan.Controller {
	pipeline := scan.NewPipeline(scan.ModeFullSpectrum, dsp.InterpLinear, nil)
	scanner := scan.NewScanner(spec, sim.NewStage(), pipeline, discardArchiver{})
	return scan.NewController(scanner, pipeline, nil)
}

type discardArchiver struct{}

func (discardArchiver) BeginSession(context.Context, scan.Metadata) error     { return nil }
func (discardArchiver) StorePoints(context.Context, []scan.PointRecord) error { return nil }
func (discardArchiver) UpdateSession(context.Context, scan.Metadata) error    { return nil }

func TestRunPreview_DeliversConfiguredFrames(t *testing.T) {
	src := sim.NewSpectrometer(256, 800, 900)
	if err := src.SetExposure(0); err != nil {
		t.Fatalf("SetExposure: %v", err)
	}
	spec := &countingSpectrometer{inner: src}

	config := &PreviewConfig{Frames: 3, IntervalMS: 1}
	err := runPreview(context.Background(), newPreviewController(spec), config, slog.Default())
	if err != nil {
		t.Fatalf("runPreview: %v", err)
	}
	if spec.reads != 3 {
		t.Errorf("spectrometer read %d frames, want 3", spec.reads)
	}
}

func TestRunPreview_ZeroFramesIsNoop(t *testing.T) {
	spec := &countingSpectrometer{inner: sim.NewSpectrometer(256, 800, 900)}

	config := &PreviewConfig{Frames: 0, IntervalMS: 1}
	if err := runPreview(context.Background(), newPreviewController(spec), config, slog.Default()); err != nil {
		t.Fatalf("runPreview: %v", err)
	}
	if spec.reads != 0 {
		t.Errorf("spectrometer read %d frames, want 0", spec.reads)
	}
}

func TestRunPreview_PropagatesCancellation(t *testing.T) {
	spec := &countingSpectrometer{inner: sim.NewSpectrometer(256, 800, 900)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := &PreviewConfig{Frames: 3, IntervalMS: 1}
	err := runPreview(ctx, newPreviewController(spec), config, slog.Default())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
