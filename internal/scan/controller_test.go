package scan

import (
	"context"
	"testing"
	"time"

	"github.com/vl-photonics/oct-controller/internal/device/sim"
	"github.com/vl-photonics/oct-controller/internal/dsp"
)

func TestController_PreviewSuspendedDuringScan(t *testing.T) {
	spec := newScriptedSpectrometer()
	spec.delay = 5 * time.Millisecond // keep the scan busy for a while

	started := make(chan struct{})
	archive := &fakeArchiver{onBegin: func() { close(started) }}

	pipeline := NewPipeline(ModeFullSpectrum, dsp.InterpLinear, nil)
	scanner := NewScanner(spec, sim.NewStage(), pipeline, archive)
	c := NewController(scanner, pipeline, nil)

	plan := Plan{X: AxisPlan{Enabled: true, Start: 0, End: 4, Step: 1}}

	scanDone := make(chan error, 1)
	go func() {
		_, err := c.RunScan(context.Background(), plan, Metadata{})
		scanDone <- err
	}()

	<-started

	// Preview blocks on the device lock until the scan releases it, so by
	// the time it returns the scan must have finished.
	res, err := c.Preview(context.Background())
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if scanner.Running() {
		t.Error("preview returned while a scan was still running")
	}
	if res.Magnitude == nil {
		t.Error("preview returned no depth profile")
	}

	if err := <-scanDone; err != nil {
		t.Fatalf("scan failed: %v", err)
	}
}

func TestController_PreviewStandalone(t *testing.T) {
	spec := newScriptedSpectrometer()
	pipeline := NewPipeline(ModeFullSpectrum, dsp.InterpLinear, nil)
	scanner := NewScanner(spec, sim.NewStage(), pipeline, &fakeArchiver{})
	c := NewController(scanner, pipeline, nil)

	res, err := c.Preview(context.Background())
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(res.Magnitude) == 0 || len(res.OPD) == 0 {
		t.Error("preview returned an empty depth profile")
	}
}

func TestController_PreviewLoopStopsOnCancel(t *testing.T) {
	spec := newScriptedSpectrometer()
	pipeline := NewPipeline(ModeFullSpectrum, dsp.InterpLinear, nil)
	scanner := NewScanner(spec, sim.NewStage(), pipeline, &fakeArchiver{})
	c := NewController(scanner, pipeline, nil)

	ctx, cancel := context.WithCancel(context.Background())
	frames := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.PreviewLoop(ctx, time.Millisecond, func(PointResult) {
			frames++
			if frames >= 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("preview loop did not stop after cancellation")
	}
	if frames < 3 {
		t.Errorf("preview loop delivered %d frames, want at least 3", frames)
	}
}
