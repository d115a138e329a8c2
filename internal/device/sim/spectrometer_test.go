package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vl-photonics/oct-controller/internal/device"
	"github.com/vl-photonics/oct-controller/internal/dsp"
)

func TestSpectrometer_FrameShape(t *testing.T) {
	s := NewSpectrometer(128, 800, 900)

	frame, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(frame.Wavelengths) != 128 || len(frame.Intensity) != 128 {
		t.Fatalf("frame shape = %d/%d, want 128/128", len(frame.Wavelengths), len(frame.Intensity))
	}
	if frame.Wavelengths[0] != 800 || frame.Wavelengths[127] != 900 {
		t.Errorf("axis spans [%g, %g] nm, want [800, 900]", frame.Wavelengths[0], frame.Wavelengths[127])
	}
	for i := 1; i < len(frame.Wavelengths); i++ {
		if frame.Wavelengths[i] <= frame.Wavelengths[i-1] {
			t.Fatal("wavelength axis is not strictly ascending")
		}
	}
}

func TestSpectrometer_ReflectorPeakLocation(t *testing.T) {
	const reflectorOPD = 120e-6

	s := NewSpectrometer(2048, 780, 920,
		WithReflectors(Reflector{OPD: reflectorOPD, Amplitude: 0.8}),
		WithNoise(0),
	)
	frame, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	// The fringe pattern must place its depth peak at the configured OPD.
	var r dsp.Resampler
	signal, err := r.Resample(frame.Wavelengths, frame.Intensity, dsp.InterpLinear)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	spectrum, opd := dsp.DepthProfile(signal, r.DK())

	best, bestMag := 0, 0.0
	for i := 1; i < len(spectrum); i++ { // skip the DC bin
		if m := math.Hypot(real(spectrum[i]), imag(spectrum[i])); m > bestMag {
			best, bestMag = i, m
		}
	}

	binWidth := opd[1] - opd[0]
	if diff := math.Abs(opd[best] - reflectorOPD); diff > binWidth {
		t.Errorf("depth peak at %.2f µm, want within %.2f µm of %.2f µm",
			opd[best]*1e6, binWidth*1e6, reflectorOPD*1e6)
	}
}

func TestSpectrometer_ReadHonorsCancellation(t *testing.T) {
	s := NewSpectrometer(16, 800, 900)
	if err := s.SetExposure(time.Hour); err != nil {
		t.Fatalf("SetExposure: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStage_RecordsMovesAndInjectsFailure(t *testing.T) {
	stage := NewStage()
	ctx := context.Background()

	if _, err := stage.GotoAndWait(ctx, device.AxisX, 1.5); err != nil {
		t.Fatalf("GotoAndWait: %v", err)
	}
	if pos, _ := stage.Position(device.AxisX); pos != 1.5 {
		t.Errorf("position = %g, want 1.5", pos)
	}

	stage.FailAt = 2
	stage.FailErr = errors.New("stall")
	_, err := stage.GotoAndWait(ctx, device.AxisY, 3)

	var motorErr *device.MotorError
	if !errors.As(err, &motorErr) {
		t.Fatalf("expected *device.MotorError, got %v", err)
	}
	if motorErr.Axis != device.AxisY || motorErr.Target != 3 {
		t.Errorf("motor error = %+v", motorErr)
	}
	if got := len(stage.Moves()); got != 1 {
		t.Errorf("recorded %d moves, want 1 (failed move not recorded)", got)
	}
}
