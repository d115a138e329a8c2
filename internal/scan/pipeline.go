package scan

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/vl-photonics/oct-controller/internal/device"
	"github.com/vl-photonics/oct-controller/internal/dsp"
)

const (
	// MaxWindows is the number of depth window slots per session.
	MaxWindows = 5

	// PeaksPerWindow is the number of peaks recorded per window per point.
	PeaksPerWindow = 3

	// cztWindowPoints is the requested per-window zoom resolution. It is a
	// power of two, so the snap leaves it unchanged.
	cztWindowPoints = 2048
)

// TransformMode selects how a raw spectrum becomes depth information.
type TransformMode int

const (
	// ModeFullSpectrum computes one full-range FFT depth profile and
	// searches each window on it.
	ModeFullSpectrum TransformMode = iota

	// ModePerWindowCZT zooms each window with a chirp Z-transform and
	// searches the zoomed band. No full profile is produced.
	ModePerWindowCZT
)

func (m TransformMode) String() string {
	switch m {
	case ModeFullSpectrum:
		return "full"
	case ModePerWindowCZT:
		return "czt"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Window is one depth region of interest, bounded in OPD meters. A disabled
// or inverted window is skipped without error.
type Window struct {
	Min     float64
	Max     float64
	Enabled bool
}

func (w Window) valid() bool { return w.Enabled && w.Max > w.Min }

// PointResult is the processed output for a single scan point. OPD and
// Magnitude carry the full-range profile in full-spectrum mode and are nil
// in CZT mode. The peak buffers always hold MaxWindows × PeaksPerWindow
// entries with NaN marking unused slots, so every point has the same shape
// regardless of how many peaks were found.
type PointResult struct {
	OPD       []float64
	Magnitude []float64
	PeakOPD   [MaxWindows][PeaksPerWindow]float64
	PeakAmp   [MaxWindows][PeaksPerWindow]float64
}

// Pipeline converts raw spectrometer frames into depth-domain point results.
// It owns the resampler cache, so a single Pipeline must process every frame
// of a session in sequence.
type Pipeline struct {
	resampler dsp.Resampler
	detector  dsp.PeakDetector
	mode      TransformMode
	interp    dsp.Interpolation
	windows   [MaxWindows]Window
	logger    *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger for per-window diagnostics.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// NewPipeline builds a pipeline for the given transform mode. In CZT mode
// the interpolation request is overridden to linear: the transform already
// resamples the band finely, and a spline pass on top of it only adds cost.
// Surplus windows beyond MaxWindows are ignored.
func NewPipeline(mode TransformMode, interp dsp.Interpolation, windows []Window, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		detector: dsp.NewPeakDetector(PeaksPerWindow),
		mode:     mode,
		interp:   interp,
		logger:   slog.Default(),
	}
	if mode == ModePerWindowCZT {
		p.interp = dsp.InterpLinear
	}
	for i, w := range windows {
		if i >= MaxWindows {
			break
		}
		p.windows[i] = w
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mode returns the configured transform mode.
func (p *Pipeline) Mode() TransformMode { return p.mode }

// Interpolation returns the effective interpolation method.
func (p *Pipeline) Interpolation() dsp.Interpolation { return p.interp }

// Windows returns the configured window slots.
func (p *Pipeline) Windows() []Window { return p.windows[:] }

// CacheGeneration exposes the resampler cache generation for diagnostics.
func (p *Pipeline) CacheGeneration() uint64 { return p.resampler.Generation() }

// ProcessFrame runs one frame through resampling, the configured transform
// and peak detection. A failed per-window transform logs and skips that
// window; a failed resample fails the whole frame.
func (p *Pipeline) ProcessFrame(frame device.Frame) (PointResult, error) {
	var res PointResult
	fillNaN(&res.PeakOPD)
	fillNaN(&res.PeakAmp)

	signal, err := p.resampler.Resample(frame.Wavelengths, frame.Intensity, p.interp)
	if err != nil {
		return PointResult{}, fmt.Errorf("resampling frame: %w", err)
	}

	switch p.mode {
	case ModePerWindowCZT:
		p.processWindows(signal, &res)
	default:
		p.processFull(signal, &res)
	}
	return res, nil
}

func (p *Pipeline) processFull(signal []float64, res *PointResult) {
	spectrum, opd := dsp.DepthProfile(signal, p.resampler.DK())

	mag := make([]float64, len(spectrum))
	for i, v := range spectrum {
		mag[i] = math.Hypot(real(v), imag(v))
	}
	res.OPD = opd
	res.Magnitude = mag

	for w, win := range p.windows {
		if !win.valid() {
			continue
		}
		locs, amps, _ := p.detector.DetectInWindow(spectrum, opd, win.Min, win.Max)
		for i := 0; i < len(locs) && i < PeaksPerWindow; i++ {
			res.PeakOPD[w][i] = locs[i]
			res.PeakAmp[w][i] = amps[i]
		}
	}
}

func (p *Pipeline) processWindows(signal []float64, res *PointResult) {
	fs := p.resampler.SampleRate()
	for w, win := range p.windows {
		if !win.valid() {
			continue
		}
		z, fz := dsp.CZTReal(signal, win.Min, win.Max, fs, cztWindowPoints)
		locs, amps, _ := p.detector.Detect(z, fz)
		if len(locs) == 0 {
			p.logger.Debug("no peaks in window", "window", w, "min_m", win.Min, "max_m", win.Max)
			continue
		}
		for i := 0; i < len(locs) && i < PeaksPerWindow; i++ {
			res.PeakOPD[w][i] = locs[i]
			res.PeakAmp[w][i] = amps[i]
		}
	}
}

func fillNaN(buf *[MaxWindows][PeaksPerWindow]float64) {
	for w := range buf {
		for i := range buf[w] {
			buf[w][i] = math.NaN()
		}
	}
}
