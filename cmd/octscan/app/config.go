package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vl-photonics/oct-controller/internal/dsp"
	"github.com/vl-photonics/oct-controller/internal/scan"
)

const (
	ModeFull = "full"
	ModeCZT  = "czt"

	InterpolationCubic  = "cubic"
	InterpolationLinear = "linear"
)

// Config is the main application configuration.
type Config struct {
	Settings     Settings           `yaml:"settings"`
	Spectrometer SpectrometerConfig `yaml:"spectrometer"`
	Motors       MotorsConfig       `yaml:"motors"`
	Processing   ProcessingConfig   `yaml:"processing"`
	Scan         ScanConfig         `yaml:"scan"`
	Preview      PreviewConfig      `yaml:"preview"`
	Storage      StorageConfig      `yaml:"storage"`
}

// Settings holds global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// SlogLevel parses the configured log level, defaulting to info.
func (s Settings) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SpectrometerConfig configures the acquisition device and its corrections.
type SpectrometerConfig struct {
	Pixels          int     `yaml:"pixels"`
	LambdaMinNM     float64 `yaml:"lambdaMinNm"`
	LambdaMaxNM     float64 `yaml:"lambdaMaxNm"`
	ExposureMS      float64 `yaml:"exposureMs"`
	Averages        int     `yaml:"averages"`
	Gamma           float64 `yaml:"gamma"`
	DarkSubtraction bool    `yaml:"darkSubtraction"`

	// Simulated reflectors, used until a vendor driver backend lands.
	Reflectors []ReflectorConfig `yaml:"reflectors"`
}

// Exposure returns the configured integration time.
func (c SpectrometerConfig) Exposure() time.Duration {
	return time.Duration(c.ExposureMS * float64(time.Millisecond))
}

// ReflectorConfig is one synthetic sample interface of the simulated
// spectrometer.
type ReflectorConfig struct {
	OPDMicrons float64 `yaml:"opdUm"`
	Amplitude  float64 `yaml:"amplitude"`
}

// MotorsConfig configures the motion stages.
type MotorsConfig struct {
	SettleMS float64 `yaml:"settleMs"`
}

// Settle returns the mechanical settling time after each move.
func (c MotorsConfig) Settle() time.Duration {
	return time.Duration(c.SettleMS * float64(time.Millisecond))
}

// ProcessingConfig selects the transform mode and depth windows.
type ProcessingConfig struct {
	Mode          string         `yaml:"mode"`
	Interpolation string         `yaml:"interpolation"`
	Windows       []WindowConfig `yaml:"windows"`
}

// TransformMode maps the configured mode string to its enum value.
func (c ProcessingConfig) TransformMode() scan.TransformMode {
	if c.Mode == ModeCZT {
		return scan.ModePerWindowCZT
	}
	return scan.ModeFullSpectrum
}

// InterpolationMethod maps the configured interpolation to its enum value.
func (c ProcessingConfig) InterpolationMethod() dsp.Interpolation {
	if c.Interpolation == InterpolationLinear {
		return dsp.InterpLinear
	}
	return dsp.InterpCubic
}

// ScanWindows converts the configured windows (millimeters) to scan windows
// (meters).
func (c ProcessingConfig) ScanWindows() []scan.Window {
	out := make([]scan.Window, len(c.Windows))
	for i, w := range c.Windows {
		out[i] = scan.Window{Min: w.MinMM * 1e-3, Max: w.MaxMM * 1e-3, Enabled: w.Enabled}
	}
	return out
}

// WindowConfig is one depth window, bounded in millimeters of OPD.
type WindowConfig struct {
	MinMM   float64 `yaml:"minMm"`
	MaxMM   float64 `yaml:"maxMm"`
	Enabled bool    `yaml:"enabled"`
}

// ScanConfig describes the scan grid and checkpointing.
type ScanConfig struct {
	X AxisConfig `yaml:"x"`
	Y AxisConfig `yaml:"y"`
	Z AxisConfig `yaml:"z"`

	// CheckpointInterval is the fraction of progress between partial
	// saves; zero disables them.
	CheckpointInterval float64 `yaml:"checkpointInterval"`
}

// Plan converts the scan configuration to an executable plan.
func (c ScanConfig) Plan(settle time.Duration) scan.Plan {
	return scan.Plan{
		X:                  c.X.AxisPlan(),
		Y:                  c.Y.AxisPlan(),
		Z:                  c.Z.AxisPlan(),
		Settle:             settle,
		CheckpointInterval: c.CheckpointInterval,
	}
}

// AxisConfig is one axis sweep in millimeters.
type AxisConfig struct {
	Enabled bool    `yaml:"enabled"`
	Start   float64 `yaml:"start"`
	End     float64 `yaml:"end"`
	Step    float64 `yaml:"step"`
}

// AxisPlan converts the axis configuration to its plan form.
func (c AxisConfig) AxisPlan() scan.AxisPlan {
	return scan.AxisPlan{Enabled: c.Enabled, Start: c.Start, End: c.End, Step: c.Step}
}

// PreviewConfig controls the pre-scan live preview.
type PreviewConfig struct {
	Frames     int     `yaml:"frames"`
	IntervalMS float64 `yaml:"intervalMs"`
}

// Interval returns the preview frame interval.
func (c PreviewConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS * float64(time.Millisecond))
}

// StorageConfig holds archive settings.
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// LoadConfig reads, defaults and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Spectrometer: SpectrometerConfig{
			Pixels:      2048,
			LambdaMinNM: 780,
			LambdaMaxNM: 920,
			ExposureMS:  10,
			Averages:    1,
			Gamma:       1.0,
		},
		Motors: MotorsConfig{SettleMS: 50},
		Processing: ProcessingConfig{
			Mode:          ModeFull,
			Interpolation: InterpolationCubic,
		},
		Scan: ScanConfig{CheckpointInterval: 0.10},
		Preview: PreviewConfig{
			Frames:     3,
			IntervalMS: 100,
		},
	}
}

func (c *Config) validate() error {
	if c.Spectrometer.Pixels < 2 {
		return fmt.Errorf("spectrometer: pixels must be at least 2, got %d", c.Spectrometer.Pixels)
	}
	if c.Spectrometer.LambdaMaxNM <= c.Spectrometer.LambdaMinNM {
		return fmt.Errorf("spectrometer: wavelength range [%g, %g] nm is empty",
			c.Spectrometer.LambdaMinNM, c.Spectrometer.LambdaMaxNM)
	}
	if c.Spectrometer.ExposureMS <= 0 {
		return fmt.Errorf("spectrometer: exposure %g ms must be positive", c.Spectrometer.ExposureMS)
	}
	if c.Spectrometer.Averages < 1 {
		return fmt.Errorf("spectrometer: averages must be at least 1, got %d", c.Spectrometer.Averages)
	}

	switch c.Processing.Mode {
	case ModeFull, ModeCZT:
	default:
		return fmt.Errorf("processing: unknown mode %q", c.Processing.Mode)
	}
	switch c.Processing.Interpolation {
	case InterpolationCubic, InterpolationLinear:
	default:
		return fmt.Errorf("processing: unknown interpolation %q", c.Processing.Interpolation)
	}
	if len(c.Processing.Windows) > scan.MaxWindows {
		return fmt.Errorf("processing: %d windows configured, at most %d supported",
			len(c.Processing.Windows), scan.MaxWindows)
	}
	for i, w := range c.Processing.Windows {
		if w.Enabled && w.MaxMM <= w.MinMM {
			return fmt.Errorf("processing: window %d range [%g, %g] mm is empty", i, w.MinMM, w.MaxMM)
		}
	}

	plan := c.Scan.Plan(c.Motors.Settle())
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}
