package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vl-photonics/oct-controller/internal/device"
	"github.com/vl-photonics/oct-controller/internal/device/sim"
	"github.com/vl-photonics/oct-controller/internal/dsp"
	"github.com/vl-photonics/oct-controller/internal/scan"
	"github.com/vl-photonics/oct-controller/internal/storage"
)

const storageDir = "data"

// Run wires the devices, pipeline and archive together and executes the
// configured scan, optionally preceded by a few preview frames.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store, dbPath, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing archive", "error", err)
		}
	}()

	spec, err := createSpectrometer(&config.Spectrometer)
	if err != nil {
		return fmt.Errorf("failed to create spectrometer: %w", err)
	}
	stage := sim.NewStage()

	pipeline := scan.NewPipeline(
		config.Processing.TransformMode(),
		config.Processing.InterpolationMethod(),
		config.Processing.ScanWindows(),
		scan.WithPipelineLogger(logger),
	)

	logTheory(logger, &config.Spectrometer)

	scanner := scan.NewScanner(spec, stage, pipeline, store, scan.WithScannerLogger(logger))
	controller := scan.NewController(scanner, pipeline, logger)

	if err := runPreview(ctx, controller, &config.Preview, logger); err != nil {
		return err
	}

	plan := config.Scan.Plan(config.Motors.Settle())
	meta := scan.Metadata{Averages: config.Spectrometer.Averages}

	summary, err := controller.RunScan(ctx, plan, meta)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	logSummary(logger, summary, dbPath)
	return nil
}

func createSpectrometer(config *SpectrometerConfig) (device.Spectrometer, error) {
	reflectors := make([]sim.Reflector, len(config.Reflectors))
	for i, r := range config.Reflectors {
		reflectors[i] = sim.Reflector{OPD: r.OPDMicrons * 1e-6, Amplitude: r.Amplitude}
	}

	src := sim.NewSpectrometer(config.Pixels, config.LambdaMinNM, config.LambdaMaxNM,
		sim.WithReflectors(reflectors...),
		sim.WithNoise(0.01),
	)
	if err := src.SetExposure(config.Exposure()); err != nil {
		return nil, fmt.Errorf("setting exposure: %w", err)
	}

	opts := []device.CorrectedOption{
		device.WithAverages(config.Averages),
		device.WithGamma(config.Gamma),
	}
	if config.DarkSubtraction {
		opts = append(opts, device.WithDarkSubtraction())
	}
	return device.NewCorrected(src, opts...), nil
}

func logTheory(logger *slog.Logger, config *SpectrometerConfig) {
	logger.Info("theoretical imaging limits",
		"axial_resolution_um", fmt.Sprintf("%.2f", dsp.AxialResolution(config.LambdaMinNM, config.LambdaMaxNM)),
		"max_depth_range_mm", fmt.Sprintf("%.2f", dsp.MaxDepthRange(config.LambdaMinNM, config.LambdaMaxNM, config.Pixels)),
	)
}

func runPreview(ctx context.Context, controller *scan.Controller, config *PreviewConfig, logger *slog.Logger) error {
	if config.Frames <= 0 {
		return nil
	}

	previewCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frame := 0
	controller.PreviewLoop(previewCtx, config.Interval(), func(res scan.PointResult) {
		frame++
		logger.Info("preview frame", "frame", frame, "profile_points", len(res.Magnitude))
		if frame >= config.Frames {
			cancel()
		}
	})
	return ctx.Err()
}

func logSummary(logger *slog.Logger, summary *scan.Summary, dbPath string) {
	size := "unknown"
	if stat, err := os.Stat(dbPath); err == nil {
		size = humanize.Bytes(uint64(stat.Size()))
	}

	logger.Info("scan complete",
		"points", fmt.Sprintf("%s/%s",
			humanize.Comma(int64(summary.PointsAcquired)),
			humanize.Comma(int64(summary.PointsTotal))),
		"read_failures", summary.ReadFailures,
		"aborted", summary.Aborted,
		"duration", summary.Duration.Round(time.Millisecond).String(),
		"archive_size", size,
	)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbDir := filepath.Join(wd, storageDir)
	if config.DataDirectory != "" {
		dbDir = filepath.Join(wd, config.DataDirectory)
	}

	stat, err := os.Stat(dbDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("storage directory '%s' does not exist: %w", dbDir, err)
		}
		return nil, "", fmt.Errorf("checking storage directory '%s': %w", dbDir, err)
	}
	if !stat.IsDir() {
		return nil, "", fmt.Errorf("invalid storage directory '%s'", dbDir)
	}

	dbPath := filepath.Join(dbDir, fmt.Sprintf("oct_scan_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), dbPath, nil
}
