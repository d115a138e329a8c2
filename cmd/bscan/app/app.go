package app

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/vl-photonics/oct-controller/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("archive file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	return renderSession(ctx, store, config, logger)
}

func renderSession(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) error {
	sess, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return fmt.Errorf("loading session %d: %w", config.SessionID, err)
	}

	logger.Info("session",
		slog.String("type", sess.ScanType),
		slog.String("mode", sess.Mode.String()),
		slog.Int("points", sess.PointsAcquired),
		slog.Bool("final", sess.IsFinal),
	)

	reader, err := store.ReadPoints(ctx, config.SessionID)
	if err != nil {
		return err
	}
	defer reader.Close()

	logger.Info("reading data points, hold on tight, it will take a while")

	spec := NewBScanData(sess.Metadata, NewSmoothBounds(0.3))
	profiles := 0
	for reader.Next() {
		rec := reader.Current()
		if rec.Magnitude != nil {
			profiles++
		}
		spec.Update(rec)
	}
	if err = reader.Err(); err != nil {
		return err
	}

	if spec.Width == 0 {
		return fmt.Errorf("session %d has no points", config.SessionID)
	}
	if profiles == 0 {
		return errors.New("session has no depth profiles to render; it was likely recorded in per-window mode")
	}

	bounds := spec.BoundsTracker.Current()
	if config.MinAmplitude != nil {
		bounds.Min = *config.MinAmplitude
	}
	if config.MaxAmplitude != nil {
		bounds.Max = *config.MaxAmplitude
	}
	spec.BoundsTracker.current = bounds

	logger.Info("finished reading data points",
		slog.Group("stats",
			slog.Int("profiles", profiles),
			slog.String("lateral", fmt.Sprintf("%g - %g mm", spec.XMin, spec.XMax)),
			slog.String("depth", fmt.Sprintf("0 - %s", formatDepth(spec.DepthMax*1e3))),
			slog.String("minAmp", fmt.Sprintf("%0.2fdB", bounds.Min)),
			slog.String("maxAmp", fmt.Sprintf("%0.2fdB", bounds.Max)),
		))

	renderer, err := NewBScanRenderer(RenderConfig{
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}

	logger.Info("rendering image",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", spec.Width),
			slog.Int("height", spec.Height),
		))

	start := time.Now()
	img, err := renderer.Render(spec)
	if err != nil {
		return fmt.Errorf("rendering image: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	if err != nil {
		return err
	}

	logger.Info("done", slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return nil
}
