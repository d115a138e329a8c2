package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Controller serializes access to the shared spectrometer between live
// preview and scanning. A preview tick takes the lock for a single frame,
// while a scan holds it end to end, so preview automatically suspends for
// the duration of a scan and resumes afterwards.
type Controller struct {
	mu       sync.Mutex
	scanner  *Scanner
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewController wires a controller over a scanner and its pipeline.
func NewController(scanner *Scanner, pipeline *Pipeline, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{scanner: scanner, pipeline: pipeline, logger: logger}
}

// Preview acquires and processes a single frame outside of any scan. It
// blocks while a scan holds the device.
func (c *Controller) Preview(ctx context.Context) (PointResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := c.scanner.spec.Read(ctx)
	if err != nil {
		return PointResult{}, err
	}
	return c.pipeline.ProcessFrame(frame)
}

// PreviewLoop calls fn with a fresh processed frame every interval until the
// context ends. Frame errors are logged and the loop keeps going; the loop
// naturally stalls while a scan is running and resumes when it finishes.
func (c *Controller) PreviewLoop(ctx context.Context, interval time.Duration, fn func(PointResult)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick may already be pending when the context ends.
			if ctx.Err() != nil {
				return
			}
			res, err := c.Preview(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("preview frame failed", "error", err)
				continue
			}
			fn(res)
		}
	}
}

// RunScan executes the plan while holding the device lock, suspending
// preview for the duration.
func (c *Controller) RunScan(ctx context.Context, plan Plan, meta Metadata) (*Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanner.Run(ctx, plan, meta)
}

// Abort forwards to the running scan, if any. It does not take the device
// lock: the point of aborting is to interrupt the scan that holds it.
func (c *Controller) Abort() { c.scanner.Abort() }
