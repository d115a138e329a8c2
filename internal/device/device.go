// Package device defines the hardware collaborators of the scan engine: the
// spectrometer producing raw spectra and the motion stages positioning the
// sample. Implementations wrap vendor SDKs; the sim subpackage provides
// in-process stand-ins for tests and dry runs.
package device

import (
	"context"
	"fmt"
	"time"
)

// Axis identifies a motion stage.
type Axis int

const (
	AxisX Axis = iota + 1
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Frame is a single raw spectrometer acquisition: the wavelength axis in
// nanometers and the measured intensity per pixel. Both slices have the
// detector's pixel count.
type Frame struct {
	Wavelengths []float64
	Intensity   []float64
}

// Spectrometer acquires raw spectra. Read blocks for at least the configured
// exposure time; callers discard one frame after a move so stale charge from
// the previous position never reaches the pipeline.
type Spectrometer interface {
	Read(ctx context.Context) (Frame, error)
	SetExposure(d time.Duration) error
	Exposure() time.Duration
}

// Motion positions a single-axis-at-a-time stage assembly. GotoAndWait
// blocks until the axis settles at the target (millimeters) and returns the
// achieved position; a failed move returns a *MotorError wrapping the cause.
type Motion interface {
	GotoAndWait(ctx context.Context, axis Axis, positionMM float64) (float64, error)
	Position(axis Axis) (float64, error)
}

// MotorError reports a failed or incomplete stage move. Motor failures are
// fatal to a scan: a missed position silently corrupts every coordinate
// recorded after it.
type MotorError struct {
	Axis   Axis
	Target float64
	Err    error
}

func (e *MotorError) Error() string {
	return fmt.Sprintf("motor %s: move to %.4f mm failed: %v", e.Axis, e.Target, e.Err)
}

func (e *MotorError) Unwrap() error { return e.Err }
