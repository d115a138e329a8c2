package sim

import (
	"context"
	"sync"

	"github.com/vl-photonics/oct-controller/internal/device"
)

// Move records one completed stage move.
type Move struct {
	Axis     device.Axis
	Position float64
}

// Stage is a motion assembly that settles instantly at every target. It
// records the full move history so tests can assert traversal order and the
// return-to-start behavior.
type Stage struct {
	mu    sync.Mutex
	pos   map[device.Axis]float64
	moves []Move

	// FailAt injects a *MotorError on the move with this 1-based ordinal;
	// zero disables injection.
	FailAt  int
	FailErr error
}

// NewStage returns a stage with all axes at zero.
func NewStage() *Stage {
	return &Stage{pos: make(map[device.Axis]float64)}
}

// GotoAndWait moves the axis to the target and returns it unchanged.
func (s *Stage) GotoAndWait(ctx context.Context, axis device.Axis, positionMM float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAt > 0 && len(s.moves)+1 == s.FailAt {
		return s.pos[axis], &device.MotorError{Axis: axis, Target: positionMM, Err: s.FailErr}
	}

	s.pos[axis] = positionMM
	s.moves = append(s.moves, Move{Axis: axis, Position: positionMM})
	return positionMM, nil
}

// Position returns the last commanded position of the axis.
func (s *Stage) Position(axis device.Axis) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[axis], nil
}

// Moves returns a copy of the move history.
func (s *Stage) Moves() []Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Move, len(s.moves))
	copy(out, s.moves)
	return out
}

var _ device.Motion = (*Stage)(nil)
