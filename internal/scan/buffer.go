package scan

import "sync"

// PointRecord is one acquired scan point as persisted to the archive:
// stage coordinates, the raw corrected spectrum, the optional full-range
// magnitude profile, and the fixed-shape peak buffers (NaN in unused slots).
type PointRecord struct {
	Seq       int
	X, Y, Z   float64 // mm
	Spectrum  []float64
	Magnitude []float64
	PeakOPD   [MaxWindows][PeaksPerWindow]float64
	PeakAmp   [MaxWindows][PeaksPerWindow]float64
}

// Buffer accumulates point records between archive flushes. The scanner
// appends from its acquisition loop while checkpoints drain complete
// batches, so all operations are locked.
type Buffer struct {
	mu     sync.Mutex
	points []PointRecord
}

// Append adds a record to the buffer.
func (b *Buffer) Append(rec PointRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points = append(b.points, rec)
}

// Size returns the number of buffered records.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}

// DrainAll removes and returns every buffered record, or nil when the
// buffer is empty.
func (b *Buffer) DrainAll() []PointRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.points) == 0 {
		return nil
	}
	out := b.points
	b.points = nil
	return out
}
