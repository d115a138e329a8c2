package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/vl-photonics/oct-controller/internal/scan"
)

// PointReader iterates a session's points in acquisition order,
// reassembling the fixed-shape peak buffers from their rows. Usage:
//
//	for reader.Next() {
//	    p := reader.Current()
//	    ...
//	}
//	if err := reader.Err(); err != nil { ... }
//
// A reader must be used from a single goroutine and closed after use.
type PointReader struct {
	rows    *sql.Rows
	peaks   map[int]*peakBuffers
	current scan.PointRecord
	err     error
}

type peakBuffers struct {
	opd [scan.MaxWindows][scan.PeaksPerWindow]float64
	amp [scan.MaxWindows][scan.PeaksPerWindow]float64
}

func newPeakBuffers() *peakBuffers {
	b := &peakBuffers{}
	for w := range b.opd {
		for i := range b.opd[w] {
			b.opd[w][i] = math.NaN()
			b.amp[w][i] = math.NaN()
		}
	}
	return b
}

// ReaderOption restricts which points a PointReader visits.
type ReaderOption func(*readerQuery)

type readerQuery struct {
	minSeq *int
	maxSeq *int
}

// WithMinSeq skips points acquired before the given sequence number.
func WithMinSeq(seq int) ReaderOption {
	return func(q *readerQuery) { q.minSeq = &seq }
}

// WithMaxSeq skips points acquired after the given sequence number.
func WithMaxSeq(seq int) ReaderOption {
	return func(q *readerQuery) { q.maxSeq = &seq }
}

// WithSeqRange restricts the reader to the inclusive sequence range.
func WithSeqRange(minSeq, maxSeq int) ReaderOption {
	return func(q *readerQuery) {
		q.minSeq = &minSeq
		q.maxSeq = &maxSeq
	}
}

// build appends the seq filters and ordering to a base select that ends in
// its session_id condition.
func (q readerQuery) build(base, orderBy string, sessionID int64) (string, []any) {
	query := base
	args := []any{sessionID}
	if q.minSeq != nil {
		query += " AND seq >= ?"
		args = append(args, *q.minSeq)
	}
	if q.maxSeq != nil {
		query += " AND seq <= ?"
		args = append(args, *q.maxSeq)
	}
	return query + orderBy, args
}

func newPointReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*PointReader, error) {
	var q readerQuery
	for _, opt := range opts {
		opt(&q)
	}

	// Peak rows are tiny (15 per point), so they load up front; the bulky
	// spectrum blobs stream row by row.
	peaks, err := loadPeaks(ctx, db, sessionID, q)
	if err != nil {
		return nil, err
	}

	query, args := q.build(selectPointsSQL, "\nORDER BY seq", sessionID)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	return &PointReader{rows: rows, peaks: peaks}, nil
}

func loadPeaks(ctx context.Context, db *sql.DB, sessionID int64, q readerQuery) (_ map[int]*peakBuffers, err error) {
	query, args := q.build(selectPeaksSQL, "\nORDER BY seq, window_idx, peak_rank", sessionID)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying peaks: %w", err)
	}
	defer closeWithError(rows, &err)

	peaks := make(map[int]*peakBuffers)
	for rows.Next() {
		var (
			seq, window, rank int
			opd, amp          sql.NullFloat64
		)
		if err = rows.Scan(&seq, &window, &rank, &opd, &amp); err != nil {
			return nil, fmt.Errorf("scanning peak: %w", err)
		}
		if window < 0 || window >= scan.MaxWindows || rank < 0 || rank >= scan.PeaksPerWindow {
			return nil, fmt.Errorf("peak slot (%d, %d) out of range", window, rank)
		}

		b, ok := peaks[seq]
		if !ok {
			b = newPeakBuffers()
			peaks[seq] = b
		}
		b.opd[window][rank] = floatOrNaN(opd)
		b.amp[window][rank] = floatOrNaN(amp)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating peaks: %w", err)
	}
	return peaks, nil
}

// Next advances to the next point. It returns false at the end of the
// session or on error; check Err afterwards.
func (r *PointReader) Next() bool {
	if r.err != nil || !r.rows.Next() {
		if r.err == nil {
			r.err = r.rows.Err()
		}
		return false
	}

	var (
		rec                 scan.PointRecord
		spectrum, magnitude []byte
	)
	if err := r.rows.Scan(&rec.Seq, &rec.X, &rec.Y, &rec.Z, &spectrum, &magnitude); err != nil {
		r.err = fmt.Errorf("scanning point: %w", err)
		return false
	}

	if rec.Spectrum, r.err = blobToFloats(spectrum); r.err != nil {
		return false
	}
	if rec.Magnitude, r.err = blobToFloats(magnitude); r.err != nil {
		return false
	}

	if b, ok := r.peaks[rec.Seq]; ok {
		rec.PeakOPD = b.opd
		rec.PeakAmp = b.amp
	} else {
		empty := newPeakBuffers()
		rec.PeakOPD = empty.opd
		rec.PeakAmp = empty.amp
	}

	r.current = rec
	return true
}

// Current returns the point positioned by the last successful Next.
func (r *PointReader) Current() scan.PointRecord { return r.current }

// Err returns the first error encountered during iteration.
func (r *PointReader) Err() error { return r.err }

// Close releases the underlying rows.
func (r *PointReader) Close() error { return r.rows.Close() }
