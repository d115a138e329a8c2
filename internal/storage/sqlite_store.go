// Package storage persists scan sessions to a single-file sqlite archive.
// The write path is tuned for a scanner streaming batches of points; reads
// happen on a separate read-only connection so a renderer can follow a scan
// in progress.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vl-photonics/oct-controller/internal/scan"
)

// SqliteStore handles archive database operations. It implements
// scan.Archiver for the write path and exposes read methods for tooling.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	sessionID int64
}

// NewSqliteStore creates a store over the given database path. Connections
// open lazily on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// BeginSession inserts the session row and remembers its id for the
// subsequent point batches and updates.
func (s *SqliteStore) BeginSession(ctx context.Context, meta scan.Metadata) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	windows, err := json.Marshal(toWindowConfigs(meta.Windows))
	if err != nil {
		return fmt.Errorf("marshaling windows: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx,
		meta.ScanType,
		exposureToMicros(meta.Exposure),
		meta.Averages,
		meta.Mode.String(),
		meta.Interpolation,
		string(windows),
		floatsToBlob(meta.Wavelengths),
		meta.PointsTotal,
		meta.PartsTotal,
		meta.StartTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting session ID: %w", err)
	}

	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
	return nil
}

// SessionID returns the id of the session begun on this store.
func (s *SqliteStore) SessionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// StorePoints batch-inserts a drained buffer of point records and their
// peak rows in a single transaction.
func (s *SqliteStore) StorePoints(ctx context.Context, points []scan.PointRecord) (err error) {
	if len(points) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	sessionID := s.SessionID()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	var sb strings.Builder
	sb.WriteString(insertPointSQL)

	values := make([]interface{}, 0, len(points)*7)
	for i, p := range points {
		var magnitude interface{}
		if blob := floatsToBlob(p.Magnitude); blob != nil {
			magnitude = blob
		}
		values = append(values, sessionID, p.Seq, p.X, p.Y, p.Z, floatsToBlob(p.Spectrum), magnitude)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
	}

	if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting points: %w", err)
	}

	sb.Reset()
	sb.WriteString(insertPeakSQL)

	peakValues := make([]interface{}, 0, len(points)*scan.MaxWindows*scan.PeaksPerWindow*6)
	first := true
	for _, p := range points {
		for w := 0; w < scan.MaxWindows; w++ {
			for r := 0; r < scan.PeaksPerWindow; r++ {
				peakValues = append(peakValues,
					sessionID, p.Seq, w, r,
					nullFloat(p.PeakOPD[w][r]),
					nullFloat(p.PeakAmp[w][r]),
				)
				if !first {
					sb.WriteString(", ")
				}
				sb.WriteString("(?, ?, ?, ?, ?, ?)")
				first = false
			}
		}
	}

	if _, err = tx.ExecContext(ctx, sb.String(), peakValues...); err != nil {
		return fmt.Errorf("batch inserting peaks: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// UpdateSession rewrites the session's progress columns. Each call commits,
// so the archive stays consistent at every checkpoint.
func (s *SqliteStore) UpdateSession(ctx context.Context, meta scan.Metadata) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, updateSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var endTime interface{}
	if !meta.EndTime.IsZero() {
		endTime = meta.EndTime.UTC()
	}

	if _, err = stmt.ExecContext(ctx,
		floatsToBlob(meta.Wavelengths),
		meta.PointsAcquired,
		meta.PartIndex,
		meta.IsFinal,
		endTime,
		s.SessionID(),
	); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// Session loads one stored session by id.
func (s *SqliteStore) Session(ctx context.Context, id int64) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	sess, err := scanSession(stmt.QueryRowContext(ctx, id))
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Sessions lists every stored session in insertion order.
func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// ReadPoints opens an iterator over a session's points in acquisition
// order, optionally restricted to a sequence range. The caller must Close
// it.
func (s *SqliteStore) ReadPoints(ctx context.Context, sessionID int64, opts ...ReaderOption) (*PointReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newPointReader(ctx, db, sessionID, opts...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess        Session
		exposureUS  int64
		mode        string
		windowsJSON sql.NullString
		wavelengths []byte
		isFinal     bool
		startTime   time.Time
		endTime     sql.NullTime
	)

	if err := row.Scan(
		&sess.ID,
		&sess.ScanType,
		&exposureUS,
		&sess.Averages,
		&mode,
		&sess.Interpolation,
		&windowsJSON,
		&wavelengths,
		&sess.PointsTotal,
		&sess.PointsAcquired,
		&sess.PartIndex,
		&sess.PartsTotal,
		&isFinal,
		&startTime,
		&endTime,
	); err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.Exposure = microsToExposure(exposureUS)
	sess.Mode = modeFromString(mode)
	sess.IsFinal = isFinal
	sess.StartTime = startTime
	if endTime.Valid {
		sess.EndTime = endTime.Time
	}

	if windowsJSON.Valid && windowsJSON.String != "" {
		var configs []windowConfig
		if err := json.Unmarshal([]byte(windowsJSON.String), &configs); err != nil {
			return nil, fmt.Errorf("unmarshaling windows: %w", err)
		}
		sess.Windows = fromWindowConfigs(configs)
	}

	wl, err := blobToFloats(wavelengths)
	if err != nil {
		return nil, fmt.Errorf("decoding wavelengths: %w", err)
	}
	sess.Wavelengths = wl

	return &sess, nil
}

// Close creates the deferred indexes and closes both connections.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

var _ scan.Archiver = (*SqliteStore)(nil)
