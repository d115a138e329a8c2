package storage

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    scan_type       TEXT NOT NULL,
    exposure_us     INTEGER NOT NULL,
    averages        INTEGER NOT NULL,
    transform_mode  TEXT NOT NULL,
    interpolation   TEXT NOT NULL,
    windows         TEXT,
    wavelengths     BLOB,
    points_total    INTEGER NOT NULL DEFAULT 0,
    points_acquired INTEGER NOT NULL DEFAULT 0,
    part_index      INTEGER NOT NULL DEFAULT 0,
    parts_total     INTEGER NOT NULL DEFAULT 0,
    is_final        INTEGER NOT NULL DEFAULT 0,
    start_time      TIMESTAMP,
    end_time        TIMESTAMP
);

CREATE TABLE IF NOT EXISTS points (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL REFERENCES sessions(id),
    seq        INTEGER NOT NULL,
    x          REAL NOT NULL,
    y          REAL NOT NULL,
    z          REAL NOT NULL,
    spectrum   BLOB NOT NULL,
    magnitude  BLOB
);

CREATE TABLE IF NOT EXISTS peaks (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL REFERENCES sessions(id),
    seq        INTEGER NOT NULL,
    window_idx INTEGER NOT NULL,
    peak_rank  INTEGER NOT NULL,
    opd        REAL,
    amplitude  REAL
);`

// Indexes are created on Close, once the bulk inserts are done.
const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_points_session_seq ON points(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_peaks_session_seq ON peaks(session_id, seq);`

const (
	insertSessionSQL = `
INSERT INTO sessions (scan_type,
                      exposure_us,
                      averages,
                      transform_mode,
                      interpolation,
                      windows,
                      wavelengths,
                      points_total,
                      parts_total,
                      start_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateSessionSQL = `
UPDATE sessions
SET wavelengths     = ?,
    points_acquired = ?,
    part_index      = ?,
    is_final        = ?,
    end_time        = ?
WHERE
    id = ?`

	selectSessionSQL = `
SELECT
    id,
    scan_type,
    exposure_us,
    averages,
    transform_mode,
    interpolation,
    windows,
    wavelengths,
    points_total,
    points_acquired,
    part_index,
    parts_total,
    is_final,
    start_time,
    end_time
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    scan_type,
    exposure_us,
    averages,
    transform_mode,
    interpolation,
    windows,
    wavelengths,
    points_total,
    points_acquired,
    part_index,
    parts_total,
    is_final,
    start_time,
    end_time
FROM sessions
ORDER BY id`

	insertPointSQL = `
INSERT INTO points (session_id,
                    seq,
                    x,
                    y,
                    z,
                    spectrum,
                    magnitude)
VALUES `

	insertPeakSQL = `
INSERT INTO peaks (session_id,
                   seq,
                   window_idx,
                   peak_rank,
                   opd,
                   amplitude)
VALUES `

	// The point and peak selects get their seq filters and ORDER BY
	// appended by the reader.
	selectPointsSQL = `
SELECT
    seq,
    x,
    y,
    z,
    spectrum,
    magnitude
FROM points
WHERE
    session_id = ?`

	selectPeaksSQL = `
SELECT
    seq,
    window_idx,
    peak_rank,
    opd,
    amplitude
FROM peaks
WHERE
    session_id = ?`
)
