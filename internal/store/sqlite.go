package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		cell_id   TEXT    NOT NULL,
		ts        INTEGER NOT NULL,
		latitude  REAL    NOT NULL,
		longitude REAL    NOT NULL,
		pm25      REAL,
		pm10      REAL,
		no2       REAL,
		so2       REAL,
		o3        REAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_cell_ts ON readings (cell_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings (ts)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id          TEXT PRIMARY KEY,
		parameter   TEXT    NOT NULL,
		value       REAL    NOT NULL,
		threshold   REAL    NOT NULL,
		latitude    REAL    NOT NULL,
		longitude   REAL    NOT NULL,
		cell_id     TEXT    NOT NULL,
		ts          INTEGER NOT NULL,
		description TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_ts ON anomalies (ts)`,
}

// SQLiteStore is an embedded single-node implementation of Store backed by
// modernc.org/sqlite. Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	pragmas := []string{`PRAGMA busy_timeout = 5000`}
	if path != ":memory:" {
		pragmas = append(pragmas, `PRAGMA journal_mode = WAL`)
	}
	for _, stmt := range append(pragmas, sqliteSchema...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WritePoint appends p.
func (s *SQLiteStore) WritePoint(ctx context.Context, p reading.StoredPoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (cell_id, ts, latitude, longitude, pm25, pm10, no2, so2, o3)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CellID,
		p.Timestamp.UnixNano(),
		p.Latitude,
		p.Longitude,
		nullable(p.PM25),
		nullable(p.PM10),
		nullable(p.NO2),
		nullable(p.SO2),
		nullable(p.O3),
	)
	if err != nil {
		return transient("write point", err)
	}
	return nil
}

// WriteAnomaly persists a. A repeated id is ignored.
func (s *SQLiteStore) WriteAnomaly(ctx context.Context, a anomaly.Anomaly) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anomalies (id, parameter, value, threshold, latitude, longitude, cell_id, ts, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID,
		string(a.Parameter),
		a.Value,
		a.Threshold,
		a.Latitude,
		a.Longitude,
		a.CellID,
		a.Timestamp.UnixNano(),
		a.Description,
	)
	if err != nil {
		return transient("write anomaly", err)
	}
	return nil
}

// QueryRange returns points under prefix in [from, to], oldest first.
func (s *SQLiteStore) QueryRange(ctx context.Context, prefix string, from, to time.Time) ([]reading.StoredPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cell_id, ts, latitude, longitude, pm25, pm10, no2, so2, o3
		 FROM readings
		 WHERE cell_id >= ? AND cell_id < ? AND ts >= ? AND ts <= ?
		 ORDER BY ts ASC, rowid ASC`,
		prefix, prefixUpperBound(prefix), from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, transient("query range", err)
	}
	return scanSQLitePoints(rows, "query range")
}

// Recent returns up to limit points, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]reading.StoredPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cell_id, ts, latitude, longitude, pm25, pm10, no2, so2, o3
		 FROM readings
		 ORDER BY ts DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, transient("recent", err)
	}
	return scanSQLitePoints(rows, "recent")
}

// QueryAnomalies returns anomalies in [from, to], newest first.
func (s *SQLiteStore) QueryAnomalies(ctx context.Context, from, to time.Time) ([]anomaly.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parameter, value, threshold, latitude, longitude, cell_id, ts, description
		 FROM anomalies
		 WHERE ts >= ? AND ts <= ?
		 ORDER BY ts DESC, id ASC`,
		from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, transient("query anomalies", err)
	}
	defer rows.Close()

	var out []anomaly.Anomaly
	for rows.Next() {
		var (
			a     anomaly.Anomaly
			param string
			ts    int64
		)
		if err := rows.Scan(&a.ID, &param, &a.Value, &a.Threshold, &a.Latitude, &a.Longitude, &a.CellID, &ts, &a.Description); err != nil {
			return nil, transient("query anomalies", err)
		}
		a.Parameter = reading.Parameter(param)
		a.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("query anomalies", err)
	}
	return out, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return transient("ping", err)
	}
	return nil
}

func scanSQLitePoints(rows *sql.Rows, op string) ([]reading.StoredPoint, error) {
	defer rows.Close()

	var out []reading.StoredPoint
	for rows.Next() {
		var (
			p    reading.StoredPoint
			ts   int64
			vals [5]sql.NullFloat64
		)
		err := rows.Scan(&p.CellID, &ts, &p.Latitude, &p.Longitude, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4])
		if err != nil {
			return nil, transient(op, err)
		}
		p.Timestamp = time.Unix(0, ts).UTC()
		// Columns follow reading.Parameters order.
		for i, param := range reading.Parameters {
			if vals[i].Valid {
				p.Pollutants = p.Pollutants.With(param, vals[i].Float64)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(op, err)
	}
	return out, nil
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
