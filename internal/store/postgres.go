package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
)

// PostgresStore is a PostgreSQL (optionally TimescaleDB) implementation of
// Store. The schema lives in package database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing pool. The caller owns the
// pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// WritePoint appends p.
func (s *PostgresStore) WritePoint(ctx context.Context, p reading.StoredPoint) error {
	query := `
		INSERT INTO readings (cell_id, ts, latitude, longitude, pm25, pm10, no2, so2, o3)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		p.CellID,
		p.Timestamp.UTC(),
		p.Latitude,
		p.Longitude,
		p.PM25,
		p.PM10,
		p.NO2,
		p.SO2,
		p.O3,
	)
	if err != nil {
		return transient("write point", err)
	}
	return nil
}

// WriteAnomaly persists a. A repeated id is ignored.
func (s *PostgresStore) WriteAnomaly(ctx context.Context, a anomaly.Anomaly) error {
	query := `
		INSERT INTO anomalies (id, parameter, value, threshold, latitude, longitude, cell_id, ts, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID,
		string(a.Parameter),
		a.Value,
		a.Threshold,
		a.Latitude,
		a.Longitude,
		a.CellID,
		a.Timestamp.UTC(),
		a.Description,
	)
	if err != nil {
		return transient("write anomaly", err)
	}
	return nil
}

// QueryRange returns points under prefix in [from, to], oldest first.
func (s *PostgresStore) QueryRange(ctx context.Context, prefix string, from, to time.Time) ([]reading.StoredPoint, error) {
	query := `
		SELECT cell_id, ts, latitude, longitude, pm25, pm10, no2, so2, o3
		FROM readings
		WHERE cell_id LIKE $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
	`

	rows, err := s.pool.Query(ctx, query, likePrefix(prefix), from.UTC(), to.UTC())
	if err != nil {
		return nil, transient("query range", err)
	}
	return collectPoints(rows, "query range")
}

// Recent returns up to limit points, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]reading.StoredPoint, error) {
	query := `
		SELECT cell_id, ts, latitude, longitude, pm25, pm10, no2, so2, o3
		FROM readings
		ORDER BY ts DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, transient("recent", err)
	}
	return collectPoints(rows, "recent")
}

// QueryAnomalies returns anomalies in [from, to], newest first.
func (s *PostgresStore) QueryAnomalies(ctx context.Context, from, to time.Time) ([]anomaly.Anomaly, error) {
	query := `
		SELECT id, parameter, value, threshold, latitude, longitude, cell_id, ts, description
		FROM anomalies
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts DESC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, transient("query anomalies", err)
	}
	defer rows.Close()

	var out []anomaly.Anomaly
	for rows.Next() {
		var (
			a     anomaly.Anomaly
			param string
		)
		err := rows.Scan(
			&a.ID,
			&param,
			&a.Value,
			&a.Threshold,
			&a.Latitude,
			&a.Longitude,
			&a.CellID,
			&a.Timestamp,
			&a.Description,
		)
		if err != nil {
			return nil, transient("query anomalies", err)
		}
		a.Parameter = reading.Parameter(param)
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("query anomalies", err)
	}
	return out, nil
}

// Ping checks the pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return transient("ping", err)
	}
	return nil
}

func collectPoints(rows pgx.Rows, op string) ([]reading.StoredPoint, error) {
	defer rows.Close()

	var out []reading.StoredPoint
	for rows.Next() {
		var p reading.StoredPoint
		err := rows.Scan(
			&p.CellID,
			&p.Timestamp,
			&p.Latitude,
			&p.Longitude,
			&p.PM25,
			&p.PM10,
			&p.NO2,
			&p.SO2,
			&p.O3,
		)
		if err != nil {
			return nil, transient(op, err)
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(op, err)
	}
	return out, nil
}

// likePrefix escapes LIKE metacharacters in prefix and appends a wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
