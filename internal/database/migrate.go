package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Schema creates the readings and anomalies tables. Readings are append-only
// and looked up by cell prefix, so cell_id carries a pattern_ops index for
// LIKE 'prefix%' scans.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		cell_id   VARCHAR(12)      NOT NULL,
		ts        TIMESTAMPTZ      NOT NULL,
		latitude  DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		pm25      DOUBLE PRECISION,
		pm10      DOUBLE PRECISION,
		no2       DOUBLE PRECISION,
		so2       DOUBLE PRECISION,
		o3        DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_cell_ts ON readings (cell_id varchar_pattern_ops, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings (ts DESC)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id          TEXT PRIMARY KEY,
		parameter   TEXT             NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		threshold   DOUBLE PRECISION NOT NULL,
		latitude    DOUBLE PRECISION NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL,
		cell_id     VARCHAR(12)      NOT NULL,
		ts          TIMESTAMPTZ      NOT NULL,
		description TEXT             NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_ts ON anomalies (ts DESC)`,
}

const hypertableSQL = `SELECT create_hypertable('readings', 'ts', if_not_exists => TRUE, migrate_data => TRUE)`

// Migrate applies Schema. When the timescaledb extension is installed the
// readings table is turned into a hypertable partitioned on ts.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for _, stmt := range Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	var hasTimescale bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`,
	).Scan(&hasTimescale)
	if err != nil {
		return fmt.Errorf("check timescaledb: %w", err)
	}

	if !hasTimescale {
		logger.Info().Msg("timescaledb not installed, readings stay a plain table")
		return nil
	}

	if _, err := pool.Exec(ctx, hypertableSQL); err != nil {
		return fmt.Errorf("create hypertable: %w", err)
	}
	logger.Info().Msg("readings hypertable ready")
	return nil
}
