package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgrid/airgrid/internal/config"
	"github.com/airgrid/airgrid/internal/reading"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Geohash.StoragePrecision)
	assert.Equal(t, 5, cfg.Geohash.QueryPrecision)
	assert.Equal(t, 1024, cfg.Geohash.MaxQueryCells)
	assert.Equal(t, 250.0, cfg.Thresholds[reading.PM25])
	assert.Equal(t, 420.0, cfg.Thresholds[reading.PM10])
	assert.Equal(t, 200.0, cfg.Thresholds[reading.NO2])
	assert.Equal(t, config.QueueMemory, cfg.Queue.Driver)
	assert.Equal(t, "raw_air_quality", cfg.Queue.RabbitMQ.Queue)
	assert.Equal(t, 10, cfg.Queue.RabbitMQ.Prefetch)
	assert.Equal(t, config.StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, 32, cfg.Notifier.Buffer)
	assert.Equal(t, 2, cfg.Query.NearestMaxRings)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEOHASH_STORAGE_PRECISION", "8")
	t.Setenv("GEOHASH_QUERY_PRECISION", "6")
	t.Setenv("THRESHOLD_PM25", "100.5")
	t.Setenv("QUEUE_DRIVER", "RabbitMQ")
	t.Setenv("RABBITMQ_QUEUE", "readings")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_TIMEOUT", "2s")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Geohash.StoragePrecision)
	assert.Equal(t, 6, cfg.Geohash.QueryPrecision)
	assert.Equal(t, 100.5, cfg.Thresholds[reading.PM25])
	assert.Equal(t, config.QueueRabbitMQ, cfg.Queue.Driver)
	assert.Equal(t, "readings", cfg.Queue.RabbitMQ.Queue)
	assert.Equal(t, config.StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 6543, cfg.Store.Database.Port)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileOverlayThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airgrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
geohash:
  storage_precision: 9
  query_precision: 4
thresholds:
  pm25: 150
  NO2: 180
query:
  nearest_max_rings: 0
`), 0o600))

	t.Setenv("AIRGRID_CONFIG_FILE", path)
	t.Setenv("THRESHOLD_NO2", "190")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Geohash.StoragePrecision)
	assert.Equal(t, 4, cfg.Geohash.QueryPrecision)
	assert.Equal(t, 150.0, cfg.Thresholds[reading.PM25])
	assert.Equal(t, 190.0, cfg.Thresholds[reading.NO2], "env wins over file")
	assert.Equal(t, 0, cfg.Query.NearestMaxRings)
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("AIRGRID_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  co: 10\n"), 0o600))
		t.Setenv("AIRGRID_CONFIG_FILE", path)
		_, err := config.Load()
		assert.ErrorContains(t, err, "co")
	})
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	_, err := config.Load()
	assert.ErrorContains(t, err, "WORKER_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"storage precision too high", func(c *config.Config) { c.Geohash.StoragePrecision = 13 }},
		{"storage precision zero", func(c *config.Config) { c.Geohash.StoragePrecision = 0 }},
		{"query finer than storage", func(c *config.Config) { c.Geohash.QueryPrecision = 8 }},
		{"non-positive threshold", func(c *config.Config) { c.Thresholds[reading.O3] = 0 }},
		{"unknown queue", func(c *config.Config) { c.Queue.Driver = "kafka" }},
		{"pubsub without project", func(c *config.Config) { c.Queue.Driver = config.QueuePubSub }},
		{"unknown store", func(c *config.Config) { c.Store.Driver = "influx" }},
		{"zero concurrency", func(c *config.Config) { c.Worker.Concurrency = 0 }},
		{"zero notify buffer", func(c *config.Config) { c.Notifier.Buffer = 0 }},
		{"zero ingest rate limit", func(c *config.Config) { c.HTTP.IngestRateLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, config.Default().Validate())
}
