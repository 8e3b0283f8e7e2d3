// Package main provides the entrypoint for the AirGrid processing worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/api/response"
	"github.com/airgrid/airgrid/internal/config"
	"github.com/airgrid/airgrid/internal/notifier"
	"github.com/airgrid/airgrid/internal/platform"
	"github.com/airgrid/airgrid/internal/telemetry"
	"github.com/airgrid/airgrid/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "airgrid-worker"

	cfg, err := config.Load()
	log := telemetry.NewLogger(os.Stdout, serviceName, Version, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("queue_driver", cfg.Queue.Driver).
		Str("store_driver", cfg.Store.Driver).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("starting AirGrid worker")

	if platform.Embedded(cfg) {
		log.Fatal().Msg("the memory queue only works inside the API process; choose pubsub or rabbitmq")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("worker failed")
		stop()
		os.Exit(1) //nolint:gocritic // run has already released its resources
	}
	log.Info().Msg("worker stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	st, closeStore, err := platform.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	q, err := platform.OpenQueue(ctx, cfg, cfg.Worker.Concurrency, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Error().Err(err).Msg("closing queue")
		}
	}()

	relay, closeRelay, err := platform.OpenRelay(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	// Without a relay there is no API process to hear anomalies, so they are
	// only persisted and logged.
	var notify notifier.Notifier
	if relay != nil {
		notify = relay
	} else {
		log.Warn().Msg("REDIS_ADDR not set; anomalies will not reach websocket clients")
	}

	metrics, err := worker.NewMetrics()
	if err != nil {
		return err
	}
	proc, err := worker.NewProcessor(worker.ProcessorConfig{
		Config: worker.Config{
			StoragePrecision: cfg.Geohash.StoragePrecision,
			Concurrency:      cfg.Worker.Concurrency,
			StoreTimeout:     cfg.Store.Timeout,
		},
		Store:      st,
		Detector:   anomaly.NewDetector(cfg.Thresholds),
		Notifier:   notify,
		DeadLetter: q,
		Metrics:    metrics,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	pool := worker.NewPool(q, proc, cfg.Worker.Concurrency, log)

	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if !pool.Running() {
			status = http.StatusServiceUnavailable
		}
		response.JSON(w, r, status, map[string]any{
			"status":  http.StatusText(status),
			"version": Version,
			"circuit": st.Health().CircuitState.String(),
			"stats":   proc.Stats(),
		})
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	runErr := pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}
	return runErr
}
