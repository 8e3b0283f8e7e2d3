// Package main provides the entrypoint for the AirGrid API server.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/airgrid/airgrid/internal/aggregation"
	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/api"
	"github.com/airgrid/airgrid/internal/api/handler"
	"github.com/airgrid/airgrid/internal/api/middleware"
	"github.com/airgrid/airgrid/internal/config"
	"github.com/airgrid/airgrid/internal/intake"
	"github.com/airgrid/airgrid/internal/notifier"
	"github.com/airgrid/airgrid/internal/platform"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/telemetry"
	"github.com/airgrid/airgrid/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "airgrid-api"

	cfg, err := config.Load()
	log := telemetry.NewLogger(os.Stdout, serviceName, Version, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("queue_driver", cfg.Queue.Driver).
		Str("store_driver", cfg.Store.Driver).
		Msg("starting AirGrid API")

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
	if tp.Enabled() {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("api failed")
		stop()
		os.Exit(1) //nolint:gocritic // run has already released its resources
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

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

	hub := notifier.NewHub(cfg.Notifier.Buffer)
	in := intake.NewService(q, reading.Validator{}, log)
	agg := aggregation.NewService(st, aggregation.Config{
		StoragePrecision: cfg.Geohash.StoragePrecision,
		QueryPrecision:   cfg.Geohash.QueryPrecision,
		MaxQueryCells:    cfg.Geohash.MaxQueryCells,
		NearestMaxRings:  cfg.Query.NearestMaxRings,
	}, log)

	window := cfg.HTTP.RateLimitWindow
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: "airgrid-api",
		Metrics:     metrics,
		Intake:      in,
		Aggregation: agg,
		Hub:         hub,
		Stream:      handler.StreamConfig{Buffer: cfg.Notifier.Buffer},
		Readiness: map[string]handler.Pinger{
			"store": st,
		},
		RequireTLS:      cfg.HTTP.RequireTLS,
		IngestRateLimit: middleware.RateLimitConfig{RequestLimit: cfg.HTTP.IngestRateLimit, WindowLength: window},
		QueryRateLimit:  middleware.RateLimitConfig{RequestLimit: cfg.HTTP.QueryRateLimit, WindowLength: window},
	})

	// WriteTimeout stays unset: websocket connections are long-lived and
	// bound their own writes.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx, hub)
		})
	}

	// The memory queue cannot be reached from another process, so the
	// pipeline runs here and anomalies go straight to the hub.
	if platform.Embedded(cfg) {
		var notify notifier.Notifier = hub
		if relay != nil {
			notify = relay
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
			Logger:     log,
		})
		if err != nil {
			return err
		}
		pool := worker.NewPool(q, proc, cfg.Worker.Concurrency, log)
		log.Info().Msg("running embedded worker pool")
		g.Go(func() error {
			return pool.Run(gctx)
		})
	}

	return g.Wait()
}
