// Command server runs the document acquisition REST API, a gRPC health
// endpoint and, when enabled, the Prometheus scrape endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/helixir/document-acquisition-service/internal/app"
	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/scheduler"
	httpserver "github.com/helixir/document-acquisition-service/internal/server/http"
)

var version = "dev"

const (
	grpcHealthService = "documentacquisition.v1.AcquisitionService"
	metricsNamespace  = "document_acquisition"
	cleanupSpec       = "@daily"
	httpIdleTimeout   = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg.Logging, "server")
	logger.Info().Str("version", version).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, version, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flushTracing(shutdownTracing, logger)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(metricsNamespace)
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.MigrationAutoRun {
		if err := app.Migrate(db, cfg.Database, logger); err != nil {
			return err
		}
	}

	engine, err := app.NewEngine(ctx, cfg, db, metrics, logger)
	if err != nil {
		return fmt.Errorf("build acquisition engine: %w", err)
	}
	defer engine.Close()

	sweeper, err := cronSweeper(cfg, engine, logger)
	if err != nil {
		return err
	}

	api := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     httpIdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, engine.Service, db, logger)

	grpcSrv, healthSrv := newGRPCHealthServer()
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddress())
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddress(),
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := api.Start(); err != nil {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}
	if sweeper != nil {
		sweeper.Start(gctx)
	}

	logger.Info().
		Str("http", cfg.Server.HTTPAddress()).
		Str("grpc", cfg.Server.GRPCAddress()).
		Bool("metrics", metricsSrv != nil).
		Str("retry_scheduler", cfg.Retry.Scheduler).
		Msg("ready")

	// Runs once a signal arrives or any listener fails.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		healthSrv.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		if sweeper != nil {
			sweeper.Stop()
		}

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := api.Shutdown(sctx); err != nil {
			logger.Error().Err(err).Msg("http api shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(sctx); err != nil {
				logger.Error().Err(err).Msg("metrics shutdown")
			}
		}
		stopGRPC(sctx, grpcSrv, logger)
		return nil
	})

	err = g.Wait()
	logger.Info().Err(err).Msg("stopped")
	return err
}

func cronSweeper(cfg *config.Config, engine *app.Engine, logger zerolog.Logger) (*scheduler.CronSweeper, error) {
	if cfg.Retry.Scheduler != config.SchedulerCron {
		return nil, nil
	}
	s, err := scheduler.NewCronSweeper(engine.Scheduler, cfg.Retry.CronSpec, logger)
	if err != nil {
		return nil, fmt.Errorf("create retry sweeper: %w", err)
	}
	if days := cfg.Acquisition.HistoryRetentionDays; days > 0 {
		if err := s.ScheduleCleanup(cleanupSpec, engine.Service, days); err != nil {
			return nil, fmt.Errorf("schedule history cleanup: %w", err)
		}
	}
	return s, nil
}

func newGRPCHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionIdle: 15 * time.Minute,
		Time:              5 * time.Minute,
		Timeout:           time.Minute,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(srv)
	return srv, hs
}

// stopGRPC waits for in-flight RPCs until ctx expires, then forces the stop.
func stopGRPC(ctx context.Context, srv *grpc.Server, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("grpc graceful stop timed out")
		srv.Stop()
	}
}

func flushTracing(shutdown func(context.Context) error, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown")
	}
}
