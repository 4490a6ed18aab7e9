// Package main provides the entry point for the document acquisition Temporal worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/document-acquisition-service/internal/app"
	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/events"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/temporal"
	"github.com/helixir/document-acquisition-service/internal/temporal/activities"
	"github.com/helixir/document-acquisition-service/internal/temporal/workflows"
)

// version is set at build time.
var version = "dev"

const metricsNamespace = "document_acquisition"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging, "worker")
	logger.Info().Str("version", version).Msg("document-acquisition-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, version, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
		}
	}()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(metricsNamespace)
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	engine, err := app.NewEngine(ctx, cfg, db, metrics, logger)
	if err != nil {
		return fmt.Errorf("build acquisition engine: %w", err)
	}
	defer engine.Close()

	clientCfg := temporal.ConfigFrom(cfg.Temporal)
	temporalClient, err := temporal.NewClient(clientCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	acqClient := temporal.NewAcquisitionClient(temporalClient, clientCfg)
	defer acqClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.WorkerConfigFrom(cfg.Temporal))
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}
	manager.RegisterWorkflow(workflows.AcquireDocumentWorkflow)
	manager.RegisterWorkflow(workflows.AcquireBatchWorkflow)
	manager.RegisterWorkflow(workflows.RetrySweepWorkflow)
	manager.RegisterActivity(activities.NewAcquisitionActivities(engine.Orchestrator, engine.Scheduler))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("task_queue", manager.TaskQueue()).Msg("starting temporal worker")
		return manager.Run(gctx)
	})

	if cfg.Retry.Scheduler == config.SchedulerTemporal {
		runID, err := acqClient.StartRetrySweep(ctx, workflows.RetrySweepWorkflow, temporal.RetrySweepInput{
			Interval: cfg.Retry.SweepInterval,
		})
		if err != nil {
			return fmt.Errorf("start retry sweep workflow: %w", err)
		}
		logger.Info().
			Str("workflow_id", temporal.RetrySweepWorkflowID).
			Str("run_id", runID).
			Dur("interval", cfg.Retry.SweepInterval).
			Msg("retry sweep workflow running")
	}

	if cfg.Kafka.Enabled && cfg.Kafka.RequestsTopic != "" {
		listener := events.NewRequestListener(events.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.RequestsTopic,
			GroupID: cfg.Kafka.GroupID,
		}, durableAcquirer{acqClient}, logger)
		defer func() {
			if err := listener.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close request listener")
			}
		}()

		g.Go(func() error {
			if err := listener.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("request listener: %w", err)
			}
			return nil
		})
		logger.Info().
			Str("topic", cfg.Kafka.RequestsTopic).
			Str("group_id", cfg.Kafka.GroupID).
			Msg("acquisition request listener started")
	}

	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddress(),
			Handler:           metricsMux,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}

		g.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}

	logger.Info().Msg("worker stopped")
	return nil
}

// durableAcquirer runs Kafka requests as acquisition workflows, so a request
// survives a worker restart and duplicates join the running execution.
type durableAcquirer struct {
	client *temporal.AcquisitionClient
}

var _ events.Acquirer = durableAcquirer{}

func (a durableAcquirer) AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error) {
	return a.client.AcquireDocument(ctx, workflows.AcquireDocumentWorkflow, projectID, doi)
}
