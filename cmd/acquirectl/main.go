// Package main provides acquirectl, the administrative CLI for the document
// acquisition service.
//
// Commands that act on the ledger run the acquisition engine in-process
// against the configured database. Batch and sweep control commands go
// through Temporal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/document-acquisition-service/internal/acquisition"
	"github.com/helixir/document-acquisition-service/internal/app"
	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/repository"
	"github.com/helixir/document-acquisition-service/internal/retry"
	"github.com/helixir/document-acquisition-service/internal/temporal"
)

// version is set at build time.
var version = "dev"

// adminService is the slice of acquisition.Service the CLI drives.
type adminService interface {
	AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error)
	GetSourceRankings(ctx context.Context) ([]domain.SourceRanking, error)
	SetSourceEnabled(ctx context.Context, name string, enabled bool) error
	SetSourcePriority(ctx context.Context, name string, priority int) error
	GetDownloadHistory(ctx context.Context, projectID string, limit int) ([]domain.DownloadAttempt, error)
	GetStatistics(ctx context.Context, projectID string, window time.Duration) (*domain.Statistics, error)
	CleanupOldAttempts(ctx context.Context, retentionDays int) (int64, error)
	GetRetryQueue(ctx context.Context, limit int) ([]domain.RetryEntry, error)
	RebuildAggregates(ctx context.Context) (*repository.RebuildReport, error)
	SweepRetryQueue(ctx context.Context) (*retry.SweepReport, error)
}

var _ adminService = (*acquisition.Service)(nil)

// workflowControl is the slice of temporal.AcquisitionClient the CLI drives.
type workflowControl interface {
	StartBatch(ctx context.Context, workflowFunc interface{}, input temporal.AcquireBatchInput) (workflowID, runID string, err error)
	TriggerSweep(ctx context.Context, reason string) error
	StopRetrySweep(ctx context.Context) error
	SweepTotals(ctx context.Context, result interface{}) error
	Close()
}

var _ workflowControl = (*temporal.AcquisitionClient)(nil)

// cli carries the shared flags and the lazily opened backends.
type cli struct {
	out    io.Writer
	output string

	openService   func(ctx context.Context) (adminService, func(), error)
	openWorkflows func() (workflowControl, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{
		out:           os.Stdout,
		openService:   openEngine,
		openWorkflows: openTemporal,
	}
	if err := newRootCommand(c).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "acquirectl",
		Short:         "Administer the document acquisition service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputTable, "output format: table or json")
	root.SetOut(c.out)

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(c.out, "acquirectl %s\n", version)
			},
		},
		c.acquireCommand(),
		c.batchCommand(),
		c.sourcesCommand(),
		c.sweepCommand(),
		c.statsCommand(),
		c.historyCommand(),
		c.retryQueueCommand(),
		c.cleanupCommand(),
		c.rebuildCommand(),
	)
	return root
}

func cliLogger(cfg *config.Config) zerolog.Logger {
	return observability.NewLogger(config.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: "console",
		Output: "stderr",
	}, "acquirectl")
}

// openEngine connects to the database and builds the acquisition engine.
// Metrics stay off; the CLI is short lived.
func openEngine(ctx context.Context) (adminService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := cliLogger(cfg)

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	engine, err := app.NewEngine(ctx, cfg, db, nil, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build acquisition engine: %w", err)
	}

	closeFn := func() {
		engine.Close()
		db.Close()
	}
	return engine.Service, closeFn, nil
}

func openTemporal() (workflowControl, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	clientCfg := temporal.ConfigFrom(cfg.Temporal)
	c, err := temporal.NewClient(clientCfg, cliLogger(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to temporal: %w", err)
	}
	return temporal.NewAcquisitionClient(c, clientCfg), nil
}

// withService opens the engine for the duration of fn.
func (c *cli) withService(ctx context.Context, fn func(adminService) error) error {
	svc, closeFn, err := c.openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(svc)
}

func (c *cli) withWorkflows(fn func(workflowControl) error) error {
	wc, err := c.openWorkflows()
	if err != nil {
		return err
	}
	defer wc.Close()
	return fn(wc)
}
