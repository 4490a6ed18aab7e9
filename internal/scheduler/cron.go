// Package scheduler runs periodic maintenance in-process with cron schedules:
// the retry queue sweep and, optionally, ledger retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/retry"
)

// DefaultSweepSpec runs the retry sweep once a minute.
const DefaultSweepSpec = "@every 1m"

// Sweeper runs one retry sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*retry.SweepReport, error)
}

// Cleaner deletes ledger rows older than a retention period.
type Cleaner interface {
	CleanupOldAttempts(ctx context.Context, retentionDays int) (int64, error)
}

// CronSweeper drives retry sweeps (and optional cleanup) on cron schedules.
// A run that is still going when its next tick arrives is skipped.
type CronSweeper struct {
	cron    *cron.Cron
	parser  cron.Parser
	sweeper Sweeper
	logger  zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronSweeper creates a sweeper scheduled by spec. An empty spec uses
// DefaultSweepSpec.
func NewCronSweeper(sweeper Sweeper, spec string, logger zerolog.Logger) (*CronSweeper, error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	logger = logger.With().Str("component", "cron_sweeper").Logger()

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger: logger}
	s := &CronSweeper{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:  parser,
		sweeper: sweeper,
		logger:  logger,
		ctx:     context.Background(),
	}

	if _, err := s.schedule(spec, "retry_sweep", s.sweepOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// ScheduleCleanup adds a retention cleanup job. retentionDays below one
// disables it.
func (s *CronSweeper) ScheduleCleanup(spec string, cleaner Cleaner, retentionDays int) error {
	if retentionDays < 1 || cleaner == nil {
		return nil
	}
	_, err := s.schedule(spec, "attempt_cleanup", func(ctx context.Context) {
		deleted, err := cleaner.CleanupOldAttempts(ctx, retentionDays)
		if err != nil {
			s.logger.Error().Err(err).Msg("scheduled cleanup failed")
			return
		}
		s.logger.Info().Int64("deleted", deleted).Int("retention_days", retentionDays).Msg("scheduled cleanup finished")
	})
	return err
}

func (s *CronSweeper) schedule(spec, name string, run func(ctx context.Context)) (cron.EntryID, error) {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return 0, fmt.Errorf("failed to parse cron expression %q for %s: %w", spec, name, err)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		run(s.runContext())
	}))
	s.logger.Info().
		Str("job", name).
		Str("schedule", spec).
		Time("next_run", schedule.Next(time.Now())).
		Msg("job scheduled")
	return id, nil
}

// Start begins running scheduled jobs. Jobs receive a context derived from ctx
// that is cancelled by Stop.
func (s *CronSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("cron scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *CronSweeper) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("cron scheduler stopped")
}

func (s *CronSweeper) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *CronSweeper) sweepOnce(ctx context.Context) {
	start := time.Now()
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("retry sweep failed")
		return
	}
	if report.Claimed == 0 {
		s.logger.Debug().Msg("retry sweep found nothing due")
		return
	}
	s.logger.Info().
		Int("claimed", report.Claimed).
		Int("downloaded", report.Downloaded).
		Int("requeued", report.Requeued).
		Int("permanently_failed", report.PermanentlyFailed).
		Int("errors", report.Errors).
		Dur("duration", time.Since(start)).
		Msg("retry sweep finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
