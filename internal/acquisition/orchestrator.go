// Package acquisition runs document acquisitions and serves the admin and
// reporting operations around them.
//
// An acquisition moves through CheckExisting, then Trying(i) for each source in
// the selector's order, and ends in Success or Exhausted. Sources are tried one
// at a time. Every attempt is recorded in the ledger before the next decision is
// made, and an acquisition is never reported as downloaded unless its attempt
// was recorded.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixir/document-acquisition-service/internal/classifier"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/events"
	"github.com/helixir/document-acquisition-service/internal/lock"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/ranking"
	"github.com/helixir/document-acquisition-service/internal/repository"
	"github.com/helixir/document-acquisition-service/internal/retry"
	"github.com/helixir/document-acquisition-service/internal/sources"
	"github.com/helixir/document-acquisition-service/internal/storage"
)

// Config holds orchestrator settings.
type Config struct {
	// InterAttemptDelay is waited between two sources for the same DOI.
	InterAttemptDelay time.Duration
	// DefaultSourceTimeout applies to sources registered without a timeout.
	DefaultSourceTimeout time.Duration
	// PatternMinSuccesses is the publisher pattern threshold; see ranking.Learner.
	PatternMinSuccesses int64
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		InterAttemptDelay:    time.Second,
		DefaultSourceTimeout: 30 * time.Second,
		PatternMinSuccesses:  1,
	}
}

const eventPublishTimeout = 5 * time.Second

// AdapterLookup resolves a source name to its adapter.
type AdapterLookup interface {
	Get(name string) sources.Adapter
}

// Planner produces the trial order for a DOI.
type Planner interface {
	Order(ctx context.Context, doi string) (*ranking.Plan, error)
}

// RetryQueue applies the retry policy after exhaustion.
type RetryQueue interface {
	RecordTransientFailure(ctx context.Context, projectID, doi string, category domain.FailureCategory) (*retry.Decision, error)
	Drop(ctx context.Context, projectID, doi string) (bool, error)
}

// Deps are the collaborators of an Orchestrator. Publisher, Metrics and
// Tracer are optional.
type Deps struct {
	Adapters  AdapterLookup
	Planner   Planner
	Ledger    repository.Ledger
	Queue     RetryQueue
	Store     storage.DocumentStore
	Locker    lock.Locker
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
}

// Orchestrator runs acquisitions.
type Orchestrator struct {
	adapters  AdapterLookup
	planner   Planner
	learner   ranking.Learner
	ledger    repository.Ledger
	queue     RetryQueue
	store     storage.DocumentStore
	locker    lock.Locker
	publisher events.Publisher
	metrics   *observability.Metrics
	tracer    trace.Tracer
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.DefaultSourceTimeout <= 0 {
		cfg.DefaultSourceTimeout = DefaultConfig().DefaultSourceTimeout
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}
	return &Orchestrator{
		adapters:  deps.Adapters,
		planner:   deps.Planner,
		learner:   ranking.NewLearner(cfg.PatternMinSuccesses),
		ledger:    deps.Ledger,
		queue:     deps.Queue,
		store:     deps.Store,
		locker:    deps.Locker,
		publisher: publisher,
		metrics:   deps.Metrics,
		tracer:    tracer,
		cfg:       cfg,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AcquireDocument obtains a copy of doi for projectID.
//
// It returns domain.ErrAcquisitionInProgress when another worker holds the
// same (project, DOI), an error wrapping domain.ErrLedgerWrite when an attempt
// could not be recorded, and an error wrapping domain.ErrCancelled when ctx is
// cancelled before every source was tried.
func (o *Orchestrator) AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error) {
	if projectID == "" {
		return nil, domain.NewValidationError("project_id", "project ID is required")
	}
	doi = domain.NormalizeDOI(doi)
	if err := domain.ValidateDOI(doi); err != nil {
		return nil, err
	}

	ctx = observability.WithAcquisition(ctx, projectID, doi)
	ctx, span := o.tracer.Start(ctx, "acquisition.AcquireDocument", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("doi", doi),
	))
	defer span.End()
	logger := observability.LoggerFromContext(ctx, o.logger)

	started := time.Now()
	if o.metrics != nil {
		o.metrics.RecordAcquisitionStarted()
	}

	outcome, err := o.acquire(ctx, logger, projectID, doi)

	status := "error"
	if outcome != nil {
		status = string(outcome.Status)
		span.SetAttributes(attribute.String("status", status), attribute.Int("attempts", outcome.Attempts))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if o.metrics != nil {
		o.metrics.RecordAcquisitionFinished(status, time.Since(started).Seconds())
	}
	return outcome, err
}

func (o *Orchestrator) acquire(ctx context.Context, logger zerolog.Logger, projectID, doi string) (*domain.AcquisitionOutcome, error) {
	unlock, ok, err := o.locker.TryLock(ctx, lock.Key(projectID, doi))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	if !ok {
		if o.metrics != nil {
			o.metrics.RecordAcquisitionContended()
		}
		return nil, domain.ErrAcquisitionInProgress
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to release acquisition lock")
		}
	}()

	key := storage.Key(projectID, doi)
	outcome := &domain.AcquisitionOutcome{ProjectID: projectID, DOI: doi}

	// CheckExisting
	present, err := o.store.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing document: %w", err)
	}
	if present {
		outcome.Status = domain.StatusAlreadyPresent
		outcome.Path = o.store.Path(key)
		logger.Debug().Msg("document already present")
		o.publish(ctx, logger, outcome)
		return outcome, nil
	}

	plan, err := o.planner.Order(ctx, doi)
	if err != nil {
		return nil, fmt.Errorf("failed to order sources: %w", err)
	}

	ceiling := o.ceiling(plan.Sources)
	ceilCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	logger.Debug().
		Strs("order", plan.Names()).
		Dur("ceiling", ceiling).
		Msg("trying sources")

	var lastCategory domain.FailureCategory
	for i, src := range plan.Sources {
		if i > 0 && o.cfg.InterAttemptDelay > 0 {
			o.wait(ceilCtx, o.cfg.InterAttemptDelay)
		}
		if ctx.Err() != nil {
			logger.Info().Int("tried", outcome.Attempts).Msg("acquisition cancelled before next source")
			return nil, fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
		}
		if ceilCtx.Err() != nil {
			logger.Warn().Int("tried", outcome.Attempts).Msg("acquisition ceiling reached")
			lastCategory = domain.CategoryTimeout
			break
		}

		adapter := o.adapters.Get(src.Name)
		if adapter == nil {
			logger.Warn().Str("source", src.Name).Msg("no adapter registered for enabled source")
			continue
		}

		// Trying(i)
		outcome.Attempts++
		category, done, err := o.try(ctx, logger, adapter, src, projectID, doi, key, outcome)
		if err != nil {
			return nil, err
		}
		if done {
			o.publish(ctx, logger, outcome)
			return outcome, nil
		}
		lastCategory = category
	}

	// Exhausted
	outcome.LastCategory = lastCategory
	if err := o.exhaust(context.WithoutCancel(ctx), logger, outcome); err != nil {
		return nil, err
	}
	o.publish(ctx, logger, outcome)
	return outcome, nil
}

// try runs one adapter, records the attempt and, on success, keeps the bytes.
// done is true when the acquisition succeeded.
func (o *Orchestrator) try(
	ctx context.Context,
	logger zerolog.Logger,
	adapter sources.Adapter,
	src domain.Source,
	projectID, doi, key string,
	outcome *domain.AcquisitionOutcome,
) (domain.FailureCategory, bool, error) {
	ctx, span := o.tracer.Start(ctx, "acquisition.Attempt", trace.WithAttributes(
		attribute.String("source", src.Name),
	))
	defer span.End()

	attemptedAt := o.now()
	started := time.Now()
	result := o.invoke(ctx, logger, adapter, doi, o.timeout(src))
	latency := time.Since(started)

	category := classifier.Classify(result)
	span.SetAttributes(attribute.String("category", string(category)))

	attempt := domain.DownloadAttempt{
		ProjectID:       projectID,
		DOI:             doi,
		SourceName:      src.Name,
		Success:         category.IsSuccess(),
		FailureCategory: category,
		FailureReason:   classifier.Describe(result),
		LatencyMs:       latency.Milliseconds(),
		DocumentURL:     result.URL,
		AttemptedAt:     attemptedAt,
	}

	// Writes below must not be abandoned halfway because the caller went away.
	durable := context.WithoutCancel(ctx)

	var path string
	if category.IsSuccess() {
		size := int64(len(result.Content))
		attempt.SizeBytes = &size

		stored, err := o.store.Put(durable, key, result.Content)
		if err != nil {
			span.RecordError(err)
			return category, false, fmt.Errorf("failed to store document from %s: %w", src.Name, err)
		}
		path = stored
	}

	entry := repository.LedgerEntry{Attempt: attempt}
	o.learner.Observe(&entry, result.URLPattern)

	if _, err := o.ledger.Record(durable, entry); err != nil {
		if o.metrics != nil {
			o.metrics.RecordLedgerWriteFailure()
		}
		if path != "" {
			if delErr := o.store.Delete(durable, key); delErr != nil {
				logger.Error().Err(delErr).Str("key", key).Msg("failed to remove unrecorded document")
			}
		}
		span.RecordError(err)
		logger.Error().Err(err).Str("source", src.Name).Msg("attempt could not be recorded")
		return category, false, fmt.Errorf("record attempt from %s: %w", src.Name, err)
	}

	if o.metrics != nil {
		var size int64
		if attempt.SizeBytes != nil {
			size = *attempt.SizeBytes
		}
		o.metrics.RecordSourceAttempt(src.Name, string(category), latency.Seconds(), size)
	}

	event := logger.Info()
	if !category.IsSuccess() {
		event = logger.Debug()
	}
	event.
		Str("source", src.Name).
		Str("category", string(category)).
		Int64("latency_ms", attempt.LatencyMs).
		Msg("source attempt finished")

	if category.IsSuccess() {
		outcome.Status = domain.StatusDownloaded
		outcome.SourceUsed = src.Name
		outcome.Path = path
		return category, true, nil
	}
	return category, false, nil
}

// invoke calls the adapter with a context that ignores caller cancellation but
// is bounded by the source timeout, so an in-flight call finishes or times out
// on its own. Panics become error results.
func (o *Orchestrator) invoke(ctx context.Context, logger zerolog.Logger, adapter sources.Adapter, doi string, timeout time.Duration) (result sources.Result) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			if o.metrics != nil {
				o.metrics.RecordAdapterPanic(adapter.Name())
			}
			logger.Error().Str("source", adapter.Name()).Interface("panic", r).Msg("source adapter panicked")
			result = sources.Failure(fmt.Errorf("adapter %s panicked: %v", adapter.Name(), r))
		}
	}()

	return adapter.Attempt(attemptCtx, doi)
}

// exhaust decides between queueing and giving up once no source succeeded.
func (o *Orchestrator) exhaust(ctx context.Context, logger zerolog.Logger, outcome *domain.AcquisitionOutcome) error {
	if outcome.LastCategory.IsTransient() {
		decision, err := o.queue.RecordTransientFailure(ctx, outcome.ProjectID, outcome.DOI, outcome.LastCategory)
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		outcome.Status = decision.Status
		outcome.RetryCount = decision.RetryCount
		outcome.NextRetryAt = decision.NextRetryAt
	} else {
		if _, err := o.queue.Drop(ctx, outcome.ProjectID, outcome.DOI); err != nil {
			logger.Warn().Err(err).Msg("failed to drop retry entry after permanent failure")
		}
		outcome.Status = domain.StatusPermanentlyFailed
	}

	logger.Info().
		Str("status", string(outcome.Status)).
		Str("last_category", string(outcome.LastCategory)).
		Int("attempts", outcome.Attempts).
		Msg("all sources exhausted")
	return nil
}

// ceiling is the wall-clock bound of one acquisition: the sum of the
// per-source timeouts plus the delays between them.
func (o *Orchestrator) ceiling(srcs []domain.Source) time.Duration {
	var total time.Duration
	for _, s := range srcs {
		total += o.timeout(s)
	}
	if n := len(srcs); n > 1 {
		total += time.Duration(n-1) * o.cfg.InterAttemptDelay
	}
	if total <= 0 {
		total = o.cfg.DefaultSourceTimeout
	}
	return total
}

func (o *Orchestrator) timeout(s domain.Source) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return o.cfg.DefaultSourceTimeout
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger zerolog.Logger, outcome *domain.AcquisitionOutcome) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	err := o.publisher.Publish(pubCtx, events.NewAcquisitionEvent(outcome, o.now()))
	if o.metrics != nil {
		o.metrics.RecordEventPublished(err)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("failed to publish acquisition event")
	}
}
