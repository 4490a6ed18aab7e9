package acquisition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/events"
	"github.com/helixir/document-acquisition-service/internal/lock"
	"github.com/helixir/document-acquisition-service/internal/ranking"
	"github.com/helixir/document-acquisition-service/internal/repository"
	"github.com/helixir/document-acquisition-service/internal/retry"
	"github.com/helixir/document-acquisition-service/internal/sources"
	"github.com/helixir/document-acquisition-service/internal/storage"
)

var pdfBytes = []byte("%PDF-1.5\n%test document\n%%EOF\n")

// fakeAdapter returns a scripted result and counts calls.
type fakeAdapter struct {
	name   string
	fn     func(ctx context.Context, doi string) sources.Result
	calls  atomic.Int32
	lastCx context.Context
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Attempt(ctx context.Context, doi string) sources.Result {
	a.calls.Add(1)
	a.lastCx = ctx
	return a.fn(ctx, doi)
}

func returning(name string, r sources.Result) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(context.Context, string) sources.Result { return r }}
}

func succeeding(name string) *fakeAdapter {
	return returning(name, sources.Success("https://"+name+".example/doc.pdf", pdfBytes, "template@"+name))
}

func httpStatus(name string, code int) *fakeAdapter {
	return returning(name, sources.Result{Status: sources.StatusError, HTTPStatus: code, Message: "upstream"})
}

type adapterMap map[string]sources.Adapter

func (m adapterMap) Get(name string) sources.Adapter { return m[name] }

// staticPlanner tries sources in the given order.
type staticPlanner struct {
	srcs []domain.Source
	err  error
}

func (p staticPlanner) Order(context.Context, string) (*ranking.Plan, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &ranking.Plan{Sources: p.srcs}, nil
}

// memLedger mimics PgLedger: a success also clears the retry entry.
type memLedger struct {
	mu      sync.Mutex
	entries []repository.LedgerEntry
	retries *memRetryRepo
	failErr error
}

func (l *memLedger) Record(_ context.Context, entry repository.LedgerEntry) (*domain.DownloadAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return nil, l.failErr
	}
	entry.Attempt.ID = uuid.New()
	l.entries = append(l.entries, entry)
	if entry.Attempt.Success && l.retries != nil {
		_, _ = l.retries.Delete(context.Background(), entry.Attempt.ProjectID, entry.Attempt.DOI)
	}
	a := entry.Attempt
	return &a, nil
}

func (l *memLedger) recorded() []repository.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]repository.LedgerEntry(nil), l.entries...)
}

// memRetryRepo is an in-memory repository.RetryRepository.
type memRetryRepo struct {
	mu      sync.Mutex
	entries map[string]*domain.RetryEntry
	inserts int
}

func newMemRetryRepo() *memRetryRepo {
	return &memRetryRepo{entries: map[string]*domain.RetryEntry{}}
}

func (m *memRetryRepo) Get(_ context.Context, projectID, doi string) (*domain.RetryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[projectID+"/"+doi]
	if !ok {
		return nil, domain.NewNotFoundError("retry_entry", projectID+"/"+doi)
	}
	cp := *e
	return &cp, nil
}

func (m *memRetryRepo) Insert(_ context.Context, e *domain.RetryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := e.ProjectID + "/" + e.DOI
	if _, ok := m.entries[k]; ok {
		return domain.ErrAlreadyExists
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.entries[k] = &cp
	m.inserts++
	return nil
}

func (m *memRetryRepo) UpdateAfterFailure(_ context.Context, id uuid.UUID, category domain.FailureCategory, retryCount int, next, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.FailureCategory, e.RetryCount, e.NextRetryAt, e.LastAttemptAt = category, retryCount, next, at
			e.LeaseToken, e.LeaseExpiresAt = nil, nil
			return nil
		}
	}
	return domain.NewNotFoundError("retry_entry", id.String())
}

func (m *memRetryRepo) Delete(_ context.Context, projectID, doi string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := projectID + "/" + doi
	_, ok := m.entries[k]
	delete(m.entries, k)
	return ok, nil
}

func (m *memRetryRepo) ClaimDue(context.Context, time.Time, int, time.Duration) ([]domain.RetryEntry, error) {
	return nil, nil
}

func (m *memRetryRepo) Release(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (m *memRetryRepo) List(context.Context, int) ([]domain.RetryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RetryEntry
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out, nil
}

func (m *memRetryRepo) entry(projectID, doi string) *domain.RetryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[projectID+"/"+doi]
}

// recordingPublisher keeps published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AcquisitionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.AcquisitionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses() []domain.AcquisitionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.AcquisitionStatus, len(p.events))
	for i, e := range p.events {
		out[i] = e.Status
	}
	return out
}

// harness wires an orchestrator over in-memory collaborators and a temp-dir store.
type harness struct {
	orch      *Orchestrator
	adapters  adapterMap
	ledger    *memLedger
	retries   *memRetryRepo
	store     *storage.LocalStore
	locker    *lock.LocalLocker
	publisher *recordingPublisher
}

const maxRetries = 3

func newHarness(t *testing.T, adapters ...*fakeAdapter) *harness {
	t.Helper()

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	retries := newMemRetryRepo()
	h := &harness{
		adapters:  adapterMap{},
		ledger:    &memLedger{retries: retries},
		retries:   retries,
		store:     store,
		locker:    lock.NewLocalLocker(),
		publisher: &recordingPublisher{},
	}

	srcs := make([]domain.Source, 0, len(adapters))
	for _, a := range adapters {
		h.adapters[a.name] = a
		srcs = append(srcs, domain.Source{Name: a.name, Enabled: true, Timeout: 2 * time.Second})
	}

	queue := retry.NewQueue(retries, retry.Config{
		MaxRetries: maxRetries,
		BaseDelay:  time.Minute,
		MaxDelay:   time.Hour,
	}, nil, zerolog.Nop())

	h.orch = NewOrchestrator(Deps{
		Adapters:  h.adapters,
		Planner:   staticPlanner{srcs: srcs},
		Ledger:    h.ledger,
		Queue:     queue,
		Store:     store,
		Locker:    h.locker,
		Publisher: h.publisher,
	}, Config{DefaultSourceTimeout: 2 * time.Second, PatternMinSuccesses: 1}, zerolog.Nop())
	return h
}

func (h *harness) withPlan(srcs ...domain.Source) {
	h.orch.planner = staticPlanner{srcs: srcs}
}

var errLedgerDown = errors.New("connection refused")
