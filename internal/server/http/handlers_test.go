package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/repository"
	"github.com/helixir/document-acquisition-service/internal/retry"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockService implements Service for HTTP handler tests.
type mockService struct {
	acquireFn     func(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error)
	rankingsFn    func(ctx context.Context) ([]domain.SourceRanking, error)
	setEnabledFn  func(ctx context.Context, name string, enabled bool) error
	setPriorityFn func(ctx context.Context, name string, priority int) error
	historyFn     func(ctx context.Context, projectID string, limit int) ([]domain.DownloadAttempt, error)
	statisticsFn  func(ctx context.Context, projectID string, window time.Duration) (*domain.Statistics, error)
	cleanupFn     func(ctx context.Context, retentionDays int) (int64, error)
	retryQueueFn  func(ctx context.Context, limit int) ([]domain.RetryEntry, error)
	patternsFn    func(ctx context.Context, limit int) ([]domain.PublisherPattern, error)
	rebuildFn     func(ctx context.Context) (*repository.RebuildReport, error)
	sweepFn       func(ctx context.Context) (*retry.SweepReport, error)
}

func (m *mockService) AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error) {
	if m.acquireFn != nil {
		return m.acquireFn(ctx, projectID, doi)
	}
	return &domain.AcquisitionOutcome{ProjectID: projectID, DOI: doi, Status: domain.StatusAlreadyPresent}, nil
}

func (m *mockService) GetSourceRankings(ctx context.Context) ([]domain.SourceRanking, error) {
	if m.rankingsFn != nil {
		return m.rankingsFn(ctx)
	}
	return nil, nil
}

func (m *mockService) SetSourceEnabled(ctx context.Context, name string, enabled bool) error {
	if m.setEnabledFn != nil {
		return m.setEnabledFn(ctx, name, enabled)
	}
	return nil
}

func (m *mockService) SetSourcePriority(ctx context.Context, name string, priority int) error {
	if m.setPriorityFn != nil {
		return m.setPriorityFn(ctx, name, priority)
	}
	return nil
}

func (m *mockService) GetDownloadHistory(ctx context.Context, projectID string, limit int) ([]domain.DownloadAttempt, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, projectID, limit)
	}
	return nil, nil
}

func (m *mockService) GetStatistics(ctx context.Context, projectID string, window time.Duration) (*domain.Statistics, error) {
	if m.statisticsFn != nil {
		return m.statisticsFn(ctx, projectID, window)
	}
	return &domain.Statistics{}, nil
}

func (m *mockService) CleanupOldAttempts(ctx context.Context, retentionDays int) (int64, error) {
	if m.cleanupFn != nil {
		return m.cleanupFn(ctx, retentionDays)
	}
	return 0, nil
}

func (m *mockService) GetRetryQueue(ctx context.Context, limit int) ([]domain.RetryEntry, error) {
	if m.retryQueueFn != nil {
		return m.retryQueueFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockService) GetPublisherPatterns(ctx context.Context, limit int) ([]domain.PublisherPattern, error) {
	if m.patternsFn != nil {
		return m.patternsFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockService) RebuildAggregates(ctx context.Context) (*repository.RebuildReport, error) {
	if m.rebuildFn != nil {
		return m.rebuildFn(ctx)
	}
	return &repository.RebuildReport{}, nil
}

func (m *mockService) SweepRetryQueue(ctx context.Context) (*retry.SweepReport, error) {
	if m.sweepFn != nil {
		return m.sweepFn(ctx)
	}
	return &retry.SweepReport{}, nil
}

type stubHealth struct{ status database.HealthStatus }

func (h stubHealth) Health(context.Context) database.HealthStatus { return h.status }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(svc *mockService) *Server {
	return NewServer(Config{Address: ":0"}, svc, stubHealth{status: database.HealthStatus{Status: "healthy"}}, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// ---------------------------------------------------------------------------
// Acquisition
// ---------------------------------------------------------------------------

func TestAcquireDocument(t *testing.T) {
	tests := []struct {
		name       string
		status     domain.AcquisitionStatus
		wantStatus int
	}{
		{"downloaded", domain.StatusDownloaded, http.StatusCreated},
		{"already present", domain.StatusAlreadyPresent, http.StatusOK},
		{"queued", domain.StatusQueuedForRetry, http.StatusAccepted},
		{"permanently failed", domain.StatusPermanentlyFailed, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotProject, gotDOI string
			svc := &mockService{acquireFn: func(_ context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error) {
				gotProject, gotDOI = projectID, doi
				return &domain.AcquisitionOutcome{ProjectID: projectID, DOI: doi, Status: tt.status, Attempts: 2}, nil
			}}

			rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/projects/proj-1/documents",
				acquireRequest{DOI: "10.1371/journal.pone.0000001"})

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "proj-1", gotProject)
			assert.Equal(t, "10.1371/journal.pone.0000001", gotDOI)

			var out domain.AcquisitionOutcome
			decodeBody(t, rec, &out)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, 2, out.Attempts)
		})
	}
}

func TestAcquireDocument_BadRequests(t *testing.T) {
	s := newTestServer(&mockService{acquireFn: func(context.Context, string, string) (*domain.AcquisitionOutcome, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})

	tests := []struct {
		name    string
		path    string
		body    interface{}
		wantMsg string
	}{
		{"malformed json", "/api/v1/projects/proj-1/documents", "{", "invalid JSON request body"},
		{"missing doi", "/api/v1/projects/proj-1/documents", map[string]string{}, "doi is required"},
		{"traversal project", "/api/v1/projects/..%2Fetc/documents", acquireRequest{DOI: "10.1/x"}, "project_id is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", domain.NewValidationError("doi", "must start with \"10.\""), http.StatusBadRequest},
		{"not found", domain.NewNotFoundError("source", "x"), http.StatusNotFound},
		{"in progress", domain.ErrAcquisitionInProgress, http.StatusConflict},
		{"unavailable", fmt.Errorf("%w: redis", domain.ErrServiceUnavailable), http.StatusServiceUnavailable},
		{"cancelled", fmt.Errorf("%w: context canceled", domain.ErrCancelled), http.StatusConflict},
		{"ledger", fmt.Errorf("record attempt: %w", domain.ErrLedgerWrite), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{acquireFn: func(context.Context, string, string) (*domain.AcquisitionOutcome, error) {
				return nil, tt.err
			}}
			rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/projects/p/documents", acquireRequest{DOI: "10.1/x"})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotContains(t, rec.Body.String(), "boom", "internal details are not leaked")
		})
	}
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

func TestHistory(t *testing.T) {
	var gotProject string
	var gotLimit int
	svc := &mockService{historyFn: func(_ context.Context, projectID string, limit int) ([]domain.DownloadAttempt, error) {
		gotProject, gotLimit = projectID, limit
		return []domain.DownloadAttempt{{SourceName: "arxiv", Success: true}}, nil
	}}
	s := newTestServer(svc)

	rec := do(t, s, http.MethodGet, "/api/v1/projects/proj-1/documents/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proj-1", gotProject)
	assert.Equal(t, 10, gotLimit)

	var out historyResponse
	decodeBody(t, rec, &out)
	assert.Equal(t, 1, out.Count)

	rec = do(t, s, http.MethodGet, "/api/v1/admin/history?limit=99999", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotProject)
	assert.Equal(t, maxListLimit, gotLimit)

	rec = do(t, s, http.MethodGet, "/api/v1/admin/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatistics(t *testing.T) {
	var gotWindow time.Duration
	svc := &mockService{statisticsFn: func(_ context.Context, projectID string, window time.Duration) (*domain.Statistics, error) {
		gotWindow = window
		return &domain.Statistics{ProjectID: projectID, Window: 7 * 24 * time.Hour, TotalAttempts: 5, Successes: 4, SuccessRate: 0.8}, nil
	}}
	s := newTestServer(svc)

	rec := do(t, s, http.MethodGet, "/api/v1/projects/proj-1/statistics?window=168h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 168*time.Hour, gotWindow)

	var out statisticsResponse
	decodeBody(t, rec, &out)
	assert.Equal(t, "168h0m0s", out.Window)
	assert.Equal(t, int64(5), out.TotalAttempts)
	assert.NotNil(t, out.ByCategory)

	rec = do(t, s, http.MethodGet, "/api/v1/admin/statistics?window=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestSourceAdmin(t *testing.T) {
	t.Run("rankings", func(t *testing.T) {
		svc := &mockService{rankingsFn: func(context.Context) ([]domain.SourceRanking, error) {
			return []domain.SourceRanking{{Name: "arxiv", Enabled: true, SuccessRate: 0.9}}, nil
		}}
		rec := do(t, newTestServer(svc), http.MethodGet, "/api/v1/admin/sources", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var out rankingsResponse
		decodeBody(t, rec, &out)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, "arxiv", out.Sources[0].Name)
	})

	t.Run("disable", func(t *testing.T) {
		var gotName string
		gotEnabled := true
		svc := &mockService{setEnabledFn: func(_ context.Context, name string, enabled bool) error {
			gotName, gotEnabled = name, enabled
			return nil
		}}
		rec := do(t, newTestServer(svc), http.MethodPut, "/api/v1/admin/sources/semantic_scholar/enabled", map[string]bool{"enabled": false})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "semantic_scholar", gotName)
		assert.False(t, gotEnabled)
	})

	t.Run("enabled flag required", func(t *testing.T) {
		rec := do(t, newTestServer(&mockService{}), http.MethodPut, "/api/v1/admin/sources/arxiv/enabled", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "enabled is required")
	})

	t.Run("unknown source", func(t *testing.T) {
		svc := &mockService{setPriorityFn: func(context.Context, string, int) error {
			return domain.NewNotFoundError("source", "nope")
		}}
		rec := do(t, newTestServer(svc), http.MethodPut, "/api/v1/admin/sources/nope/priority", map[string]int{"priority": 3})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("negative priority", func(t *testing.T) {
		rec := do(t, newTestServer(&mockService{}), http.MethodPut, "/api/v1/admin/sources/arxiv/priority", map[string]int{"priority": -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "priority must be at least 0")
	})
}

func TestMaintenance(t *testing.T) {
	t.Run("cleanup", func(t *testing.T) {
		svc := &mockService{cleanupFn: func(_ context.Context, days int) (int64, error) {
			assert.Equal(t, 90, days)
			return 42, nil
		}}
		rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/admin/maintenance/cleanup", cleanupRequest{RetentionDays: 90})
		require.Equal(t, http.StatusOK, rec.Code)

		var out cleanupResponse
		decodeBody(t, rec, &out)
		assert.Equal(t, int64(42), out.Deleted)
	})

	t.Run("cleanup requires retention", func(t *testing.T) {
		rec := do(t, newTestServer(&mockService{}), http.MethodPost, "/api/v1/admin/maintenance/cleanup", map[string]int{"retention_days": 0})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "retention_days is required")
	})

	t.Run("rebuild", func(t *testing.T) {
		svc := &mockService{rebuildFn: func(context.Context) (*repository.RebuildReport, error) {
			return &repository.RebuildReport{Sources: 7, Patterns: 12}, nil
		}}
		rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/admin/maintenance/rebuild", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var out repository.RebuildReport
		decodeBody(t, rec, &out)
		assert.Equal(t, int64(12), out.Patterns)
	})

	t.Run("sweep", func(t *testing.T) {
		svc := &mockService{sweepFn: func(context.Context) (*retry.SweepReport, error) {
			return &retry.SweepReport{Claimed: 3, Downloaded: 1, Requeued: 2}, nil
		}}
		rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/admin/retry-queue/sweep", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var out retry.SweepReport
		decodeBody(t, rec, &out)
		assert.Equal(t, 2, out.Requeued)
	})

	t.Run("empty lists render as arrays", func(t *testing.T) {
		s := newTestServer(&mockService{})
		for _, path := range []string{"/api/v1/admin/retry-queue", "/api/v1/admin/patterns"} {
			rec := do(t, s, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "[]")
		}
	})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(&mockService{})
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", nil).Code)

	down := NewServer(Config{}, &mockService{}, stubHealth{status: database.HealthStatus{Status: "unhealthy", Error: "dial tcp"}}, zerolog.Nop())
	rec := do(t, down, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}
