// Package httpserver exposes acquisition and source administration over a
// JSON REST API.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/repository"
	"github.com/helixir/document-acquisition-service/internal/retry"
)

// Service is what the handlers call. *acquisition.Service satisfies it.
type Service interface {
	AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error)
	GetSourceRankings(ctx context.Context) ([]domain.SourceRanking, error)
	SetSourceEnabled(ctx context.Context, name string, enabled bool) error
	SetSourcePriority(ctx context.Context, name string, priority int) error
	GetDownloadHistory(ctx context.Context, projectID string, limit int) ([]domain.DownloadAttempt, error)
	GetStatistics(ctx context.Context, projectID string, window time.Duration) (*domain.Statistics, error)
	CleanupOldAttempts(ctx context.Context, retentionDays int) (int64, error)
	GetRetryQueue(ctx context.Context, limit int) ([]domain.RetryEntry, error)
	GetPublisherPatterns(ctx context.Context, limit int) ([]domain.PublisherPattern, error)
	RebuildAggregates(ctx context.Context) (*repository.RebuildReport, error)
	SweepRetryQueue(ctx context.Context) (*retry.SweepReport, error)
}

// HealthChecker backs /readyz. A nil checker means always ready.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ShutdownTimeout caps Shutdown when the caller's context has no deadline.
	ShutdownTimeout time.Duration
}

type Server struct {
	srv             *http.Server
	mux             chi.Router
	svc             Service
	health          HealthChecker
	validate        *validator.Validate
	log             zerolog.Logger
	shutdownTimeout time.Duration
}

func NewServer(cfg Config, svc Service, health HealthChecker, logger zerolog.Logger) *Server {
	s := &Server{
		svc:             svc,
		health:          health,
		validate:        newValidator(),
		log:             logger.With().Str("component", "http-server").Logger(),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.mux = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.mux,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// newValidator names fields in errors by their JSON keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestIDMiddleware,
		accessLogMiddleware(s.log),
		jsonContentTypeMiddleware,
	)

	r.Get("/healthz", s.live)
	r.Get("/readyz", s.ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects/{projectID}", s.projectRoutes)
		r.Route("/admin", s.adminRoutes)
	})
	return r
}

func (s *Server) projectRoutes(r chi.Router) {
	r.Use(projectContextMiddleware)
	r.Post("/documents", s.acquireDocument)
	r.Get("/documents/history", s.projectHistory)
	r.Get("/statistics", s.projectStatistics)
}

func (s *Server) adminRoutes(r chi.Router) {
	r.Route("/sources", func(r chi.Router) {
		r.Get("/", s.listSourceRankings)
		r.Put("/{name}/enabled", s.setSourceEnabled)
		r.Put("/{name}/priority", s.setSourcePriority)
	})
	r.Get("/history", s.adminHistory)
	r.Get("/statistics", s.adminStatistics)
	r.Get("/patterns", s.listPatterns)
	r.Get("/retry-queue", s.listRetryQueue)
	r.Post("/retry-queue/sweep", s.sweepRetryQueue)
	r.Post("/maintenance/cleanup", s.cleanupAttempts)
	r.Post("/maintenance/rebuild", s.rebuildAggregates)
}

// Start blocks serving requests. It returns nil once Shutdown has been called.
func (s *Server) Start() error {
	s.log.Info().Str("address", s.srv.Addr).Msg("http api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	h := s.health.Health(r.Context())
	body := map[string]string{"status": "ready", "database": h.Status}
	code := http.StatusOK
	if h.Status != database.StatusHealthy {
		body["status"] = "not_ready"
		body["error"] = h.Error
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}
