package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/observability"
)

type projectKey struct{}

const maxProjectIDLength = 128

// checkProjectID rejects IDs that could escape the project's storage prefix.
func checkProjectID(id string) string {
	switch {
	case id == "":
		return "project_id is required"
	case len(id) > maxProjectIDLength,
		strings.ContainsAny(id, `/\`),
		strings.Contains(id, ".."):
		return "project_id is invalid"
	}
	return ""
}

func projectContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "projectID"))
		if msg := checkProjectID(id); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), projectKey{}, id)))
	})
}

func projectIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(projectKey{}).(string)
	return id
}

// requestIDMiddleware echoes X-Request-ID, falling back to chi's ID and then
// a fresh UUID, and makes it visible to context loggers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = middleware.GetReqID(r.Context())
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

// accessLogMiddleware logs each request at debug, or warn for 5xx.
func accessLogMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			lvl := zerolog.DebugLevel
			if ww.Status() >= http.StatusInternalServerError {
				lvl = zerolog.WarnLevel
			}
			reqLog := observability.LoggerFromContext(r.Context(), logger)
			reqLog.WithLevel(lvl).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
