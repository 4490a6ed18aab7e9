package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/config"
)

// ServiceName is attached to every log line as "service".
const ServiceName = "document-acquisition-service"

// NewLogger builds a process logger from the logging section and tags it
// with the binary's component name. The configured level is also installed
// as zerolog's global level.
func NewLogger(cfg config.LoggingConfig, component string) zerolog.Logger {
	return newLogger(cfg, component, outputWriter(cfg.Output))
}

func newLogger(cfg config.LoggingConfig, component string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = cfg.TimeFormat
	if zerolog.TimeFieldFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: zerolog.TimeFieldFormat}
	}

	lc := zerolog.New(w).With().Timestamp().Str("service", ServiceName)
	if component != "" {
		lc = lc.Str("component", component)
	}
	if cfg.AddSource {
		lc = lc.Caller()
	}

	level := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return lc.Logger().Level(level)
}

func outputWriter(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "discard", "none":
		return io.Discard
	default:
		return os.Stdout
	}
}

// ParseLevel maps a configured level name to a zerolog level. Unknown or
// empty names fall back to info; "warning" is accepted for warn.
func ParseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// WithAcquisitionContext adds the acquisition key fields to a logger.
func WithAcquisitionContext(logger zerolog.Logger, projectID, doi string) zerolog.Logger {
	return logger.With().
		Str("project_id", projectID).
		Str("doi", doi).
		Logger()
}

// WithSourceContext adds the source adapter name to a logger.
func WithSourceContext(logger zerolog.Logger, source string) zerolog.Logger {
	return logger.With().Str("source", source).Logger()
}
