package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// AcquisitionRequest asks for one document to be acquired asynchronously.
type AcquisitionRequest struct {
	ProjectID string `json:"project_id"`
	DOI       string `json:"doi"`
}

// Acquirer runs one acquisition.
type Acquirer interface {
	AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error)
}

// messageReader is the subset of *kafka.Reader used by RequestListener.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ListenerConfig holds configuration for the request listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for acquisition requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// RequestListener consumes acquisition requests and runs them one at a time.
// Offsets are committed after handling, so a crash mid-acquisition replays the
// request; acquisitions are idempotent per (project, DOI).
type RequestListener struct {
	reader   messageReader
	acquirer Acquirer
	logger   zerolog.Logger
}

// NewRequestListener creates a listener backed by a kafka.Reader.
func NewRequestListener(cfg ListenerConfig, acquirer Acquirer, logger zerolog.Logger) *RequestListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newRequestListener(reader, acquirer, logger)
}

func newRequestListener(reader messageReader, acquirer Acquirer, logger zerolog.Logger) *RequestListener {
	return &RequestListener{
		reader:   reader,
		acquirer: acquirer,
		logger:   logger.With().Str("component", "request_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *RequestListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting acquisition request listener")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("request listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received acquisition request")

		if err := l.handle(ctx, msg); err != nil {
			l.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to handle acquisition request")
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}

// handle decodes and runs one request. Malformed requests are logged and
// dropped rather than retried forever.
func (l *RequestListener) handle(ctx context.Context, msg kafka.Message) error {
	var req AcquisitionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		l.logger.Error().Err(err).
			Str("raw_value", string(msg.Value)).
			Msg("failed to unmarshal acquisition request")
		return nil
	}

	doi := domain.NormalizeDOI(req.DOI)
	if req.ProjectID == "" || domain.ValidateDOI(doi) != nil {
		l.logger.Warn().
			Str("project_id", req.ProjectID).
			Str("doi", req.DOI).
			Msg("dropping invalid acquisition request")
		return nil
	}

	outcome, err := l.acquirer.AcquireDocument(ctx, req.ProjectID, doi)
	if err != nil {
		if errors.Is(err, domain.ErrAcquisitionInProgress) {
			l.logger.Debug().Str("project_id", req.ProjectID).Str("doi", doi).Msg("acquisition already running elsewhere")
			return nil
		}
		return fmt.Errorf("acquire %s/%s: %w", req.ProjectID, doi, err)
	}

	l.logger.Info().
		Str("project_id", req.ProjectID).
		Str("doi", doi).
		Str("status", string(outcome.Status)).
		Str("source", outcome.SourceUsed).
		Msg("acquisition request handled")
	return nil
}

// Close closes the Kafka reader.
func (l *RequestListener) Close() error {
	l.logger.Info().Msg("closing acquisition request listener")
	return l.reader.Close()
}
