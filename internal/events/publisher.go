// Package events carries acquisition traffic over Kafka: terminal outcomes are
// published for downstream consumers, and acquisition requests can be submitted
// asynchronously.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// EventTypeAcquisitionFinished is the type of every published outcome.
const EventTypeAcquisitionFinished = "document.acquisition.finished"

// AcquisitionEvent describes one terminal acquisition outcome.
type AcquisitionEvent struct {
	EventID      uuid.UUID                `json:"event_id"`
	EventType    string                   `json:"event_type"`
	ProjectID    string                   `json:"project_id"`
	DOI          string                   `json:"doi"`
	Status       domain.AcquisitionStatus `json:"status"`
	SourceUsed   string                   `json:"source_used,omitempty"`
	Path         string                   `json:"path,omitempty"`
	Attempts     int                      `json:"attempts"`
	LastCategory domain.FailureCategory   `json:"last_category,omitempty"`
	RetryCount   int                      `json:"retry_count,omitempty"`
	NextRetryAt  *time.Time               `json:"next_retry_at,omitempty"`
	OccurredAt   time.Time                `json:"occurred_at"`
}

// NewAcquisitionEvent builds the event for an outcome.
func NewAcquisitionEvent(outcome *domain.AcquisitionOutcome, at time.Time) AcquisitionEvent {
	return AcquisitionEvent{
		EventID:      uuid.New(),
		EventType:    EventTypeAcquisitionFinished,
		ProjectID:    outcome.ProjectID,
		DOI:          outcome.DOI,
		Status:       outcome.Status,
		SourceUsed:   outcome.SourceUsed,
		Path:         outcome.Path,
		Attempts:     outcome.Attempts,
		LastCategory: outcome.LastCategory,
		RetryCount:   outcome.RetryCount,
		NextRetryAt:  outcome.NextRetryAt,
		OccurredAt:   at,
	}
}

// Publisher publishes acquisition events.
type Publisher interface {
	Publish(ctx context.Context, event AcquisitionEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, AcquisitionEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures the Kafka publisher.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// KafkaPublisher writes events to a topic keyed by project and DOI, so all
// events of one document land on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(cfg PublisherConfig, logger zerolog.Logger) *KafkaPublisher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "event_publisher").Str("topic", topic).Logger(),
	}
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, event AcquisitionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal acquisition event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ProjectID + "/" + event.DOI),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID.String())},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish acquisition event: %w", err)
	}

	p.logger.Debug().
		Str("project_id", event.ProjectID).
		Str("doi", event.DOI).
		Str("status", string(event.Status)).
		Msg("published acquisition event")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
