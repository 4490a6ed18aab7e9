package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockWriter implements messageWriter for testing.
type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

// mockAcquirer implements Acquirer for testing.
type mockAcquirer struct {
	mock.Mock
}

func (m *mockAcquirer) AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error) {
	args := m.Called(ctx, projectID, doi)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AcquisitionOutcome), args.Error(1)
}

// scriptedReader replays a fixed list of messages, then blocks until cancelled.
type scriptedReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
	drained   chan struct{}
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		if r.drained != nil {
			close(r.drained)
			r.drained = nil
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	next := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	event := NewAcquisitionEvent(&domain.AcquisitionOutcome{
		ProjectID:    "proj-1",
		DOI:          "10.1371/journal.pone.0000001",
		Status:       domain.StatusQueuedForRetry,
		Attempts:     3,
		LastCategory: domain.CategoryRateLimited,
		NextRetryAt:  &next,
	}, next.Add(-time.Hour))

	w := new(mockWriter)
	w.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 {
			return false
		}
		var got AcquisitionEvent
		if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
			return false
		}
		return string(msgs[0].Key) == "proj-1/10.1371/journal.pone.0000001" &&
			got.Status == domain.StatusQueuedForRetry &&
			got.EventType == EventTypeAcquisitionFinished &&
			got.LastCategory == domain.CategoryRateLimited
	})).Return(nil)

	p := newKafkaPublisher(w, "acquisition.events", newTestLogger())
	require.NoError(t, p.Publish(ctx, event))
	w.AssertExpectations(t)

	t.Run("write errors are returned", func(t *testing.T) {
		w := new(mockWriter)
		w.On("WriteMessages", ctx, mock.Anything).Return(errors.New("broker down"))

		err := newKafkaPublisher(w, "t", newTestLogger()).Publish(ctx, event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	})
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), AcquisitionEvent{}))
	assert.NoError(t, p.Close())
}

func requestMessage(t *testing.T, offset int64, req any) kafka.Message {
	t.Helper()
	value, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func TestRequestListener_Run(t *testing.T) {
	drained := make(chan struct{})
	reader := &scriptedReader{drained: drained, msgs: []kafka.Message{
		requestMessage(t, 1, AcquisitionRequest{ProjectID: "proj-1", DOI: "https://doi.org/10.1371/Journal.pone.0000001"}),
		{Offset: 2, Value: []byte("{not json")},
		requestMessage(t, 3, AcquisitionRequest{ProjectID: "proj-1", DOI: "not-a-doi"}),
		requestMessage(t, 4, AcquisitionRequest{ProjectID: "proj-1", DOI: "10.7554/elife.00001"}),
		requestMessage(t, 5, AcquisitionRequest{ProjectID: "proj-2", DOI: "10.3389/x"}),
	}}

	acq := new(mockAcquirer)
	acq.On("AcquireDocument", mock.Anything, "proj-1", "10.1371/journal.pone.0000001").
		Return(&domain.AcquisitionOutcome{Status: domain.StatusDownloaded, SourceUsed: "publisher"}, nil)
	acq.On("AcquireDocument", mock.Anything, "proj-1", "10.7554/elife.00001").
		Return(nil, domain.ErrAcquisitionInProgress)
	acq.On("AcquireDocument", mock.Anything, "proj-2", "10.3389/x").
		Return(nil, errors.New("ledger down"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	listener := newRequestListener(reader, acq, newTestLogger())
	go func() { done <- listener.Run(ctx) }()

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not consume all messages")
	}
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reader.committed, "every message is committed, including malformed ones")
	acq.AssertExpectations(t)

	require.NoError(t, listener.Close())
	assert.True(t, reader.closed)
}
