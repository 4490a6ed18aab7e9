package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_docacq_new")

	assert.NotNil(t, m.AcquisitionsTotal)
	assert.NotNil(t, m.AcquisitionDuration)
	assert.NotNil(t, m.AcquisitionsInFlight)
	assert.NotNil(t, m.AcquisitionsContended)
	assert.NotNil(t, m.SourceAttempts)
	assert.NotNil(t, m.SourceAttemptDuration)
	assert.NotNil(t, m.SourceBytesDownloaded)
	assert.NotNil(t, m.SourceAdapterPanics)
	assert.NotNil(t, m.LedgerWriteFailures)
	assert.NotNil(t, m.RetrySweeps)
	assert.NotNil(t, m.RetryEntriesClaimed)
	assert.NotNil(t, m.RetryEntriesProcessed)
	assert.NotNil(t, m.RetryPermanentFailures)
	assert.NotNil(t, m.EventsPublished)
}

func TestRecordAcquisition(t *testing.T) {
	m := NewMetrics("test_acquisition_lifecycle")

	m.RecordAcquisitionStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AcquisitionsInFlight))

	m.RecordAcquisitionFinished("downloaded", 2.5)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.AcquisitionsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AcquisitionsTotal.WithLabelValues("downloaded")))

	histCount, err := getHistogramSampleCount(m.AcquisitionDuration.WithLabelValues("downloaded").(prometheus.Histogram))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordAcquisitionContended(t *testing.T) {
	m := NewMetrics("test_acquisition_contended")

	m.RecordAcquisitionContended()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AcquisitionsContended))
}

func TestRecordSourceAttempt(t *testing.T) {
	m := NewMetrics("test_source_attempt")

	t.Run("success adds bytes", func(t *testing.T) {
		m.RecordSourceAttempt("unpaywall", "success", 0.8, 2048)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceAttempts.WithLabelValues("unpaywall", "success")))
		assert.Equal(t, float64(2048), testutil.ToFloat64(m.SourceBytesDownloaded.WithLabelValues("unpaywall")))
	})

	t.Run("failure leaves bytes untouched", func(t *testing.T) {
		m.RecordSourceAttempt("unpaywall", "rate_limited", 0.1, 0)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceAttempts.WithLabelValues("unpaywall", "rate_limited")))
		assert.Equal(t, float64(2048), testutil.ToFloat64(m.SourceBytesDownloaded.WithLabelValues("unpaywall")))
	})

	histCount, err := getHistogramSampleCount(m.SourceAttemptDuration.WithLabelValues("unpaywall").(prometheus.Histogram))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), histCount)
}

func TestRecordAdapterPanicAndLedgerFailure(t *testing.T) {
	m := NewMetrics("test_adapter_panic")

	m.RecordAdapterPanic("publisher")
	m.RecordLedgerWriteFailure()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceAdapterPanics.WithLabelValues("publisher")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LedgerWriteFailures))
}

func TestRecordRetry(t *testing.T) {
	m := NewMetrics("test_retry")

	m.RecordRetrySweep(3)
	m.RecordRetrySweep(0)
	m.RecordRetryProcessed("downloaded")
	m.RecordRetryProcessed("requeued")
	m.RecordRetryProcessed("requeued")
	m.RecordRetryPermanentFailure()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RetrySweeps))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RetryEntriesClaimed))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RetryEntriesProcessed.WithLabelValues("requeued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetryPermanentFailures))
}

func TestRecordEventPublished(t *testing.T) {
	m := NewMetrics("test_events_published")

	m.RecordEventPublished(nil)
	m.RecordEventPublished(errors.New("broker down"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("error")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
