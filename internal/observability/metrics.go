package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the document acquisition service.
// Metrics are organized by subsystem: acquisitions, source attempts, and the
// retry queue. All counters and histograms are registered via promauto with the
// default Prometheus registry.
type Metrics struct {
	// AcquisitionsTotal counts finished acquisitions, labeled by terminal status.
	AcquisitionsTotal *prometheus.CounterVec

	// AcquisitionDuration observes the end-to-end duration of acquisitions in seconds.
	AcquisitionDuration *prometheus.HistogramVec

	// AcquisitionsInFlight tracks acquisitions currently being processed.
	AcquisitionsInFlight prometheus.Gauge

	// AcquisitionsContended counts requests rejected because the same
	// (project, DOI) was already being acquired.
	AcquisitionsContended prometheus.Counter

	// SourceAttempts counts adapter attempts, labeled by source and outcome category.
	SourceAttempts *prometheus.CounterVec

	// SourceAttemptDuration observes adapter latency in seconds, labeled by source.
	SourceAttemptDuration *prometheus.HistogramVec

	// SourceBytesDownloaded counts document bytes obtained, labeled by source.
	SourceBytesDownloaded *prometheus.CounterVec

	// SourceAdapterPanics counts adapter calls that panicked, labeled by source.
	SourceAdapterPanics *prometheus.CounterVec

	// LedgerWriteFailures counts attempts that could not be durably recorded.
	LedgerWriteFailures prometheus.Counter

	// RetrySweeps counts completed retry sweeps.
	RetrySweeps prometheus.Counter

	// RetryEntriesClaimed counts retry queue entries leased by sweeps.
	RetryEntriesClaimed prometheus.Counter

	// RetryEntriesProcessed counts leased entries by the result of the re-run.
	RetryEntriesProcessed *prometheus.CounterVec

	// RetryPermanentFailures counts DOIs dropped from the queue after max retries.
	RetryPermanentFailures prometheus.Counter

	// EventsPublished counts acquisition events published, labeled by result (ok, error).
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Acquisitions
		AcquisitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Total number of finished acquisitions by status",
		}, []string{"status"}),
		AcquisitionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquisition_duration_seconds",
			Help:      "Duration of document acquisitions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		AcquisitionsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "acquisitions_in_flight",
			Help:      "Number of acquisitions currently in progress",
		}),
		AcquisitionsContended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_contended_total",
			Help:      "Total number of acquisitions rejected because another worker held the lock",
		}),

		// Sources
		SourceAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "attempts_total",
			Help:      "Total number of source attempts by outcome category",
		}, []string{"source", "category"}),
		SourceAttemptDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "attempt_duration_seconds",
			Help:      "Latency of source attempts in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		SourceBytesDownloaded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "bytes_downloaded_total",
			Help:      "Total document bytes downloaded by source",
		}, []string{"source"}),
		SourceAdapterPanics: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "adapter_panics_total",
			Help:      "Total number of recovered adapter panics",
		}, []string{"source"}),
		LedgerWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_write_failures_total",
			Help:      "Total number of attempts that could not be recorded",
		}),

		// Retry queue
		RetrySweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "sweeps_total",
			Help:      "Total number of retry queue sweeps",
		}),
		RetryEntriesClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "entries_claimed_total",
			Help:      "Total number of retry entries claimed by sweeps",
		}),
		RetryEntriesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "entries_processed_total",
			Help:      "Total number of retry entries processed by result",
		}, []string{"result"}),
		RetryPermanentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "permanent_failures_total",
			Help:      "Total number of DOIs dropped after exhausting retries",
		}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of acquisition events published by result",
		}, []string{"result"}),
	}
}

// RecordAcquisitionStarted marks an acquisition as in flight.
func (m *Metrics) RecordAcquisitionStarted() {
	m.AcquisitionsInFlight.Inc()
}

// RecordAcquisitionFinished records the terminal status of an acquisition.
func (m *Metrics) RecordAcquisitionFinished(status string, durationSeconds float64) {
	m.AcquisitionsInFlight.Dec()
	m.AcquisitionsTotal.WithLabelValues(status).Inc()
	m.AcquisitionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordAcquisitionContended records a request rejected by the acquisition lock.
func (m *Metrics) RecordAcquisitionContended() {
	m.AcquisitionsContended.Inc()
}

// RecordSourceAttempt records one classified adapter attempt.
func (m *Metrics) RecordSourceAttempt(source, category string, durationSeconds float64, sizeBytes int64) {
	m.SourceAttempts.WithLabelValues(source, category).Inc()
	m.SourceAttemptDuration.WithLabelValues(source).Observe(durationSeconds)
	if sizeBytes > 0 {
		m.SourceBytesDownloaded.WithLabelValues(source).Add(float64(sizeBytes))
	}
}

// RecordAdapterPanic records a recovered adapter panic.
func (m *Metrics) RecordAdapterPanic(source string) {
	m.SourceAdapterPanics.WithLabelValues(source).Inc()
}

// RecordLedgerWriteFailure records an attempt that could not be persisted.
func (m *Metrics) RecordLedgerWriteFailure() {
	m.LedgerWriteFailures.Inc()
}

// RecordRetrySweep records a finished sweep and how many entries it claimed.
func (m *Metrics) RecordRetrySweep(claimed int) {
	m.RetrySweeps.Inc()
	m.RetryEntriesClaimed.Add(float64(claimed))
}

// RecordRetryProcessed records the result of re-running one claimed entry.
func (m *Metrics) RecordRetryProcessed(result string) {
	m.RetryEntriesProcessed.WithLabelValues(result).Inc()
}

// RecordRetryPermanentFailure records a DOI that exhausted its retries.
func (m *Metrics) RecordRetryPermanentFailure() {
	m.RetryPermanentFailures.Inc()
}

// RecordEventPublished records the result of publishing an acquisition event.
func (m *Metrics) RecordEventPublished(err error) {
	if err != nil {
		m.EventsPublished.WithLabelValues("error").Inc()
		return
	}
	m.EventsPublished.WithLabelValues("ok").Inc()
}
