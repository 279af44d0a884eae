// Package observability holds the Prometheus metrics and OpenTelemetry tracer
// shared by the ingest and search paths.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "council"

// Metrics holds all Prometheus metrics for council-search. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	SearchRequestsTotal *prometheus.CounterVec
	SearchSeconds       prometheus.Histogram
	SearchResults       prometheus.Histogram

	IngestMeetingsTotal *prometheus.CounterVec
	IngestErrorsTotal   *prometheus.CounterVec
	IngestBatchSeconds  *prometheus.HistogramVec

	IndexDocumentsTotal *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SearchRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "search_requests_total",
				Help:      "Search requests by sort order and outcome",
			},
			[]string{"sort", "status"},
		),
		SearchSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "search_duration_seconds",
				Help:      "End-to-end search latency including timestamp resolution",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		SearchResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "search_results",
				Help:      "Total matches per search before pagination",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		IngestMeetingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ingest_meetings_total",
				Help:      "Meetings processed per authority by outcome",
			},
			[]string{"authority", "outcome"},
		),
		IngestErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ingest_errors_total",
				Help:      "Classified ingestion failures",
			},
			[]string{"code"},
		),
		IngestBatchSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "ingest_batch_duration_seconds",
				Help:      "Duration of one authority ingestion pass",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"authority"},
		),
		IndexDocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "index_documents_total",
				Help:      "Search document writes by result (indexed or skipped)",
			},
			[]string{"result"},
		),
	}
}

// RecordSearch records one search request.
func (m *Metrics) RecordSearch(sort, status string, seconds float64, total int) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(sort, status).Inc()
	m.SearchSeconds.Observe(seconds)
	if status == "ok" {
		m.SearchResults.Observe(float64(total))
	}
}

// RecordMeeting records the outcome of ingesting one meeting.
func (m *Metrics) RecordMeeting(authority, outcome string) {
	if m == nil {
		return
	}
	m.IngestMeetingsTotal.WithLabelValues(authority, outcome).Inc()
}

// RecordIngestError counts a classified ingestion failure.
func (m *Metrics) RecordIngestError(code string) {
	if m == nil {
		return
	}
	m.IngestErrorsTotal.WithLabelValues(code).Inc()
}

// RecordBatch records the duration of an authority pass.
func (m *Metrics) RecordBatch(authority string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestBatchSeconds.WithLabelValues(authority).Observe(seconds)
}

// RecordIndexWrite counts a search document write.
func (m *Metrics) RecordIndexWrite(indexed bool) {
	if m == nil {
		return
	}
	result := "skipped"
	if indexed {
		result = "indexed"
	}
	m.IndexDocumentsTotal.WithLabelValues(result).Inc()
}
