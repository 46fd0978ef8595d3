package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enrollr",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enrollr",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// IngestionsTotal counts file ingestion outcomes by result
	// (success, storage_failure, persistence_failure, inconsistent).
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enrollr",
			Name:      "file_ingestions_total",
			Help:      "File ingestion attempts by result",
		},
		[]string{"result"},
	)

	IngestedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "enrollr",
			Name:      "file_ingested_bytes_total",
			Help:      "Bytes written by successful ingestions",
		},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enrollr",
			Name:      "registrations_total",
			Help:      "Registration attempts by result",
		},
		[]string{"result"},
	)

	// CompensationsTotal counts cleanup runs after a failed step, by outcome.
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enrollr",
			Name:      "compensations_total",
			Help:      "Compensating cleanups by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// OrphansTotal is the signal a reconciliation sweep keys off.
	OrphansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enrollr",
			Name:      "orphans_recorded_total",
			Help:      "Artifacts or file rows left behind by a failed cleanup",
		},
		[]string{"kind"},
	)
)
