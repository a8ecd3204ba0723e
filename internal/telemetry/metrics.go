package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UnitsProcessed counts units seen by the synchronizer, by outcome
	// (written, unchanged).
	UnitsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codetwin_sync_units_total",
		Help: "Units processed by the synchronizer by outcome",
	}, []string{"outcome"})

	OrphansDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codetwin_sync_orphans_deleted_total",
		Help: "Units deleted because they were not rediscovered",
	})

	EdgesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codetwin_sync_edges_written_total",
		Help: "Edges written by the synchronizer by edge type",
	}, []string{"edge_type"})

	ProvenanceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codetwin_sync_provenance_failures_total",
		Help: "Version-history lookups that fell back to unknown",
	})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codetwin_risk_alerts_total",
		Help: "Risk alerts emitted by severity",
	}, []string{"severity"})

	ExplanationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codetwin_risk_explanation_failures_total",
		Help: "Conflict explanations replaced by the fallback text",
	})

	// StageDuration tracks ingestion stage latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codetwin_ingest_stage_duration_seconds",
		Help:    "Ingestion stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"stage"})

	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codetwin_ingest_runs_total",
		Help: "Ingestion passes by result",
	}, []string{"result"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
