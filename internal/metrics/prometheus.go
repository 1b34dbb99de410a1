// Package metrics exposes the Prometheus collectors every consumer
// process registers: messages processed per stage, dead-letter
// counts, database reconnects, and the duration of the external
// collaborators (child processes, HTTP fetches) each stage waits on.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultDurationBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Metrics bundles the collectors one process registers. A process runs
// exactly one stage consumer or the producer, so every vector is labeled
// by stage/operation name rather than requiring one Metrics per stage.
type Metrics struct {
	registry *prometheus.Registry

	MessagesProcessed *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	DeadLettered      *prometheus.CounterVec
	DatabaseReconnects prometheus.Counter

	ProcessDuration  *prometheus.HistogramVec
	DownloadDuration *prometheus.HistogramVec
}

// New builds and registers the collector set under namespace
// (cmd/pipeline passes "jacobine_<project>").
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Deliveries processed by a stage consumer, labeled by disposition.",
		}, []string{"stage", "disposition"}),

		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Deliveries rejected before dispatch because the envelope failed to decode.",
		}, []string{"stage"}),

		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Deliveries disposed of as reject-no-requeue.",
		}, []string{"stage"}),

		DatabaseReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_reconnects_total",
			Help:      "Transparent reconnects performed by the database gateway after a gone-away error.",
		}),

		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Wall-clock duration of external tool invocations, labeled by binary.",
			Buckets:   defaultDurationBuckets,
		}, []string{"binary"}),

		DownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Wall-clock duration of HTTP downloads, labeled by outcome.",
			Buckets:   defaultDurationBuckets,
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.MessagesProcessed,
		m.MessagesRejected,
		m.DeadLettered,
		m.DatabaseReconnects,
		m.ProcessDuration,
		m.DownloadDuration,
	)
	return m
}

// Handler exposes the registry on the conventional /metrics path.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
