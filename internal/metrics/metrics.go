// Package metrics exposes Prometheus counters and histograms for the
// ingest pipeline, registered package-level at init so the /metrics
// endpoint works the instant the binary starts.
//
// Grounded on etalazz-vsa's internal/ratelimiter/telemetry/churn/
// prom_counters.go: global, unbounded-cardinality metrics registered once
// in init(), with small observe functions called from hot paths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	LinesProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logamizer_lines_processed_total",
		Help: "Total log lines processed, by site and outcome (parsed, failed, empty).",
	}, []string{"site_id", "outcome"})

	FindingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logamizer_findings_total",
		Help: "Total security findings emitted, by site, finding type, and severity.",
	}, []string{"site_id", "finding_type", "severity"})

	AnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logamizer_anomalies_total",
		Help: "Total anomaly signals emitted, by site and anomaly type.",
	}, []string{"site_id", "anomaly_type"})

	JobDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logamizer_job_duration_seconds",
		Help:    "Wall-clock duration of a single log-file ingestion job.",
		Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 900},
	}, []string{"site_id", "kind", "status"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logamizer_queue_depth",
		Help: "Number of ingestion jobs currently queued or in flight.",
	})
)

func init() {
	prometheus.MustRegister(LinesProcessedTotal, FindingsTotal, AnomaliesTotal, JobDurationSeconds, QueueDepth)
}
