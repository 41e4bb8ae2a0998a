package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

// Job outcomes. Rejected jobs failed on their input (empty or undecodable
// documents) and will not succeed on redelivery.
const (
	jobReady    = "ready"
	jobRejected = "rejected"
	jobFailed   = "failed"
)

// WorkerMetrics instruments the ingestion worker on its own registry.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	chunks   prometheus.Histogram
	queueLag prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &WorkerMetrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_total",
			Help:        "Ingestion jobs by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "job_duration_seconds",
			Help:        "Extraction, chunking and embedding time per ingestion job.",
			ConstLabels: labels,
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_in_flight",
			Help:        "Ingestion jobs currently being processed.",
			ConstLabels: labels,
		}),
		chunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "job_chunks",
			Help:        "Condition chunks produced per successful ingestion job.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "queue_lag_seconds",
			Help:        "Delay between upload and processing start.",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
	m.registry.MustRegister(m.jobs, m.duration, m.inFlight, m.chunks, m.queueLag)
	return m
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(duration time.Duration, err error) {
	m.inFlight.Dec()
	outcome := jobOutcome(err)
	m.jobs.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveJobChunks(n int) {
	if n < 0 {
		return
	}
	m.chunks.Observe(float64(n))
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

func jobOutcome(err error) string {
	switch {
	case err == nil:
		return jobReady
	case domain.IsKind(err, domain.ErrInvalidInput):
		return jobRejected
	default:
		return jobFailed
	}
}
