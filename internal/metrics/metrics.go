// Package metrics provides the Prometheus collectors for the speech service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tts"

// Stream outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeDisconnected = "disconnected"
	OutcomeFailed       = "failed"
)

// Reaper deletion reasons.
const (
	ReasonAge   = "age"
	ReasonCount = "count"
	ReasonSize  = "size"
)

// Metrics groups the collectors. A nil *Metrics records nothing, which keeps
// call sites free of nil checks in tests that do not care about metrics.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	streamsTotal      *prometheus.CounterVec
	chunksTotal       prometheus.Counter
	bytesStreamed     prometheus.Counter
	tempFileErrors    *prometheus.CounterVec
	tempFilesReaped   *prometheus.CounterVec
	tempDirBytes      prometheus.Gauge
	jobsTotal         *prometheus.CounterVec
	validationsFailed prometheus.Counter
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"route"},
		),
		streamsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_total",
				Help:      "Total number of synthesis streams by outcome",
			},
			[]string{"outcome"},
		),
		chunksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_chunks_total",
				Help:      "Total number of audio chunks pulled from the backend",
			},
		),
		bytesStreamed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Total number of encoded audio bytes emitted",
			},
		),
		tempFileErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "temp_file_errors_total",
				Help:      "Total number of absorbed temp file failures by stage",
			},
			[]string{"stage"},
		),
		tempFilesReaped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "temp_files_reaped_total",
				Help:      "Total number of temp files deleted by the reaper by reason",
			},
			[]string{"reason"},
		),
		tempDirBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "temp_dir_bytes",
				Help:      "Size of the temp file directory after the last reaper pass",
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nats_jobs_total",
				Help:      "Total number of NATS synthesis jobs by status",
			},
			[]string{"status"},
		),
		validationsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of requests rejected before generation",
			},
		),
	}

	registerer.MustRegister(
		metrics.requestsTotal,
		metrics.requestDuration,
		metrics.streamsTotal,
		metrics.chunksTotal,
		metrics.bytesStreamed,
		metrics.tempFileErrors,
		metrics.tempFilesReaped,
		metrics.tempDirBytes,
		metrics.jobsTotal,
		metrics.validationsFailed,
	)

	return metrics
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, code string, seconds float64) {
	if m == nil {
		return
	}

	m.requestsTotal.WithLabelValues(route, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

// StreamFinished records how a synthesis stream ended.
func (m *Metrics) StreamFinished(outcome string) {
	if m == nil {
		return
	}

	m.streamsTotal.WithLabelValues(outcome).Inc()
}

// ChunkEmitted records one backend chunk and the bytes it encoded to.
func (m *Metrics) ChunkEmitted(size int) {
	if m == nil {
		return
	}

	m.chunksTotal.Inc()
	m.bytesStreamed.Add(float64(size))
}

// TempFileError records an absorbed temp file failure.
func (m *Metrics) TempFileError(stage string) {
	if m == nil {
		return
	}

	m.tempFileErrors.WithLabelValues(stage).Inc()
}

// FileReaped records one reaper deletion.
func (m *Metrics) FileReaped(reason string) {
	if m == nil {
		return
	}

	m.tempFilesReaped.WithLabelValues(reason).Inc()
}

// TempDirSize records the directory size left after a reaper pass.
func (m *Metrics) TempDirSize(bytes int64) {
	if m == nil {
		return
	}

	m.tempDirBytes.Set(float64(bytes))
}

// JobFinished records a NATS job outcome.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}

	m.jobsTotal.WithLabelValues(status).Inc()
}

// ValidationFailed records a request rejected before generation.
func (m *Metrics) ValidationFailed() {
	if m == nil {
		return
	}

	m.validationsFailed.Inc()
}
