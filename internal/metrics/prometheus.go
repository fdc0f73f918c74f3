package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Job metrics
	JobsSubmitted prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobDuration   prometheus.Histogram
	AudioDuration prometheus.Histogram
	QueueDepth    prometheus.Gauge

	// Decode metrics
	WindowsDecoded prometheus.Counter
	DecodeDuration prometheus.Histogram
	DecodeFailures prometheus.Counter
	TokensEmitted  prometheus.Counter

	// Finishing metrics
	PunctuationFailures prometheus.Counter

	// Archive metrics
	ArchiveWrites   prometheus.Counter
	ArchiveFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registerer
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Job metrics
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_jobs_submitted_total",
			Help: "Total number of transcription jobs submitted to the worker",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_jobs_completed_total",
			Help: "Total number of transcription jobs completed",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_jobs_failed_total",
			Help: "Total number of transcription jobs that failed",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subwriter_job_duration_seconds",
			Help:    "Wall time spent on a transcription job",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subwriter_audio_duration_seconds",
			Help:    "Duration of the audio submitted per job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwriter_queue_depth",
			Help: "Current number of jobs waiting for the worker",
		}),

		// Decode metrics
		WindowsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_windows_decoded_total",
			Help: "Total number of audio windows decoded",
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subwriter_decode_duration_seconds",
			Help:    "Duration of a single window decode",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_decode_failures_total",
			Help: "Total number of failed window decodes",
		}),
		TokensEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_tokens_emitted_total",
			Help: "Total number of tokens in stitched transcripts",
		}),

		// Finishing metrics
		PunctuationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_punctuation_failures_total",
			Help: "Total number of punctuation failures that fell back to unpunctuated text",
		}),

		// Archive metrics
		ArchiveWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_archive_writes_total",
			Help: "Total number of transcripts written to the archive",
		}),
		ArchiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwriter_archive_failures_total",
			Help: "Total number of failed archive writes",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subwriter_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subwriter_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subwriter_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobSubmitted increments the submitted jobs counter
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// RecordJobCompleted records a finished job and the audio it covered
func (m *Metrics) RecordJobCompleted(durationSeconds, audioSeconds float64) {
	if m == nil {
		return
	}
	m.JobsCompleted.Inc()
	m.JobDuration.Observe(durationSeconds)
	m.AudioDuration.Observe(audioSeconds)
}

// RecordJobFailed records a failed job
func (m *Metrics) RecordJobFailed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsFailed.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// SetQueueDepth sets the number of waiting jobs
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordWindowDecoded records a successful window decode
func (m *Metrics) RecordWindowDecoded(durationSeconds float64) {
	if m == nil {
		return
	}
	m.WindowsDecoded.Inc()
	m.DecodeDuration.Observe(durationSeconds)
}

// RecordDecodeFailure increments the decode failures counter
func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

// RecordTokens adds to the emitted tokens counter
func (m *Metrics) RecordTokens(count int) {
	if m == nil {
		return
	}
	m.TokensEmitted.Add(float64(count))
}

// RecordPunctuationFailure increments the punctuation failures counter
func (m *Metrics) RecordPunctuationFailure() {
	if m == nil {
		return
	}
	m.PunctuationFailures.Inc()
}

// RecordArchiveWrite records the outcome of an archive write
func (m *Metrics) RecordArchiveWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ArchiveFailures.Inc()
		return
	}
	m.ArchiveWrites.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
