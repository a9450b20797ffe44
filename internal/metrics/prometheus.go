package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure kinds used as the "kind" label of caption_failures_total.
const (
	FailureSend      = "send"
	FailureBackend   = "backend"
	FailureMalformed = "malformed"
	FailureTimeout   = "timeout"
	FailureDropped   = "dropped"
	FailureEncode    = "encode"
	FailureAbandoned = "abandoned"
	FailureRejected  = "rejected"
)

// Metrics contains all Prometheus metrics for the caption client
type Metrics struct {
	// Audio intake metrics
	ChunksAdded  prometheus.Counter
	BytesAdded   prometheus.Counter
	BufferBytes  prometheus.Gauge
	QueueDepth   prometheus.Gauge
	QueuedBlobs  prometheus.Counter
	BlobSize     prometheus.Histogram
	BlobDuration prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	Failures               *prometheus.CounterVec

	// Channel metrics
	ChannelState prometheus.Gauge
	Connects     prometheus.Counter
	Disconnects  prometheus.Counter

	// Caption metrics
	CuesEmitted *prometheus.CounterVec
	CuesPruned  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on reg, or on the
// default registry when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Audio intake metrics
		ChunksAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_chunks_added_total",
			Help: "Total number of audio chunks accepted into the buffer",
		}),
		BytesAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_bytes_added_total",
			Help: "Total number of audio bytes accepted into the buffer",
		}),
		BufferBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_buffer_bytes",
			Help: "Current number of bytes held in the chunk buffer",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_overflow_queue_depth",
			Help: "Current number of blobs waiting in the overflow queue",
		}),
		QueuedBlobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_overflow_queued_total",
			Help: "Total number of drained buffers queued while a request was in flight",
		}),
		BlobSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caption_blob_size_bytes",
			Help:    "Size of blobs sent for transcription",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		BlobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caption_blob_media_seconds",
			Help:    "Media time covered by blobs sent for transcription",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_transcription_successes_total",
			Help: "Total number of transcription replies translated into cues",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caption_transcription_duration_seconds",
			Help:    "Time from send to reply for transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_failures_total",
			Help: "Total number of pipeline failures by kind",
		}, []string{"kind"}),

		// Channel metrics
		ChannelState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_channel_state",
			Help: "Transcription channel state (0 closed, 1 connecting, 2 open, 3 circuit open)",
		}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_channel_connects_total",
			Help: "Total number of transcription connections opened",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_channel_disconnects_total",
			Help: "Total number of transcription connections lost",
		}),

		// Caption metrics
		CuesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_cues_emitted_total",
			Help: "Total number of cues added to text tracks",
		}, []string{"track"}),
		CuesPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_cues_pruned_total",
			Help: "Total number of cues removed by the pruning strategy",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caption_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunkAdded records audio accepted into the buffer
func (m *Metrics) RecordChunkAdded(sizeBytes int) {
	m.ChunksAdded.Inc()
	m.BytesAdded.Add(float64(sizeBytes))
}

// SetBufferBytes sets the current chunk buffer size
func (m *Metrics) SetBufferBytes(size int) {
	m.BufferBytes.Set(float64(size))
}

// SetQueueDepth sets the current overflow queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordQueued increments the queued blobs counter
func (m *Metrics) RecordQueued() {
	m.QueuedBlobs.Inc()
}

// RecordTranscriptionRequest records a blob sent for transcription
func (m *Metrics) RecordTranscriptionRequest(sizeBytes int, mediaSeconds float64) {
	m.TranscriptionRequests.Inc()
	m.BlobSize.Observe(float64(sizeBytes))
	m.BlobDuration.Observe(mediaSeconds)
}

// RecordTranscriptionSuccess records a translated reply
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordFailure increments the failure counter for kind
func (m *Metrics) RecordFailure(kind string) {
	m.Failures.WithLabelValues(kind).Inc()
}

// SetChannelState sets the channel state gauge
func (m *Metrics) SetChannelState(state int) {
	m.ChannelState.Set(float64(state))
}

// RecordConnect increments the connects counter
func (m *Metrics) RecordConnect() {
	m.Connects.Inc()
}

// RecordDisconnect increments the disconnects counter
func (m *Metrics) RecordDisconnect() {
	m.Disconnects.Inc()
}

// RecordCues records cues added to a track
func (m *Metrics) RecordCues(track string, count int) {
	if count > 0 {
		m.CuesEmitted.WithLabelValues(track).Add(float64(count))
	}
}

// RecordPruned records cues removed by pruning
func (m *Metrics) RecordPruned(count int) {
	if count > 0 {
		m.CuesPruned.Add(float64(count))
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
