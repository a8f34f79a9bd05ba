package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the ingestion counters. Register once per process.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	FramesDecoded    *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	FramesRejected   *prometheus.CounterVec
	FramesSuppressed prometheus.Counter
	QueueDepth       prometheus.Gauge
	QueueRejects     prometheus.Counter
	StateChanges     *prometheus.CounterVec
	LBSResolutions   *prometheus.CounterVec
	ProcessDuration  prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trackcore_frames_received_total",
			Help: "Wire frames received, by transport.",
		}, []string{"transport"}),
		FramesDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trackcore_frames_decoded_total",
			Help: "Frames decoded successfully, by protocol and kind.",
		}, []string{"protocol", "kind"}),
		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trackcore_decode_errors_total",
			Help: "Frames that failed to decode, by protocol.",
		}, []string{"protocol"}),
		FramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trackcore_frames_rejected_total",
			Help: "Frames refused by the security gate, by verdict.",
		}, []string{"verdict"}),
		FramesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trackcore_frames_suppressed_total",
			Help: "Location frames dropped as no significant change.",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trackcore_worker_queue_depth",
			Help: "Frames waiting in the worker pool queue.",
		}),
		QueueRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trackcore_worker_queue_rejects_total",
			Help: "Frames dropped because the worker queue was full.",
		}),
		StateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trackcore_state_changes_total",
			Help: "Committed movement transitions, by new state.",
		}, []string{"state"}),
		LBSResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trackcore_lbs_resolutions_total",
			Help: "Cell tower resolutions, by provider.",
		}, []string{"provider"}),
		ProcessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackcore_frame_process_seconds",
			Help:    "End-to-end frame processing latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
