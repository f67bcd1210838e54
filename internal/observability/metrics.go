package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "frames_processed_total",
		Help:      "Total number of detection frames run through a tracker",
	}, []string{"stream_id"})

	FramesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "frames_published_total",
		Help:      "Total number of detection frames published by the ingestor",
	}, []string{"stream_id"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "frames_dropped_total",
		Help:      "Frames skipped because a newer frame of the session was already processed",
	}, []string{"stream_id"})

	DetectionsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "detections_tracked_total",
		Help:      "Total number of detections of the tracked class",
	}, []string{"stream_id"})

	Crossings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "crossings_total",
		Help:      "Total number of center line crossings",
	}, []string{"stream_id", "direction"})

	ActiveIdentities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pc",
		Name:      "active_identities",
		Help:      "Identities present in the last processed frame",
	}, []string{"stream_id"})

	DetectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "detector_errors_total",
		Help:      "Failed requests to the external detector",
	}, []string{"stream_id"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pc",
		Name:      "stage_duration_seconds",
		Help:      "Duration of frame processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pc",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pc",
		Name:      "active_streams",
		Help:      "Number of streams currently polled by the ingestor",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pc",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pc",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
