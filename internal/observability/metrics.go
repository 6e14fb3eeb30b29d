package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdcount",
		Name:      "frames_processed_total",
		Help:      "Total number of frames that produced a published count vector",
	})

	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdcount",
		Name:      "frame_errors_total",
		Help:      "Frames skipped because of a transient decode or inference error",
	}, []string{"kind"})

	PeopleDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdcount",
		Name:      "people_detected_total",
		Help:      "Total number of person detections across all frames",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crowdcount",
		Name:      "stage_duration_seconds",
		Help:      "Duration of analysis loop stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage"})

	ZoneOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crowdcount",
		Name:      "zone_occupancy",
		Help:      "People currently counted inside each zone",
	}, []string{"zone"})

	AnalysisRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdcount",
		Name:      "analysis_running",
		Help:      "1 while an analysis session is active",
	})

	SourceRewinds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdcount",
		Name:      "source_rewinds_total",
		Help:      "Number of times a video source looped back to its first frame",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crowdcount",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdcount",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	MJPEGClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdcount",
		Name:      "mjpeg_clients",
		Help:      "Number of clients watching the annotated video feed",
	})
)
