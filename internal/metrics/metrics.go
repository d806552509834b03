package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Render loop
	FramesRendered prometheus.Counter
	FramesDropped  prometheus.Counter

	// Inference loop
	InferenceRequests prometheus.Counter
	InferenceErrors   prometheus.Counter
	InferenceSkipped  prometheus.Counter
	InferenceLatency  prometheus.Histogram
	InferenceInFlight prometheus.Gauge
	Detections        *prometheus.CounterVec

	// Sessions and viewers
	ActiveSessions prometheus.Gauge
	ActiveClients  *prometheus.GaugeVec

	// Recording state
	RecordingActive prometheus.Gauge
	RecordingBytes  prometheus.Counter
	RecordingFrames prometheus.Counter

	// MQTT publisher
	PublishErrors prometheus.Counter

	registry *prometheus.Registry
}

// New creates a new Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FramesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_frames_rendered_total",
			Help: "Total overlay frames rendered",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_frames_dropped_total",
			Help: "Rendered frames dropped for slow viewers",
		}),
		InferenceRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_inference_requests_total",
			Help: "Detection requests sent to the backend",
		}),
		InferenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_inference_errors_total",
			Help: "Detection requests that failed and were treated as empty ticks",
		}),
		InferenceSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_inference_skipped_total",
			Help: "Inference ticks skipped because a request was still outstanding",
		}),
		InferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cropscan_inference_latency_seconds",
			Help:    "Round-trip latency of detection requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		}),
		InferenceInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropscan_inference_in_flight",
			Help: "Detection requests currently outstanding",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropscan_detections_total",
			Help: "Detection boxes received, by class",
		}, []string{"class"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropscan_active_sessions",
			Help: "Sessions currently acquiring or streaming",
		}),
		ActiveClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cropscan_active_clients",
			Help: "Connected dashboard clients, by channel",
		}, []string{"channel"}),
		RecordingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropscan_recording_active",
			Help: "Recording active (0=inactive, 1=active)",
		}),
		RecordingBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_recording_bytes_total",
			Help: "Total bytes written to recordings",
		}),
		RecordingFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_recording_frames_total",
			Help: "Total frames written to recordings",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropscan_publish_errors_total",
			Help: "Failed MQTT publishes",
		}),
	}

	m.registry.MustRegister(
		m.FramesRendered,
		m.FramesDropped,
		m.InferenceRequests,
		m.InferenceErrors,
		m.InferenceSkipped,
		m.InferenceLatency,
		m.InferenceInFlight,
		m.Detections,
		m.ActiveSessions,
		m.ActiveClients,
		m.RecordingActive,
		m.RecordingBytes,
		m.RecordingFrames,
		m.PublishErrors,
	)

	return m
}

// ObserveInference records one finished detection request.
func (m *Metrics) ObserveInference(d time.Duration, err error) {
	m.InferenceLatency.Observe(d.Seconds())
	if err != nil {
		m.InferenceErrors.Inc()
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
