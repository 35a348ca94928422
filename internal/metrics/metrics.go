package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesCaptured atomic.Uint64
	FramesStreamed atomic.Uint64
	FramesDropped  atomic.Uint64

	// Error counters
	ReadErrors      atomic.Uint64
	InferenceErrors atomic.Uint64
	EncodeErrors    atomic.Uint64

	// Acquisition
	OpenAttempts atomic.Uint64
	WarmupReads  atomic.Uint64

	// Stream clients
	ActiveClients  atomic.Int64
	TotalClients   atomic.Uint64
	EvictedClients atomic.Uint64

	// Latency of the last pipeline iteration, in ms
	PipelineLatencyMs atomic.Uint64

	inferenceLatency prometheus.Histogram
	alerts           *prometheus.CounterVec
	detections       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance. cameraOnline is sampled on every
// scrape; it may be nil.
func New(cameraOnline func() bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threatcam_inference_duration_seconds",
			Help:    "Detection backend latency per frame",
			Buckets: []float64{.005, .01, .02, .05, .1, .2, .5, 1, 2},
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threatcam_alerts_total",
			Help: "Frames whose alert message was raised, by critical label",
		}, []string{"label"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threatcam_detections_total",
			Help: "Detections returned by the backend, by severity",
		}, []string{"severity"}),
	}

	m.registry.MustRegister(m.inferenceLatency, m.alerts, m.detections)
	m.registerGauges(cameraOnline)

	return m
}

func (m *Metrics) registerGauges(cameraOnline func() bool) {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	counter("threatcam_frames_captured_total", "Frames read from the camera by the pipeline", &m.FramesCaptured)
	counter("threatcam_frames_streamed_total", "MJPEG parts handed to stream clients", &m.FramesStreamed)
	counter("threatcam_frames_dropped_total", "Frames skipped for slow stream clients", &m.FramesDropped)
	counter("threatcam_read_errors_total", "Camera read failures", &m.ReadErrors)
	counter("threatcam_inference_errors_total", "Detection backend failures", &m.InferenceErrors)
	counter("threatcam_encode_errors_total", "JPEG encoding failures", &m.EncodeErrors)
	counter("threatcam_camera_open_attempts_total", "Camera open attempts by the supervisor", &m.OpenAttempts)
	counter("threatcam_camera_warmup_reads_total", "Warm-up reads issued by the supervisor", &m.WarmupReads)
	counter("threatcam_stream_clients_total", "Stream clients accepted", &m.TotalClients)
	counter("threatcam_stream_clients_evicted_total", "Stream clients closed to make room for a newer client", &m.EvictedClients)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "threatcam_stream_clients_active",
			Help: "Stream clients currently connected",
		},
		func() float64 { return float64(m.ActiveClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "threatcam_pipeline_latency_ms",
			Help: "Latency of the last pipeline iteration in milliseconds",
		},
		func() float64 { return float64(m.PipelineLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "threatcam_camera_online",
			Help: "Camera status (0=offline, 1=online)",
		},
		func() float64 {
			if cameraOnline != nil && cameraOnline() {
				return 1
			}
			return 0
		},
	))
}

// ObserveInference records one backend call
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inferenceLatency.Observe(d.Seconds())
}

// ObserveDetection counts one detection by severity name
func (m *Metrics) ObserveDetection(severity string) {
	m.detections.WithLabelValues(severity).Inc()
}

// ObserveAlert counts one raised alert for label
func (m *Metrics) ObserveAlert(label string) {
	m.alerts.WithLabelValues(label).Inc()
}

// UpdatePipelineLatency stores the duration of the last pipeline iteration
func (m *Metrics) UpdatePipelineLatency(d time.Duration) {
	m.PipelineLatencyMs.Store(uint64(d.Milliseconds()))
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
