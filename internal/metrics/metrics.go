package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline metrics. Registered on the default registry; exposed via Handler.
var (
	PollTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_poll_ticks_total",
		Help: "Poll ticks by outcome (ok, skip)",
	}, []string{"outcome"})

	CamerasMonitored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_cameras_active",
		Help: "Number of cameras currently monitored",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_sessions_total",
		Help: "Analysis sessions by transition (started, ended)",
	}, []string{"transition"})

	DetectionCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_detection_calls_total",
		Help: "Detection service calls by kind and outcome",
	}, []string{"kind", "outcome"})

	DetectionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "monitor_detection_latency_seconds",
		Help:    "Detection service call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	SmartAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_smart_alerts_total",
		Help: "Smart alerts emitted by feature type",
	}, []string{"feature"})

	BusPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_bus_publishes_total",
		Help: "Events published on the in-process bus",
	})

	BusDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_bus_drops_total",
		Help: "Events dropped for slow channel subscribers",
	})

	GrabbersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_grabbers_active",
		Help: "Persistent frame grabber processes running",
	})

	StreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_stream_failures_total",
		Help: "Stream failures by stage (fetch, grabber_start)",
	}, []string{"stage"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
