package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neurobridge",
			Name:      "connections_active",
			Help:      "Operator connections currently being served.",
		},
	)
	controlMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neurobridge",
			Subsystem: "control",
			Name:      "messages_total",
			Help:      "Control messages handled, by method and outcome.",
		},
		[]string{"method", "result"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neurobridge",
			Name:      "sessions_total",
			Help:      "Session lifecycle events by kind.",
		},
		[]string{"kind", "event"},
	)
	devicePackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neurobridge",
			Subsystem: "device",
			Name:      "packets_total",
			Help:      "Sample packets received from a device source.",
		},
		[]string{"source"},
	)
	deviceDesync = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neurobridge",
			Subsystem: "device",
			Name:      "desync_total",
			Help:      "Packets whose declared body size did not match the configured geometry.",
		},
	)
	bufferDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neurobridge",
			Subsystem: "buffer",
			Name:      "dropped_packets_total",
			Help:      "Packets rejected because the acquisition buffer was full.",
		},
	)
	labels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neurobridge",
			Name:      "labels_total",
			Help:      "Labels computed, by session kind.",
		},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neurobridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "neurobridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsActive,
			controlMessages,
			sessions,
			devicePackets,
			deviceDesync,
			bufferDropped,
			labels,
			httpRequests,
			httpDuration,
		)
	})
}

func ConnectionOpened() {
	RegisterMetrics()
	connectionsActive.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordControlMessage(method, result string) {
	RegisterMetrics()
	controlMessages.WithLabelValues(method, result).Inc()
}

func RecordSession(kind, event string) {
	RegisterMetrics()
	sessions.WithLabelValues(kind, event).Inc()
}

func RecordDevicePacket(source string) {
	RegisterMetrics()
	devicePackets.WithLabelValues(source).Inc()
}

func RecordDeviceDesync() {
	RegisterMetrics()
	deviceDesync.Inc()
}

func RecordBufferDrop() {
	RegisterMetrics()
	bufferDropped.Inc()
}

func RecordLabel(kind string) {
	RegisterMetrics()
	labels.WithLabelValues(kind).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
