package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fsconnect",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fsconnect",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fsconnect",
			Subsystem: "wire",
			Name:      "frames_sent_total",
			Help:      "Frames written to the forecourt controller.",
		},
		[]string{"method"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fsconnect",
			Subsystem: "wire",
			Name:      "frames_received_total",
			Help:      "Frames read from the forecourt controller.",
		},
		[]string{"method"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fsconnect",
			Subsystem: "wire",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before dispatch.",
		},
		[]string{"reason"},
	)
	sendsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fsconnect",
			Subsystem: "wire",
			Name:      "sends_suppressed_total",
			Help:      "Outbound sends suppressed by capability gating.",
		},
		[]string{"method"},
	)
	dispatchReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fsconnect",
			Subsystem: "dispatch",
			Name:      "terminal_total",
			Help:      "Terminal replies to inbound requests by method and code.",
		},
		[]string{"method", "code"},
	)
	delegateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fsconnect",
			Subsystem: "dispatch",
			Name:      "delegate_duration_seconds",
			Help:      "Delegate call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	pendingCorrelations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fsconnect",
			Subsystem: "correlation",
			Name:      "pending",
			Help:      "Outbound requests awaiting a terminal reply.",
		},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fsconnect",
			Subsystem: "correlation",
			Name:      "request_duration_seconds",
			Help:      "Outbound request round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesSent,
			framesReceived,
			framesDropped,
			sendsSuppressed,
			dispatchReplies,
			delegateDuration,
			pendingCorrelations,
			requestDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameSent(method string) {
	RegisterMetrics()
	framesSent.WithLabelValues(method).Inc()
}

func RecordFrameReceived(method string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(method).Inc()
}

func RecordFrameDropped(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func RecordSuppressedSend(method string) {
	RegisterMetrics()
	sendsSuppressed.WithLabelValues(method).Inc()
}

func RecordTerminal(method string, code int) {
	RegisterMetrics()
	label := "ok"
	if code != 0 {
		label = strconv.Itoa(code)
	}
	dispatchReplies.WithLabelValues(method, label).Inc()
}

func ObserveDelegate(method string, duration time.Duration) {
	RegisterMetrics()
	delegateDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func AddPending(delta int) {
	RegisterMetrics()
	pendingCorrelations.Add(float64(delta))
}

func ObserveRequest(method, outcome string, duration time.Duration) {
	RegisterMetrics()
	requestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}
