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
			Namespace: "debugrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debugrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	eventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Subsystem: "session",
			Name:      "events_sent_total",
			Help:      "Events written to the transport.",
		},
		[]string{"type"},
	)
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Subsystem: "session",
			Name:      "events_received_total",
			Help:      "Complete events received from the transport.",
		},
		[]string{"type"},
	)
	chunksSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Subsystem: "session",
			Name:      "chunks_sent_total",
			Help:      "Fragments written for oversized events.",
		},
	)
	eventsStitched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Subsystem: "session",
			Name:      "events_stitched_total",
			Help:      "Inbound events reassembled from fragments.",
		},
	)
	queueEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Name:      "queue_evicted_total",
			Help:      "Events evicted from a full queue.",
		},
		[]string{"queue"},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after abnormal closure.",
		},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Subsystem: "session",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped as malformed.",
		},
		[]string{"reason"},
	)
	closures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugrelay",
			Subsystem: "session",
			Name:      "closures_total",
			Help:      "Transport closures by close code.",
		},
		[]string{"code", "retryable"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			eventsSent,
			eventsReceived,
			chunksSent,
			eventsStitched,
			queueEvicted,
			reconnects,
			framesDropped,
			closures,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordEventSent(eventType string) {
	RegisterMetrics()
	eventsSent.WithLabelValues(eventType).Inc()
}

func RecordEventReceived(eventType string) {
	RegisterMetrics()
	eventsReceived.WithLabelValues(eventType).Inc()
}

func RecordChunksSent(n int) {
	RegisterMetrics()
	chunksSent.Add(float64(n))
}

func RecordStitched() {
	RegisterMetrics()
	eventsStitched.Inc()
}

func RecordQueueEviction(queue string) {
	RegisterMetrics()
	queueEvicted.WithLabelValues(queue).Inc()
}

func RecordReconnect() {
	RegisterMetrics()
	reconnects.Inc()
}

func RecordDroppedFrame(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func RecordClosure(code int, retryable bool) {
	RegisterMetrics()
	closures.WithLabelValues(strconv.Itoa(code), strconv.FormatBool(retryable)).Inc()
}
