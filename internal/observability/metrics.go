package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shardline"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"surface", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"surface", "method", "route", "status"},
	)
	gatewayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "frames_total",
			Help:      "Gateway frames by shard, direction and opcode.",
		},
		[]string{"shard", "direction", "op"},
	)
	gatewayDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Dispatch frames handled by event name.",
		},
		[]string{"event"},
	)
	heartbeatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "heartbeat_ack_latency_seconds",
			Help:      "Time between a heartbeat and its acknowledgement.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"shard"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state ordinal per shard.",
		},
		[]string{"shard"},
	)
	sessionReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Session reconnects by kind (resume, identify).",
		},
		[]string{"shard", "kind"},
	)
	vocabularyGrowth = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "vocabulary_growth_total",
			Help:      "Payload keys learned outside the seeded vocabulary.",
		},
	)
	cacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Cache contract errors raised while applying dispatches.",
		},
		[]string{"event"},
	)
	supervisorRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Session restarts after a crash.",
		},
		[]string{"shard"},
	)
	dispatcherDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "deliveries_total",
			Help:      "Events enqueued to subscriber mailboxes.",
		},
		[]string{"event"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			gatewayFrames,
			gatewayDispatches,
			heartbeatLatency,
			sessionState,
			sessionReconnects,
			vocabularyGrowth,
			cacheErrors,
			supervisorRestarts,
			dispatcherDeliveries,
		)
	})
}

func RecordHTTPRequest(surface, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(surface, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(surface, method, route, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one gateway frame; direction is "in" or "out".
func RecordFrame(shard int, direction, op string) {
	RegisterMetrics()
	gatewayFrames.WithLabelValues(strconv.Itoa(shard), direction, op).Inc()
}

func RecordDispatch(event string) {
	RegisterMetrics()
	gatewayDispatches.WithLabelValues(event).Inc()
}

func ObserveHeartbeatLatency(shard int, d time.Duration) {
	RegisterMetrics()
	heartbeatLatency.WithLabelValues(strconv.Itoa(shard)).Observe(d.Seconds())
}

func SetSessionState(shard int, state int) {
	RegisterMetrics()
	sessionState.WithLabelValues(strconv.Itoa(shard)).Set(float64(state))
}

func RecordReconnect(shard int, kind string) {
	RegisterMetrics()
	sessionReconnects.WithLabelValues(strconv.Itoa(shard), kind).Inc()
}

func AddVocabularyGrowth(n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	vocabularyGrowth.Add(float64(n))
}

func RecordCacheError(event string) {
	RegisterMetrics()
	cacheErrors.WithLabelValues(event).Inc()
}

func RecordSupervisorRestart(shard int) {
	RegisterMetrics()
	supervisorRestarts.WithLabelValues(strconv.Itoa(shard)).Inc()
}

func RecordDeliveries(event string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	dispatcherDeliveries.WithLabelValues(event).Add(float64(n))
}
