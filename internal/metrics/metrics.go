package metrics

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for settlement correctness and request health
var (
	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_order_transitions_total",
			Help: "Order status transitions applied, by edge",
		},
		[]string{"from", "to"},
	)

	TokenRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_token_redemptions_total",
			Help: "Delivery token redemption attempts, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	LedgerPostingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_ledger_postings_total",
			Help: "Ledger postings written, by operation",
		},
		[]string{"operation"},
	)

	LedgerReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_ledger_replays_total",
			Help: "Ledger calls answered from an existing posting, by operation",
		},
		[]string{"operation"},
	)

	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_disputes_total",
			Help: "Dispute lifecycle events, by outcome",
		},
		[]string{"outcome"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_events_dropped_total",
			Help: "Domain events dropped because a subscriber was full",
		},
		[]string{"type"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handoff_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(OrderTransitionsTotal)
		prometheus.MustRegister(TokenRedemptionsTotal)
		prometheus.MustRegister(LedgerPostingsTotal)
		prometheus.MustRegister(LedgerReplaysTotal)
		prometheus.MustRegister(DisputesTotal)
		prometheus.MustRegister(EventsDroppedTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}

// Middleware observes request latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, statusClass(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
