package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and histograms of the order service.
type Metrics struct {
	OrdersCreated     prometheus.Counter
	WebhooksReceived  *prometheus.CounterVec
	WebhooksDuplicate *prometheus.CounterVec
	WebhooksDropped   *prometheus.CounterVec
	WebhooksRejected  *prometheus.CounterVec
	PayoutsRequested  prometheus.Counter
	PayoutsFailed     prometheus.Counter
	RequestLatencyMS  *prometheus.HistogramVec
}

// New registers the service metrics on the given registerer. Tests pass a
// fresh prometheus.NewRegistry to avoid double registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Total number of orders created.",
		}),
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "webhooks",
			Name:      "received_total",
			Help:      "Webhook events received after signature verification.",
		}, []string{"provider", "kind"}),
		WebhooksDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "webhooks",
			Name:      "duplicate_total",
			Help:      "Webhook events skipped as already processed.",
		}, []string{"provider"}),
		WebhooksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "webhooks",
			Name:      "dropped_total",
			Help:      "Webhook events dropped (unknown order or stale).",
		}, []string{"provider"}),
		WebhooksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "webhooks",
			Name:      "rejected_total",
			Help:      "Webhook deliveries rejected at the boundary (bad signature or payload).",
		}, []string{"provider"}),
		PayoutsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "payouts",
			Name:      "requested_total",
			Help:      "Seller payout transfers requested.",
		}),
		PayoutsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "payouts",
			Name:      "failed_total",
			Help:      "Seller payout transfer requests that failed.",
		}),
		RequestLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.WebhooksReceived,
		m.WebhooksDuplicate,
		m.WebhooksDropped,
		m.WebhooksRejected,
		m.PayoutsRequested,
		m.PayoutsFailed,
		m.RequestLatencyMS,
	)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
