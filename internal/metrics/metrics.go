// Package metrics defines the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook intake metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartops_gateway_webhooks_total",
			Help: "Total number of webhook deliveries received",
		},
		[]string{"source", "outcome"},
	)

	SignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartops_gateway_signature_failures_total",
			Help: "Total number of rejected webhook signatures",
		},
	)

	DuplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartops_gateway_duplicate_events_total",
			Help: "Total number of deliveries suppressed by the idempotency guard",
		},
		[]string{"source"},
	)

	// Dispatch metrics
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartops_gateway_dispatch_duration_seconds",
			Help:    "Duration of action dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Agent sync metrics
	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartops_gateway_sync_items_total",
			Help: "Total number of agent sync batch items processed",
		},
		[]string{"kind", "status"},
	)

	// Storage metrics
	StoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartops_gateway_store_errors_total",
			Help: "Total number of storage errors",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartops_gateway_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"source"},
	)
)
