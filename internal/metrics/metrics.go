// Package metrics exposes the broker's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tagcast"

var (
	PublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_published_total",
		Help:      "Total number of messages accepted and recorded in history",
	})

	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_rejected_total",
		Help:      "Total number of rejected inbound requests by reason",
	}, []string{"reason"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Total number of delivery attempts by kind (live, replay) and result",
	}, []string{"kind", "result"})

	EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscribers_evicted_total",
		Help:      "Total number of subscribers evicted by reason",
	}, []string{"reason"})

	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers_active",
		Help:      "Number of currently registered subscribers",
	})

	HistoryMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "history_messages",
		Help:      "Number of messages held in the history log",
	})

	InboundRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_requests_total",
		Help:      "Total number of inbound requests by transport and operation",
	}, []string{"transport", "op"})

	WorkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "work_queue_depth",
		Help:      "Number of inbound requests waiting for a worker",
	})
)

// IncRejected records a rejected request with a concrete reason.
func IncRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	RejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveDelivery records the outcome of one Send.
func ObserveDelivery(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DeliveriesTotal.WithLabelValues(kind, result).Inc()
}

// IncEvicted records an eviction.
func IncEvicted(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EvictionsTotal.WithLabelValues(reason).Inc()
}

// IncInbound counts one inbound request.
func IncInbound(transport, op string) {
	InboundRequestsTotal.WithLabelValues(transport, op).Inc()
}
