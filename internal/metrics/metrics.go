// Package metrics exposes the prometheus collectors shared by the processor, the cluster layer and the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "action_gateway"

type Metrics struct {
	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	PendingActions prometheus.Gauge
	Connections    *prometheus.GaugeVec
	RPCRequests    *prometheus.CounterVec
	RPCPending     prometheus.Gauge
	ChatMessages   *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Completed action invocations by action and outcome.",
		}, []string{"action", "outcome"}),
		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Time from dispatch to completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		PendingActions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_actions",
			Help:      "Actions currently in flight on this node.",
		}),
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live connections held by this node.",
		}, []string{"type"}),
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Cluster calls by direction and outcome.",
		}, []string{"direction", "outcome"}),
		RPCPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_pending",
			Help:      "Cluster calls waiting for a response.",
		}),
		ChatMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Room broadcasts published and delivered.",
		}, []string{"direction"}),
	}
}

// NewNop returns collectors bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
