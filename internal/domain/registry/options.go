package registry

import (
	"log/slog"

	"github.com/webitel/action-gateway/internal/metrics"
)

// Option defines a functional configuration type for the Registry.
type Option func(*Registry)

// WithServerID tags stats with the node id.
func WithServerID(id string) Option {
	return func(r *Registry) {
		r.serverID = id
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l.With("component", "registry")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithCaller enables Apply through the cluster.
func WithCaller(c Caller) Option {
	return func(r *Registry) {
		r.caller = c
	}
}
