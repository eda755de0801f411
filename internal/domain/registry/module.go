package registry

import (
	"log/slog"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/metrics"
	"github.com/webitel/action-gateway/internal/service/rpc"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Registry using Functional Options
		func(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, cluster *rpc.Cluster) *Registry {
			return NewRegistry(
				WithServerID(cfg.ServerID),
				WithLogger(logger),
				WithMetrics(m),
				WithCaller(cluster),
			)
		},
	),
	// Shutdown runs from the transport module so goodbyes go out before listeners close.
	fx.Invoke(func(r *Registry, cluster *rpc.Cluster) error {
		// [LOCALITY] scoped requests run only where the connection lives
		cluster.SetOwner(r)
		return cluster.Methods().Register(ApplyMethod, r.HandleApply)
	}),
)
