package rpc

import (
	"context"
	"log/slog"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/adapter/pubsub"
	"github.com/webitel/action-gateway/internal/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("rpc",
	fx.Provide(
		NewMethods,
		func(cfg *config.Config, d pubsub.Dispatcher, ms *Methods, m *metrics.Metrics, logger *slog.Logger) (*Cluster, error) {
			return NewCluster(Options{
				ServerID:         cfg.ServerID,
				Token:            cfg.Cluster.Token,
				Channel:          cfg.Cluster.Channel,
				Timeout:          cfg.Cluster.RPCTimeout,
				SettledCacheSize: cfg.Cluster.SettledCacheSize,
			}, d, ms, m, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, c *Cluster) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return c.Close()
			},
		})
	}),
)
