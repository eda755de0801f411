package cluster

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("cluster-handler",
	fx.Provide(
		func(cfg *config.Config) Options {
			return Options{Token: cfg.Cluster.Token, Channel: cfg.Cluster.Channel}
		},
		NewBusHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, h *BusHandler, broker *pubsub.Broker, logger *slog.Logger) {
		h.RegisterHandlers(router, broker.Subscriber)

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := router.Run(context.Background()); err != nil {
						logger.Error("CLUSTER_ROUTER_FAILED", "err", err)
					}
				}()

				// [READINESS] transports must not start before this node hears the channel
				select {
				case <-router.Running():
					logger.Info("CLUSTER_ROUTER_READY")
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			OnStop: func(ctx context.Context) error {
				return router.Close()
			},
		})
	}),
)
