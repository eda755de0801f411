package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/redis/go-redis/v9"
	"github.com/webitel/action-gateway/config"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		// [LAZY_DIAL] go-redis connects on first command, so an unused client costs nothing
		func(lc fx.Lifecycle, cfg *config.Config) redis.UniversalClient {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Cluster.Redis.Addr,
				Password: cfg.Cluster.Redis.Password,
				DB:       cfg.Cluster.Redis.DB,
			})
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return client.Close() },
			})
			return client
		},
		func(lc fx.Lifecycle, cfg *config.Config, client redis.UniversalClient, logger watermill.LoggerAdapter) (*Broker, error) {
			b, err := NewBroker(cfg, client, logger)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return b.Close() },
			})
			return b, nil
		},
		func(b *Broker, cfg *config.Config, logger *slog.Logger) Dispatcher {
			return NewDispatcher(b.Publisher, cfg.Cluster.Breaker, logger)
		},
	),
)
