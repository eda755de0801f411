package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/adapter/pubsub"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/metrics"
	"github.com/webitel/action-gateway/internal/service/rpc"
	"go.uber.org/fx"
)

// leaveRoomsPriority runs the room cleanup early among destroy hooks.
const leaveRoomsPriority = 10

var Module = fx.Module("chat",
	fx.Provide(
		func(cfg *config.Config, client redis.UniversalClient) (Store, error) {
			switch cfg.Chat.Store {
			case config.StoreMemory, "":
				return NewMemoryStore(), nil
			case config.StoreRedis:
				return NewRedisStore(client, ""), nil
			default:
				return nil, fmt.Errorf("chat: unsupported store %q", cfg.Chat.Store)
			}
		},
		func(cfg *config.Config, store Store, conns *registry.Registry, d pubsub.Dispatcher, cluster *rpc.Cluster, m *metrics.Metrics, logger *slog.Logger) *Rooms {
			return NewRooms(Options{
				ServerID:     cfg.ServerID,
				Token:        cfg.Cluster.Token,
				Channel:      cfg.Cluster.Channel,
				DefaultRooms: cfg.Chat.DefaultRooms,
			}, store, conns, d, cluster, m, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, rooms *Rooms, conns *registry.Registry, cluster *rpc.Cluster) error {
		if err := conns.UseDestroy("chat.leaveRooms", leaveRoomsPriority, rooms.LeaveAll); err != nil {
			return err
		}
		if err := rooms.RegisterMethods(cluster.Methods()); err != nil {
			return err
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return rooms.Start(ctx) },
		})
		return nil
	}),
)
