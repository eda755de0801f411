package cmd

import (
	"log/slog"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/actions"
	"github.com/webitel/action-gateway/internal/adapter/pubsub"
	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/registry"
	clusterhandler "github.com/webitel/action-gateway/internal/handler/cluster"
	"github.com/webitel/action-gateway/internal/handler/socket"
	"github.com/webitel/action-gateway/internal/handler/transport"
	"github.com/webitel/action-gateway/internal/handler/web"
	"github.com/webitel/action-gateway/internal/handler/ws"
	"github.com/webitel/action-gateway/internal/metrics"
	"github.com/webitel/action-gateway/internal/service"
	"github.com/webitel/action-gateway/internal/service/chat"
	"github.com/webitel/action-gateway/internal/service/rpc"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// NewApp composes the node. Module order is lifecycle order: the cluster router
// is listening before rooms and transports start, and transports stop first.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracerProvider,
			config.NewRuntime,
			action.NewRegistry,
		),
		// [DECORATION_LAYER] spans and metrics around every invocation
		fx.Decorate(service.Instrument),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Invoke(func(cfg *config.Config, rt *config.Runtime, logger *slog.Logger) {
			if cfg.Watch(rt, logger) {
				logger.Info("CONFIG_WATCH_STARTED")
			}
		}),

		metrics.Module,
		pubsub.Module,
		rpc.Module,
		registry.Module,
		clusterhandler.Module,
		service.Module,
		chat.Module,
		actions.Module,

		servers(cfg),
		transport.Module,
	)
}

// servers includes only the enabled transports.
func servers(cfg *config.Config) fx.Option {
	var opts []fx.Option
	if cfg.Servers.Web.Enabled {
		opts = append(opts, web.Module)
	}
	if cfg.Servers.WebSocket.Enabled {
		opts = append(opts, ws.Module)
	}
	if cfg.Servers.Socket.Enabled {
		opts = append(opts, socket.Module)
	}
	return fx.Options(opts...)
}
