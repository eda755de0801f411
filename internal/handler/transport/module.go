package transport

import (
	"context"
	"log/slog"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/service"
	"github.com/webitel/action-gateway/internal/service/chat"
	"go.uber.org/fx"
)

// ServerGroup is the fx value group every transport module contributes its Server to.
const ServerGroup = `group:"servers"`

var Module = fx.Module("transport",
	fx.Provide(
		func(
			cfg *config.Config,
			conns *registry.Registry,
			executor service.Executor,
			rooms *chat.Rooms,
			actions *action.Registry,
			localizer *service.Localizer,
			logger *slog.Logger,
		) *Core {
			return NewCore(CoreParams{
				ServerID:  cfg.ServerID,
				PublicDir: cfg.Servers.Web.PublicDir,
				Conns:     conns,
				Executor:  executor,
				Rooms:     rooms,
				Actions:   actions,
				Localizer: localizer,
				Logger:    logger,
			})
		},
		fx.Annotate(
			NewManager,
			fx.ParamTags(ServerGroup, ``),
		),
	),

	fx.Invoke(func(lc fx.Lifecycle, m *Manager, conns *registry.Registry) {
		// [EGRESS] registry sends reach clients through whichever server owns the connection type
		conns.SetSender(m)

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return m.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				conns.Shutdown(ctx, model.ReasonShutdown)
				return m.Stop(ctx)
			},
		})
	}),
)
