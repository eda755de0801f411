package socket

import (
	"log/slog"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/handler/transport"
	"go.uber.org/fx"
)

var Module = fx.Module("socket",
	fx.Provide(
		fx.Annotate(
			func(cfg *config.Config, core *transport.Core, logger *slog.Logger) transport.Server {
				return NewServer(cfg.Servers.Socket, core, logger)
			},
			fx.ResultTags(transport.ServerGroup),
		),
	),
)
