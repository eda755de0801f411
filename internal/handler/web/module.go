package web

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/handler/transport"
	"go.uber.org/fx"
)

var Module = fx.Module("web",
	fx.Provide(
		fx.Annotate(
			func(cfg *config.Config, core *transport.Core, gatherer prometheus.Gatherer, logger *slog.Logger) transport.Server {
				return NewServer(cfg.Servers.Web, core, gatherer, logger)
			},
			fx.ResultTags(transport.ServerGroup),
		),
	),
)
