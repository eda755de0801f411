package actions

import (
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/service/rpc"
	"go.uber.org/fx"
)

var Module = fx.Module("actions",
	fx.Invoke(func(cfg *config.Config, actions *action.Registry, conns *registry.Registry, cluster *rpc.Cluster) error {
		return Register(actions, Deps{
			ServerID: cfg.ServerID,
			Actions:  actions,
			Conns:    conns,
			Cluster:  cluster,
		})
	}),
)
