// Package actions holds the actions every node ships with.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/service/rpc"
)

type Deps struct {
	ServerID string
	Actions  *action.Registry
	Conns    *registry.Registry
	Cluster  registry.Caller
}

// Builtins returns the built-in definitions bound to deps.
func Builtins(d Deps) []*action.Definition {
	return []*action.Definition{
		{
			Name:        "status",
			Description: "reports the health and load of the answering node",
			OutputExample: map[string]any{
				"id":            "node-1",
				"serverVersion": model.ServerVersion,
				"actions":       6,
				"connections":   model.RegistryStats{},
			},
			Run: func(_ context.Context, data *action.Data, next action.Next) {
				data.Response["id"] = d.ServerID
				data.Response["serverVersion"] = model.ServerVersion
				data.Response["actions"] = d.Actions.Len()
				data.Response["connections"] = d.Conns.Stats()
				next(nil)
			},
		},
		{
			Name:          "randomNumber",
			Description:   "returns a random number in [0, 1)",
			OutputExample: map[string]any{"randomNumber": 0.123},
			Run: func(_ context.Context, data *action.Data, next action.Next) {
				data.Response["randomNumber"] = rand.Float64()
				next(nil)
			},
		},
		{
			Name:          "showDocumentation",
			Description:   "lists every registered action and version",
			OutputExample: map[string]any{"documentation": map[string]any{}},
			Run: func(_ context.Context, data *action.Data, next action.Next) {
				data.Response["documentation"] = d.Actions.Documentation()
				next(nil)
			},
		},
		{
			Name:          "connectionState",
			Description:   "returns the state of a connection held anywhere in the cluster",
			Inputs:        action.Inputs{Required: []string{"connectionId"}},
			OutputExample: map[string]any{"connection": model.ConnectionState{}},
			Run: func(ctx context.Context, data *action.Data, next action.Next) {
				state, err := d.Conns.State(ctx, data.String("connectionId"))
				if err != nil {
					next(err)
					return
				}
				data.Response["connection"] = state
				next(nil)
			},
		},
		{
			Name:          "connectionSend",
			Description:   "delivers a message to a connection held anywhere in the cluster",
			Inputs:        action.Inputs{Required: []string{"connectionId", "message"}},
			OutputExample: map[string]any{"delivered": true},
			Run: func(ctx context.Context, data *action.Data, next action.Next) {
				payload := model.ChatDelivery{
					Context: "user",
					From:    data.Connection.ID,
					Message: encode(data.Params["message"]),
					SentAt:  data.StartedAt.UnixMilli(),
				}
				if _, err := d.Conns.Apply(ctx, data.String("connectionId"), registry.ApplySendMessage, payload); err != nil {
					next(err)
					return
				}
				data.Response["delivered"] = true
				next(nil)
			},
		},
		{
			Name:          "clusterPing",
			Description:   "asks the cluster for the first node to answer a ping",
			OutputExample: map[string]any{"pong": map[string]any{"serverId": "node-2"}},
			Run: func(ctx context.Context, data *action.Data, next action.Next) {
				resp, err := d.Cluster.Call(ctx, rpc.PingMethod, nil, "")
				if err != nil {
					next(fmt.Errorf("cluster ping: %w", err))
					return
				}
				var pong map[string]any
				if len(resp) > 0 {
					if err := json.Unmarshal(resp[0], &pong); err != nil {
						next(fmt.Errorf("cluster ping: %w", err))
						return
					}
				}
				data.Response["pong"] = pong
				next(nil)
			},
		},
	}
}

func encode(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return raw
}

// Register adds every built-in to r.
func Register(r *action.Registry, d Deps) error {
	for _, def := range Builtins(d) {
		if err := r.Register(def); err != nil {
			return fmt.Errorf("actions: %w", err)
		}
	}
	return nil
}
