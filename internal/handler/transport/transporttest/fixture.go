// Package transporttest wires a single-node core for transport tests.
package transporttest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/handler/transport"
	"github.com/webitel/action-gateway/internal/metrics"
	"github.com/webitel/action-gateway/internal/service"
	"github.com/webitel/action-gateway/internal/service/chat"
	"github.com/webitel/action-gateway/internal/service/rpc"
)

const ServerID = "test-node"

type Fixture struct {
	Core      *transport.Core
	Conns     *registry.Registry
	Actions   *action.Registry
	Rooms     *chat.Rooms
	Processor *service.Processor
	Logger    *slog.Logger
}

type Option func(*config.Config)

func WithPublicDir(dir string) Option {
	return func(c *config.Config) { c.Servers.Web.PublicDir = dir }
}

func WithSimultaneousActions(n int) Option {
	return func(c *config.Config) { c.General.SimultaneousActions = n }
}

// New builds the fixture with an "echo" action (inputs: message) already registered.
func New(t testing.TB, opts ...Option) *Fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		ServerID: ServerID,
		General: config.General{
			SimultaneousActions:       5,
			DefaultMiddlewarePriority: 100,
			FilteredParams:            []string{"password"},
			AllowedParams:             []string{"action", "apiVersion", "callback"},
		},
	}
	for _, o := range opts {
		o(cfg)
	}

	actions := action.NewRegistry(logger)
	processor := service.NewProcessor(actions, config.NewRuntime(cfg), service.NewLocalizer(), service.NewLogReporter(logger), logger)
	processor.Start()

	conns := registry.NewRegistry(registry.WithServerID(ServerID), registry.WithLogger(logger))

	methods := rpc.NewMethods()
	bus := &loopback{methods: methods}
	rooms := chat.NewRooms(chat.Options{ServerID: ServerID, Channel: "test", DefaultRooms: []string{"defaultRoom"}},
		chat.NewMemoryStore(), conns, bus, bus, metrics.NewNop(), logger)
	bus.rooms = rooms
	require.NoError(t, rooms.RegisterMethods(methods))
	require.NoError(t, conns.UseDestroy("chat.leaveRooms", 10, rooms.LeaveAll))
	require.NoError(t, rooms.Start(context.Background()))

	require.NoError(t, actions.Register(&action.Definition{
		Name:          "echo",
		Description:   "returns its message",
		Inputs:        action.Inputs{Required: []string{"message"}},
		OutputExample: map[string]any{"message": "hi"},
		Run: func(_ context.Context, data *action.Data, next action.Next) {
			data.Response["message"] = data.Params["message"]
			next(nil)
		},
	}))

	core := transport.NewCore(transport.CoreParams{
		ServerID:  ServerID,
		PublicDir: cfg.Servers.Web.PublicDir,
		Conns:     conns,
		Executor:  processor,
		Rooms:     rooms,
		Actions:   actions,
		Localizer: service.NewLocalizer(),
		Logger:    logger,
	})

	return &Fixture{
		Core:      core,
		Conns:     conns,
		Actions:   actions,
		Rooms:     rooms,
		Processor: processor,
		Logger:    logger,
	}
}

// loopback is a one-node cluster channel: published chat comes straight back
// and calls run against the local method table.
type loopback struct {
	rooms   *chat.Rooms
	methods *rpc.Methods
}

func (b *loopback) Publish(ctx context.Context, _ string, payload any) error {
	if msg, ok := payload.(model.ChatMessage); ok {
		b.rooms.HandleMessage(ctx, msg)
	}
	return nil
}

func (b *loopback) Do(ctx context.Context, method string, args []any, _ string, cb rpc.Callback) (string, error) {
	fn, ok := b.methods.Lookup(method)
	if !ok {
		return "", rpc.ErrUnknownMethod
	}
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		enc, err := json.Marshal(a)
		if err != nil {
			return "", err
		}
		raw = append(raw, enc)
	}
	out, err := fn(ctx, raw)
	if cb != nil {
		resp := make([]json.RawMessage, 0, len(out))
		for _, v := range out {
			enc, _ := json.Marshal(v)
			resp = append(resp, enc)
		}
		cb(resp, err)
	}
	return "local", nil
}
