package actions

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/service"
	"github.com/webitel/action-gateway/internal/service/rpc"
)

// oneNode answers cluster calls from a single local method table.
type oneNode struct{ methods *rpc.Methods }

func (n oneNode) Call(ctx context.Context, method string, args []any, _ string) ([]json.RawMessage, error) {
	fn, ok := n.methods.Lookup(method)
	if !ok {
		return nil, rpc.ErrUnknownMethod
	}
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		enc, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		raw = append(raw, enc)
	}
	out, err := fn(ctx, raw)
	if err != nil {
		return nil, err
	}
	resp := make([]json.RawMessage, 0, len(out))
	for _, v := range out {
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		resp = append(resp, enc)
	}
	return resp, nil
}

type inbox struct{ sent map[string][]any }

func (in *inbox) SendMessage(_ context.Context, conn *model.Connection, payload any) error {
	in.sent[conn.ID] = append(in.sent[conn.ID], payload)
	return nil
}

func (in *inbox) Goodbye(context.Context, *model.Connection, string) error { return nil }

type fixture struct {
	conns    *registry.Registry
	inbox    *inbox
	executor *service.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	methods := rpc.NewMethods()
	require.NoError(t, methods.Register(rpc.PingMethod, func(context.Context, []json.RawMessage) ([]any, error) {
		return []any{map[string]any{"serverId": "n1"}}, nil
	}))
	node := oneNode{methods: methods}

	conns := registry.NewRegistry(registry.WithServerID("n1"), registry.WithCaller(node))
	require.NoError(t, methods.Register(registry.ApplyMethod, conns.HandleApply))
	in := &inbox{sent: map[string][]any{}}
	conns.SetSender(in)

	actions := action.NewRegistry(logger)
	require.NoError(t, Register(actions, Deps{ServerID: "n1", Actions: actions, Conns: conns, Cluster: node}))

	cfg := &config.Config{General: config.General{SimultaneousActions: 5, DefaultMiddlewarePriority: 100}}
	p := service.NewProcessor(actions, config.NewRuntime(cfg), service.NewLocalizer(), service.NewLogReporter(logger), logger)
	p.Start()

	return &fixture{conns: conns, inbox: in, executor: p}
}

func (f *fixture) run(t *testing.T, name string, params map[string]any) *service.Result {
	t.Helper()
	return service.RunTask(context.Background(), f.executor, name, params)
}

func TestBuiltins_Registered(t *testing.T) {
	names := make([]string, 0)
	for _, d := range Builtins(Deps{}) {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"status", "randomNumber", "showDocumentation", "connectionState", "connectionSend", "clusterPing"}, names)
}

func TestBuiltins_Simple(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		check func(t *testing.T, res *service.Result)
	}{
		{"status", func(t *testing.T, res *service.Result) {
			assert.Equal(t, "n1", res.Response["id"])
			assert.Equal(t, 6, res.Response["actions"])
		}},
		{"randomNumber", func(t *testing.T, res *service.Result) {
			n, ok := res.Response["randomNumber"].(float64)
			require.True(t, ok)
			assert.GreaterOrEqual(t, n, 0.0)
			assert.Less(t, n, 1.0)
		}},
		{"showDocumentation", func(t *testing.T, res *service.Result) {
			docs, ok := res.Response["documentation"].(map[string]map[string]action.Doc)
			require.True(t, ok)
			assert.Contains(t, docs, "clusterPing")
		}},
		{"clusterPing", func(t *testing.T, res *service.Result) {
			assert.Equal(t, map[string]any{"serverId": "n1"}, res.Response["pong"])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.run(t, tt.name, nil)
			require.NoError(t, res.Err)
			tt.check(t, res)
		})
	}
}

func TestConnectionStateAndSend(t *testing.T) {
	f := newFixture(t)
	target, err := f.conns.Create(context.Background(), model.ConnectionSpec{Type: "websocket", RemoteIP: "10.0.0.1"})
	require.NoError(t, err)

	res := f.run(t, "connectionState", map[string]any{"connectionId": target.ID})
	require.NoError(t, res.Err)
	state := res.Response["connection"].(model.ConnectionState)
	assert.Equal(t, target.ID, state.ID)
	assert.Equal(t, "10.0.0.1", state.RemoteIP)

	res = f.run(t, "connectionSend", map[string]any{"connectionId": target.ID, "message": "hi"})
	require.NoError(t, res.Err)
	assert.Equal(t, true, res.Response["delivered"])
	require.Len(t, f.inbox.sent[target.ID], 1)

	var delivery model.ChatDelivery
	require.NoError(t, json.Unmarshal(f.inbox.sent[target.ID][0].(json.RawMessage), &delivery))
	assert.JSONEq(t, `"hi"`, string(delivery.Message))

	res = f.run(t, "connectionState", nil)
	assert.Equal(t, model.KindMissingParams, model.KindOf(res.Err))

	res = f.run(t, "connectionState", map[string]any{"connectionId": "missing"})
	assert.ErrorIs(t, res.Err, registry.ErrConnectionNotFound)
}
