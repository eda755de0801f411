package transport

import (
	"context"
	"log/slog"
	"maps"

	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/service"
	"github.com/webitel/action-gateway/internal/service/chat"
)

const welcomeMessage = "Hello! Welcome to the action gateway"

// Core is the set of primitives every transport calls into.
// It knows connections and completions, never framing or handshakes.
type Core struct {
	serverID  string
	publicDir string

	conns     *registry.Registry
	executor  service.Executor
	rooms     *chat.Rooms
	actions   *action.Registry
	localizer *service.Localizer
	logger    *slog.Logger
}

type CoreParams struct {
	ServerID  string
	PublicDir string
	Conns     *registry.Registry
	Executor  service.Executor
	Rooms     *chat.Rooms
	Actions   *action.Registry
	Localizer *service.Localizer
	Logger    *slog.Logger
}

func NewCore(p CoreParams) *Core {
	return &Core{
		serverID:  p.ServerID,
		publicDir: p.PublicDir,
		conns:     p.Conns,
		executor:  p.Executor,
		rooms:     p.Rooms,
		actions:   p.Actions,
		localizer: p.Localizer,
		logger:    p.Logger,
	}
}

func (c *Core) ServerID() string { return c.serverID }

func (c *Core) Logger() *slog.Logger { return c.logger }

// BuildConnection registers a new live connection and runs the create hooks.
func (c *Core) BuildConnection(ctx context.Context, spec model.ConnectionSpec) (*model.Connection, error) {
	return c.conns.Create(ctx, spec)
}

// Destroy removes a connection and runs the destroy hooks. Destroying twice is a no-op.
func (c *Core) Destroy(ctx context.Context, conn *model.Connection) {
	c.conns.Destroy(ctx, conn.ID)
}

// ProcessAction dispatches the action named by the connection's params. done runs exactly once.
func (c *Core) ProcessAction(ctx context.Context, conn *model.Connection, done service.CompleteFunc) {
	c.executor.Process(ctx, conn, done)
}

// RunAction is ProcessAction for request/response transports.
func (c *Core) RunAction(ctx context.Context, conn *model.Connection) *service.Result {
	return service.Run(ctx, c.executor, conn)
}

// Welcome is the first frame of a persistent connection.
func (c *Core) Welcome(conn *model.Connection) model.WelcomePayload {
	return model.WelcomePayload{
		Context:       "api",
		Welcome:       welcomeMessage,
		ConnectionID:  conn.ID,
		ServerID:      c.serverID,
		ServerVersion: model.ServerVersion,
		Rooms:         conn.Rooms(),
	}
}

// ErrorMessage renders err in the connection's locale.
func (c *Core) ErrorMessage(conn *model.Connection, err error) string {
	return c.localizer.Message(conn.Locale(), err)
}

// ResponseFrame is the reply to one inbound message on a persistent connection.
type ResponseFrame struct {
	Context   string `json:"context"`
	MessageID int    `json:"messageId"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// VerbFrame shapes the outcome of a verb.
func (c *Core) VerbFrame(conn *model.Connection, messageID int, data any, err error) ResponseFrame {
	f := ResponseFrame{Context: "response", MessageID: messageID}
	if err != nil {
		f.Error = c.ErrorMessage(conn, err)
		return f
	}
	f.Status = "OK"
	f.Data = data
	return f
}

// ActionFrame is an action response tagged for a persistent connection.
func ActionFrame(res *service.Result) map[string]any {
	out := make(map[string]any, len(res.Response)+2)
	maps.Copy(out, res.Response)
	out["context"] = "response"
	out["messageId"] = res.MessageID
	return out
}

// Stats summarises the connections this node holds.
func (c *Core) Stats() model.RegistryStats {
	return c.conns.Stats()
}
