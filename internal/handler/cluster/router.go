// Package cluster consumes the shared cluster channel and routes its messages to the RPC and chat services.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/service/chat"
	"github.com/webitel/action-gateway/internal/service/rpc"
	"go.opentelemetry.io/otel/trace"
)

const HandlerName = "CLUSTER_BUS"

type Options struct {
	Token   string
	Channel string
}

// BusHandler authenticates cluster messages and dispatches them by messageType.
type BusHandler struct {
	opts    Options
	cluster *rpc.Cluster
	rooms   *chat.Rooms
	tracer  trace.TracerProvider
	logger  *slog.Logger
	routes  map[model.MessageType]message.NoPublishHandlerFunc
}

func NewBusHandler(opts Options, cluster *rpc.Cluster, rooms *chat.Rooms, tp trace.TracerProvider, logger *slog.Logger) *BusHandler {
	h := &BusHandler{
		opts:    opts,
		cluster: cluster,
		rooms:   rooms,
		tracer:  tp,
		logger:  logger.With("component", "cluster-bus"),
	}
	h.routes = map[model.MessageType]message.NoPublishHandlerFunc{
		model.MessageDo:         Bind(h, h.onRequest),
		model.MessageDoResponse: Bind(h, h.onResponse),
		model.MessageChat:       Bind(h, h.onChat),
	}
	return h
}

// NewWatermillRouter builds the router the bus handler runs on.
func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("ROUTER_SETUP_FAILED: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *BusHandler) RegisterHandlers(router *message.Router, sub message.Subscriber) {
	router.AddConsumerHandler(HandlerName, h.opts.Channel, sub, h.Handle).AddMiddleware(
		TracingMiddleware(h.tracer, h.opts.Channel),
		LoggingMiddleware(h.logger),
		middleware.Timeout(30*time.Second),
	)
	h.logger.Info("CLUSTER_PIPELINE_READY", "channel", h.opts.Channel)
}

// Handle is the single consumer of the channel every node shares.
func (h *BusHandler) Handle(msg *message.Message) error {
	var env model.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		h.logger.Warn("ENVELOPE_DECODE_FAILED", "err", err, "msg_id", msg.UUID)
		return nil
	}

	// [AUTHENTICATION] traffic from another deployment is dropped silently
	if env.ServerToken != h.opts.Token {
		h.logger.Debug("BUS_TOKEN_MISMATCH", "msg_id", msg.UUID, "from", env.ServerID)
		return nil
	}

	route, ok := h.routes[env.MessageType]
	if !ok {
		h.logger.Debug("BUS_UNROUTABLE", "msg_id", msg.UUID, "message_type", env.MessageType)
		return nil
	}
	return route(msg)
}

func (h *BusHandler) onRequest(ctx context.Context, req *model.RPCRequest) error {
	h.cluster.HandleRequest(ctx, *req)
	return nil
}

func (h *BusHandler) onResponse(_ context.Context, resp *model.RPCResponse) error {
	h.cluster.HandleResponse(*resp)
	return nil
}

func (h *BusHandler) onChat(ctx context.Context, msg *model.ChatMessage) error {
	h.rooms.HandleMessage(ctx, *msg)
	return nil
}
