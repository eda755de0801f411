package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/metrics"
)

// PingMethod answers with the responding node's id.
const PingMethod = "cluster.ping"

// Publisher puts a payload on a bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Owner reports whether a connection is held by this node.
type Owner interface {
	Owns(connectionID string) bool
}

// Callback receives the single outcome of a call: the encoded return values or an error.
type Callback func(response []json.RawMessage, err error)

// RemoteError is a failure reported by the node that executed the method.
type RemoteError struct {
	ServerID string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote %s: %s", e.ServerID, e.Message)
}

type Options struct {
	ServerID         string
	Token            string
	Channel          string
	Timeout          time.Duration
	SettledCacheSize int
}

type pendingCall struct {
	method   string
	callback Callback
	timer    *time.Timer
	sentAt   time.Time
}

// Cluster is the node's endpoint on the shared channel.
type Cluster struct {
	opts    Options
	pub     Publisher
	methods *Methods
	logger  *slog.Logger
	metrics *metrics.Metrics

	ownerMu sync.RWMutex
	owner   Owner

	mu      sync.Mutex
	pending map[string]*pendingCall
	settled *lru.Cache[string, struct{}]
	closed  bool

	handlers sync.WaitGroup
}

func NewCluster(opts Options, pub Publisher, methods *Methods, m *metrics.Metrics, logger *slog.Logger) (*Cluster, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.SettledCacheSize <= 0 {
		opts.SettledCacheSize = 4096
	}

	settled, err := lru.New[string, struct{}](opts.SettledCacheSize)
	if err != nil {
		return nil, fmt.Errorf("rpc: settled cache: %w", err)
	}

	c := &Cluster{
		opts:    opts,
		pub:     pub,
		methods: methods,
		logger:  logger.With("component", "rpc", "server_id", opts.ServerID),
		metrics: m,
		pending: make(map[string]*pendingCall),
		settled: settled,
	}

	if err := methods.Register(PingMethod, c.ping); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cluster) ServerID() string { return c.opts.ServerID }

// Methods exposes the registry remote calls are resolved against.
func (c *Cluster) Methods() *Methods { return c.methods }

// SetOwner installs the locality check for connection-scoped requests.
func (c *Cluster) SetOwner(o Owner) {
	c.ownerMu.Lock()
	c.owner = o
	c.ownerMu.Unlock()
}

// Do broadcasts a call of method. With a nil callback the call is fire-and-forget and
// any response is ignored. Otherwise cb fires exactly once: with the first response,
// with ErrTimeout after the configured timeout, or with ErrClosed.
func (c *Cluster) Do(ctx context.Context, method string, args []any, connectionID string, cb Callback) (string, error) {
	encoded := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("rpc: encode argument %d of %s: %w", i, method, err)
		}
		encoded = append(encoded, raw)
	}

	requestID := uuid.NewString()
	req := model.RPCRequest{
		MessageType:  model.MessageDo,
		ServerID:     c.opts.ServerID,
		ServerToken:  c.opts.Token,
		RequestID:    requestID,
		Method:       method,
		ConnectionID: connectionID,
		Args:         encoded,
	}

	if cb != nil {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return "", ErrClosed
		}
		// [REGISTER_FIRST] a fast peer may answer before Publish returns
		c.pending[requestID] = &pendingCall{
			method:   method,
			callback: cb,
			sentAt:   time.Now(),
			timer:    time.AfterFunc(c.opts.Timeout, func() { c.expire(requestID) }),
		}
		c.mu.Unlock()
		c.metrics.RPCPending.Inc()
	}

	if err := c.pub.Publish(ctx, c.opts.Channel, req); err != nil {
		if cb != nil {
			c.forget(requestID)
		}
		c.metrics.RPCRequests.WithLabelValues("outbound", "publish_failed").Inc()
		return "", fmt.Errorf("rpc: publish %s: %w", method, err)
	}

	c.metrics.RPCRequests.WithLabelValues("outbound", "sent").Inc()
	c.logger.Debug("RPC_REQUEST_SENT", "request_id", requestID, "method", method, "connection_id", connectionID)
	return requestID, nil
}

// Call is the blocking form of Do.
func (c *Cluster) Call(ctx context.Context, method string, args []any, connectionID string) ([]json.RawMessage, error) {
	type outcome struct {
		response []json.RawMessage
		err      error
	}
	ch := make(chan outcome, 1)

	requestID, err := c.Do(ctx, method, args, connectionID, func(resp []json.RawMessage, err error) {
		ch <- outcome{response: resp, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case out := <-ch:
		return out.response, out.err
	case <-ctx.Done():
		c.forget(requestID)
		return nil, ctx.Err()
	}
}

// Pending reports how many calls are waiting for a response.
func (c *Cluster) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleRequest executes req if this node should, then publishes the response.
func (c *Cluster) HandleRequest(ctx context.Context, req model.RPCRequest) {
	if req.ConnectionID != "" && !c.owns(req.ConnectionID) {
		c.metrics.RPCRequests.WithLabelValues("inbound", "skipped").Inc()
		return
	}

	fn, ok := c.methods.Lookup(req.Method)
	if !ok {
		// [SKIP] a peer that has the method answers; with none the caller times out
		c.metrics.RPCRequests.WithLabelValues("inbound", "skipped").Inc()
		c.logger.Debug("RPC_METHOD_NOT_FOUND", "request_id", req.RequestID, "method", req.Method, "from", req.ServerID)
		return
	}

	// [DETACHED] the bus message is acked before the method finishes
	execCtx := context.WithoutCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.handlers.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.handlers.Done()

		results, err := c.invoke(execCtx, fn, req)
		c.respond(execCtx, req, results, err)
	}()
}

func (c *Cluster) invoke(ctx context.Context, fn Method, req model.RPCRequest) (results []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("PANIC_RECOVERED",
				"method", req.Method,
				"request_id", req.RequestID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			results, err = nil, fmt.Errorf("rpc: method %s panicked", req.Method)
		}
	}()
	return fn(ctx, req.Args)
}

func (c *Cluster) respond(ctx context.Context, req model.RPCRequest, results []any, callErr error) {
	resp := model.RPCResponse{
		MessageType: model.MessageDoResponse,
		ServerID:    c.opts.ServerID,
		ServerToken: c.opts.Token,
		RequestID:   req.RequestID,
		Response:    make([]json.RawMessage, 0, len(results)),
	}

	for _, r := range results {
		raw, err := json.Marshal(r)
		if err != nil {
			callErr = errors.Join(callErr, fmt.Errorf("rpc: encode result: %w", err))
			resp.Response = resp.Response[:0]
			break
		}
		resp.Response = append(resp.Response, raw)
	}

	outcome := "ok"
	if callErr != nil {
		resp.Error = callErr.Error()
		outcome = "error"
	}
	c.metrics.RPCRequests.WithLabelValues("inbound", outcome).Inc()

	if err := c.pub.Publish(ctx, c.opts.Channel, resp); err != nil {
		c.logger.Error("RPC_RESPONSE_PUBLISH_FAILED", "request_id", req.RequestID, "method", req.Method, "err", err)
	}
}

// HandleResponse settles the matching pending call. Unknown, late and duplicate responses are dropped.
func (c *Cluster) HandleResponse(resp model.RPCResponse) {
	c.mu.Lock()
	call, ok := c.pending[resp.RequestID]
	if !ok {
		late := c.settled.Contains(resp.RequestID)
		c.mu.Unlock()
		if late {
			c.metrics.RPCRequests.WithLabelValues("outbound", "late").Inc()
			c.logger.Debug("RPC_LATE_RESPONSE", "request_id", resp.RequestID, "from", resp.ServerID)
		}
		return
	}
	delete(c.pending, resp.RequestID)
	c.settled.Add(resp.RequestID, struct{}{})
	call.timer.Stop()
	c.mu.Unlock()

	c.metrics.RPCPending.Dec()

	var err error
	if resp.Error != "" {
		err = &RemoteError{ServerID: resp.ServerID, Message: resp.Error}
	}
	c.logger.Debug("RPC_RESPONSE_RECEIVED",
		"request_id", resp.RequestID,
		"method", call.method,
		"from", resp.ServerID,
		"latency_ms", time.Since(call.sentAt).Milliseconds(),
	)
	call.callback(resp.Response, err)
}

func (c *Cluster) expire(requestID string) {
	c.mu.Lock()
	call, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, requestID)
	c.settled.Add(requestID, struct{}{})
	c.mu.Unlock()

	c.metrics.RPCPending.Dec()
	c.metrics.RPCRequests.WithLabelValues("outbound", "timeout").Inc()
	c.logger.Warn("RPC_TIMEOUT", "request_id", requestID, "method", call.method, "timeout", c.opts.Timeout)
	call.callback(nil, ErrTimeout)
}

// forget drops a pending call without firing its callback.
func (c *Cluster) forget(requestID string) {
	c.mu.Lock()
	call, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
		call.timer.Stop()
	}
	c.mu.Unlock()
	if ok {
		c.metrics.RPCPending.Dec()
	}
}

// Close fails every pending call with ErrClosed and waits for running handlers.
func (c *Cluster) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		c.metrics.RPCPending.Dec()
		call.callback(nil, ErrClosed)
	}

	c.handlers.Wait()
	return nil
}

func (c *Cluster) owns(connectionID string) bool {
	c.ownerMu.RLock()
	defer c.ownerMu.RUnlock()
	return c.owner != nil && c.owner.Owns(connectionID)
}

func (c *Cluster) ping(_ context.Context, _ []json.RawMessage) ([]any, error) {
	return []any{map[string]any{
		"serverId": c.opts.ServerID,
		"time":     time.Now().UTC(),
	}}, nil
}
