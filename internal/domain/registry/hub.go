// Package registry holds the live connections of this node and the hooks run when they come and go.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/action-gateway/internal/domain/middleware"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/metrics"
)

var (
	ErrDuplicateConnection = errors.New("registry: connection id already registered")
	ErrConnectionNotFound  = errors.New("registry: connection not found")
	ErrNoSender            = errors.New("registry: no transport attached")
)

// Hook runs when a connection is created or destroyed.
type Hook func(ctx context.Context, conn *model.Connection)

// Sender delivers to connections through the transport that owns them.
type Sender interface {
	SendMessage(ctx context.Context, conn *model.Connection, payload any) error
	Goodbye(ctx context.Context, conn *model.Connection, reason string) error
}

// Registry is the process-wide map of live connections.
type Registry struct {
	serverID  string
	startedAt time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	caller    Caller

	mu    sync.RWMutex
	conns map[string]*model.Connection

	senderMu sync.RWMutex
	sender   Sender

	createHooks  *middleware.Chain[Hook]
	destroyHooks *middleware.Chain[Hook]
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		startedAt:    time.Now(),
		logger:       slog.Default(),
		metrics:      metrics.NewNop(),
		conns:        make(map[string]*model.Connection),
		createHooks:  middleware.NewChain[Hook](),
		destroyHooks: middleware.NewChain[Hook](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSender attaches the transport layer.
func (r *Registry) SetSender(s Sender) {
	r.senderMu.Lock()
	r.sender = s
	r.senderMu.Unlock()
}

// UseCreate registers a hook run after a connection is stored.
func (r *Registry) UseCreate(name string, priority int, h Hook) error {
	return r.createHooks.Add(name, priority, h)
}

// UseDestroy registers a hook run before a connection is removed.
func (r *Registry) UseDestroy(name string, priority int, h Hook) error {
	return r.destroyHooks.Add(name, priority, h)
}

// Create stores a new live connection and runs the create hooks in order.
func (r *Registry) Create(ctx context.Context, spec model.ConnectionSpec) (*model.Connection, error) {
	conn := model.NewConnection(spec)

	r.mu.Lock()
	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, conn.ID)
	}
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.metrics.Connections.WithLabelValues(conn.Type).Inc()

	for _, e := range r.createHooks.Entries() {
		e.Handler(ctx, conn)
	}

	r.logger.Debug("CONNECTION_CREATED",
		"connection_id", conn.ID,
		"type", conn.Type,
		"remote_ip", conn.RemoteIP,
	)
	return conn, nil
}

// Destroy runs the destroy hooks and removes the connection. It reports false for unknown ids.
func (r *Registry) Destroy(ctx context.Context, id string) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("CONNECTION_DESTROY_MISSING", "connection_id", id)
		return false
	}

	for _, e := range r.destroyHooks.Entries() {
		e.Handler(ctx, conn)
	}

	// [REVALIDATE] another destroy may have finished while hooks ran
	r.mu.Lock()
	current, still := r.conns[id]
	removed := still && current == conn
	if removed {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !removed {
		return false
	}

	r.metrics.Connections.WithLabelValues(conn.Type).Dec()
	r.logger.Debug("CONNECTION_DESTROYED", "connection_id", id, "type", conn.Type)
	return true
}

func (r *Registry) Get(id string) (*model.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Owns reports whether id is held by this node.
func (r *Registry) Owns(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Each calls fn for every live connection until fn returns false.
// fn runs without the registry lock held.
func (r *Registry) Each(fn func(conn *model.Connection) bool) {
	r.mu.RLock()
	conns := make([]*model.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if !fn(c) {
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Deliver sends payload to a local connection through its transport.
func (r *Registry) Deliver(ctx context.Context, conn *model.Connection, payload any) error {
	s := r.currentSender()
	if s == nil {
		return ErrNoSender
	}
	return s.SendMessage(ctx, conn, payload)
}

// Stats summarises the connections held by this node.
func (r *Registry) Stats() model.RegistryStats {
	stats := model.RegistryStats{
		ServerID: r.serverID,
		ByType:   make(map[string]int),
		Uptime:   time.Since(r.startedAt).Round(time.Second),
	}
	r.Each(func(c *model.Connection) bool {
		stats.TotalConnections++
		stats.ByType[c.Type]++
		stats.PendingActions += c.PendingActions()
		return true
	})
	return stats
}

// Shutdown says goodbye to and destroys every connection.
func (r *Registry) Shutdown(ctx context.Context, reason string) {
	s := r.currentSender()
	r.Each(func(c *model.Connection) bool {
		if s != nil {
			if err := s.Goodbye(ctx, c, reason); err != nil {
				r.logger.Debug("GOODBYE_FAILED", "connection_id", c.ID, "err", err)
			}
		}
		r.Destroy(ctx, c.ID)
		return true
	})
}

func (r *Registry) currentSender() Sender {
	r.senderMu.RLock()
	defer r.senderMu.RUnlock()
	return r.sender
}
