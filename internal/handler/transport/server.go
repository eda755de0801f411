// Package transport holds what the web, websocket and socket servers share:
// the server contract, the core primitives they call into and the outbound session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/webitel/action-gateway/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoTransport = errors.New("transport: no server for connection type")
	ErrUnsupported = errors.New("transport: operation not supported by this server")
	ErrNoSession   = errors.New("transport: connection has no open session")
	ErrSendTimeout = errors.New("transport: send timed out")
)

// Server is one transport. Start must return once the listener is bound.
type Server interface {
	Type() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMessage(ctx context.Context, conn *model.Connection, payload any) error
	Goodbye(ctx context.Context, conn *model.Connection, reason string) error
}

// Manager starts and stops every enabled server and routes sends by connection type.
type Manager struct {
	servers []Server
	byType  map[string]Server
	logger  *slog.Logger
}

func NewManager(servers []Server, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		byType: make(map[string]Server, len(servers)),
		logger: logger,
	}
	for _, s := range servers {
		if s == nil {
			continue
		}
		if _, dup := m.byType[s.Type()]; dup {
			return nil, fmt.Errorf("transport: duplicate server type %q", s.Type())
		}
		m.byType[s.Type()] = s
		m.servers = append(m.servers, s)
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m.servers {
		g.Go(func() error {
			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("transport: start %s: %w", s.Type(), err)
			}
			m.logger.Info("SERVER_STARTED", "type", s.Type())
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) Stop(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range m.servers {
		g.Go(func() error {
			if err := s.Stop(ctx); err != nil {
				return fmt.Errorf("transport: stop %s: %w", s.Type(), err)
			}
			m.logger.Info("SERVER_STOPPED", "type", s.Type())
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) Types() []string {
	types := make([]string, 0, len(m.servers))
	for _, s := range m.servers {
		types = append(types, s.Type())
	}
	return types
}

func (m *Manager) SendMessage(ctx context.Context, conn *model.Connection, payload any) error {
	s, ok := m.byType[conn.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTransport, conn.Type)
	}
	return s.SendMessage(ctx, conn, payload)
}

func (m *Manager) Goodbye(ctx context.Context, conn *model.Connection, reason string) error {
	s, ok := m.byType[conn.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTransport, conn.Type)
	}
	return s.Goodbye(ctx, conn, reason)
}
