// Package ws is the websocket transport: a persistent connection per client
// carrying JSON frames for actions and connection verbs.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/handler/transport"
)

const ConnectionType = "websocket"

type Server struct {
	cfg      config.WebSocket
	core     *transport.Core
	sessions *transport.Sessions
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// base outlives the start context and is cancelled on Stop.
	base       context.Context
	cancelBase context.CancelFunc

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg config.WebSocket, core *transport.Core, logger *slog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &Server{
		cfg:        cfg,
		core:       core,
		sessions:   transport.NewSessions(),
		logger:     logger.With("server", ConnectionType),
		base:       base,
		cancelBase: cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Type() string { return ConnectionType }

// Handler serves the upgrade endpoint at the configured path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	return mux
}

func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WS_SERVE_FAILED", "err", err)
		}
	}()
	s.logger.Info("WS_LISTENING", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Stop closes the listener, then every session still open.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, sess := range s.sessions.All() {
		sess.Close()
	}
	s.cancelBase()
	return err
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) SendMessage(_ context.Context, conn *model.Connection, payload any) error {
	return s.sessions.Send(conn, payload)
}

func (s *Server) Goodbye(_ context.Context, conn *model.Connection, reason string) error {
	return s.sessions.Goodbye(conn, reason)
}
