// Package web is the HTTP transport: one short-lived connection per request.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/handler/transport"
)

const ConnectionType = "web"

type Server struct {
	cfg     config.Web
	handler http.Handler
	logger  *slog.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg config.Web, core *transport.Core, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: NewRouter(core, gatherer),
		logger:  logger.With("server", ConnectionType),
	}
}

func (s *Server) Type() string { return ConnectionType }

func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WEB_SERVE_FAILED", "err", err)
		}
	}()
	s.logger.Info("WEB_LISTENING", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr is the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// SendMessage is unsupported: a web connection lives only for its request.
func (s *Server) SendMessage(context.Context, *model.Connection, any) error {
	return transport.ErrUnsupported
}

func (s *Server) Goodbye(context.Context, *model.Connection, string) error { return nil }
