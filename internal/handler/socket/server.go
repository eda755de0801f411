// Package socket is the raw TCP transport. Each line from the client is a verb
// ("paramAdd key=value"), a JSON object of action params, or a bare action name.
// Every reply is one JSON document per line.
package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/handler/transport"
)

const (
	ConnectionType = "socket"

	writeWait = 10 * time.Second
	maxLine   = 1 << 20
)

var (
	errInvalidLine = errors.New("line is not valid JSON")
	errRateLimited = errors.New("too many messages, slow down")
)

type Server struct {
	cfg      config.Socket
	core     *transport.Core
	sessions *transport.Sessions
	logger   *slog.Logger

	base       context.Context
	cancelBase context.CancelFunc

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(cfg config.Socket, core *transport.Core, logger *slog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		core:       core,
		sessions:   transport.NewSessions(),
		logger:     logger.With("server", ConnectionType),
		base:       base,
		cancelBase: cancel,
	}
}

func (s *Server) Type() string { return ConnectionType }

func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("socket: listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.logger.Info("SOCKET_LISTENING", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and every open connection, then waits for their goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range s.sessions.All() {
		sess.Close()
	}
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
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

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("SOCKET_ACCEPT_FAILED", "err", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(nc)
		}()
	}
}

func (s *Server) serve(nc net.Conn) {
	ctx := s.base

	ip, port := "", 0
	if addr, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		ip, port = addr.IP.String(), addr.Port
	}

	conn, err := s.core.BuildConnection(ctx, model.ConnectionSpec{Type: ConnectionType, RemoteIP: ip, RemotePort: port})
	if err != nil {
		s.logger.Warn("SOCKET_CONNECTION_REJECTED", "err", err)
		_ = nc.Close()
		return
	}

	sess := transport.NewSession(ctx, conn, s.cfg.Limits)
	s.sessions.Add(sess)
	defer func() {
		sess.Close()
		s.sessions.Remove(conn.ID)
		s.core.Destroy(context.WithoutCancel(ctx), conn)
		s.logger.Info("SOCKET_CLOSED", "connection_id", conn.ID, "dropped", sess.Dropped())
	}()

	s.logger.Info("SOCKET_OPENED", "connection_id", conn.ID, "remote", ip)

	go s.writeLoop(nc, sess)
	_ = sess.Send(s.core.Welcome(conn))

	sc := bufio.NewScanner(nc)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.handleLine(ctx, sess, line)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("SOCKET_READ_FAILED", "connection_id", conn.ID, "err", err)
	}
}

func (s *Server) writeLoop(nc net.Conn, sess *transport.Session) {
	defer nc.Close()
	enc := json.NewEncoder(nc)

	for {
		select {
		case <-sess.Done():
			return
		case payload := <-sess.Recv():
			if _, ok := payload.(transport.Finish); ok {
				return
			}
			_ = nc.SetWriteDeadline(time.Now().Add(writeWait))
			if err := enc.Encode(payload); err != nil {
				s.logger.Warn("SOCKET_SEND_FAILED", "connection_id", sess.Conn.ID, "err", err)
				return
			}
		}
	}
}

func (s *Server) handleLine(ctx context.Context, sess *transport.Session, line string) {
	conn := sess.Conn

	if !sess.Allow() {
		_ = sess.Send(s.core.VerbFrame(conn, conn.NextMessageID(), nil, errRateLimited))
		return
	}

	if strings.HasPrefix(line, "{") {
		var params map[string]any
		if err := json.Unmarshal([]byte(line), &params); err != nil {
			conn.SetErr(errInvalidLine)
			s.core.Dispatch(ctx, sess, nil)
			return
		}
		s.core.Dispatch(ctx, sess, params)
		return
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	if !transport.IsVerb(name) {
		s.core.Dispatch(ctx, sess, map[string]any{"action": name})
		return
	}

	id := conn.NextMessageID()
	result, err := s.core.HandleVerb(ctx, conn, name, args)
	if errors.Is(err, transport.ErrQuit) {
		_ = s.sessions.Goodbye(conn, model.ReasonQuit)
		return
	}
	_ = sess.Send(s.core.VerbFrame(conn, id, result, err))
}
