package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/handler/transport"
)

const (
	EventAction = "action"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 1 << 20
)

var (
	errInvalidFrame = errors.New("message is not a valid JSON frame")
	errRateLimited  = errors.New("too many messages, slow down")
)

// Frame is one inbound client message. Event is "action" or a verb name.
type Frame struct {
	Event   string         `json:"event"`
	Params  map[string]any `json:"params,omitempty"`
	Key     string         `json:"key,omitempty"`
	Value   any            `json:"value,omitempty"`
	Room    string         `json:"room,omitempty"`
	Message any            `json:"message,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WS_UPGRADE_FAILED", "err", err)
		return
	}

	// 2. REGISTER THE CONNECTION
	ctx := s.base
	ip, port := remote(r)
	conn, err := s.core.BuildConnection(ctx, model.ConnectionSpec{
		Type:       ConnectionType,
		RemoteIP:   ip,
		RemotePort: port,
		Locale:     r.Header.Get("Accept-Language"),
	})
	if err != nil {
		s.logger.Warn("WS_CONNECTION_REJECTED", "err", err)
		_ = wsConn.Close()
		return
	}

	sess := transport.NewSession(ctx, conn, s.cfg.Limits)
	s.sessions.Add(sess)
	defer func() {
		sess.Close()
		s.sessions.Remove(conn.ID)
		s.core.Destroy(context.WithoutCancel(ctx), conn)
		s.logger.Info("WS_CLOSED", "connection_id", conn.ID, "dropped", sess.Dropped())
	}()

	s.logger.Info("WS_OPENED", "connection_id", conn.ID, "remote", ip)

	// 3. OUTBOUND PUMP
	go s.writePump(wsConn, sess)
	_ = sess.Send(s.core.Welcome(conn))

	// 4. INBOUND LOOP
	s.readPump(ctx, wsConn, sess)
}

func (s *Server) writePump(wsConn *websocket.Conn, sess *transport.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = wsConn.Close()
	}()

	for {
		select {
		case <-sess.Done():
			_ = wsConn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return

		case <-ticker.C:
			if err := wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case payload := <-sess.Recv():
			if _, ok := payload.(transport.Finish); ok {
				_ = wsConn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}

			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.Error("WS_MARSHAL_FAILED", "connection_id", sess.Conn.ID, "err", err)
				continue
			}

			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("WS_SEND_FAILED", "connection_id", sess.Conn.ID, "err", err)
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, wsConn *websocket.Conn, sess *transport.Session) {
	wsConn.SetReadLimit(maxFrame)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WS_READ_FAILED", "connection_id", sess.Conn.ID, "err", err)
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))

		s.handleFrame(ctx, sess, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, sess *transport.Session, data []byte) {
	conn := sess.Conn

	if !sess.Allow() {
		_ = sess.Send(s.core.VerbFrame(conn, conn.NextMessageID(), nil, errRateLimited))
		return
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		// [PASS_THROUGH] the processor completes the next dispatch with this error and clears it
		conn.SetErr(errInvalidFrame)
		s.core.Dispatch(ctx, sess, nil)
		return
	}

	if frame.Event == EventAction {
		s.core.Dispatch(ctx, sess, frame.Params)
		return
	}

	id := conn.NextMessageID()
	result, err := s.core.HandleVerb(ctx, conn, frame.Event, verbArgs(frame))
	if errors.Is(err, transport.ErrQuit) {
		_ = s.sessions.Goodbye(conn, model.ReasonQuit)
		return
	}
	_ = sess.Send(s.core.VerbFrame(conn, id, result, err))
}

func verbArgs(f Frame) []string {
	switch f.Event {
	case transport.VerbParamAdd:
		return []string{f.Key, text(f.Value)}
	case transport.VerbParamDelete, transport.VerbParamView:
		return []string{f.Key}
	case transport.VerbRoomAdd, transport.VerbRoomLeave, transport.VerbRoomView, transport.VerbListenRoom:
		return []string{f.Room}
	case transport.VerbSay:
		return []string{f.Room, text(f.Message)}
	default:
		return nil
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func remote(r *http.Request) (string, int) {
	host, portStr, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
