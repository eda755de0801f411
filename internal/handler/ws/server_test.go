package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/handler/transport/transporttest"
)

type harness struct {
	f   *transporttest.Fixture
	srv *Server
	url string
}

func newHarness(t *testing.T, limits config.Limits) *harness {
	t.Helper()
	f := transporttest.New(t)
	srv := NewServer(config.WebSocket{Path: "/ws", Limits: limits}, f.Core, f.Logger)
	f.Conns.SetSender(srv)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		hs.Close()
	})
	return &harness{f: f, srv: srv, url: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"}
}

// dial connects and consumes the welcome frame.
func (h *harness) dial(t *testing.T) (*websocket.Conn, map[string]any) {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	welcome := read(t, c)
	require.Equal(t, "api", welcome["context"])
	return c, welcome
}

func read(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, c.ReadJSON(&frame))
	return frame
}

func send(t *testing.T, c *websocket.Conn, frame any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(frame))
}

func TestServer_WelcomeAndAction(t *testing.T) {
	h := newHarness(t, config.Limits{})
	c, welcome := h.dial(t)

	assert.Equal(t, transporttest.ServerID, welcome["serverId"])
	assert.NotEmpty(t, welcome["connectionId"])

	send(t, c, Frame{Event: EventAction, Params: map[string]any{"action": "echo", "message": "hi"}})
	resp := read(t, c)
	assert.Equal(t, "response", resp["context"])
	assert.Equal(t, float64(1), resp["messageId"])
	assert.Equal(t, "hi", resp["message"])
	assert.NotContains(t, resp, "error")
}

func TestServer_StickyParams(t *testing.T) {
	h := newHarness(t, config.Limits{})
	c, _ := h.dial(t)

	send(t, c, Frame{Event: "paramAdd", Key: "action", Value: "echo"})
	assert.Equal(t, "OK", read(t, c)["status"])

	send(t, c, Frame{Event: EventAction, Params: map[string]any{"message": "once"}})
	assert.Equal(t, "once", read(t, c)["message"])

	// frame params apply to one invocation only
	send(t, c, Frame{Event: "paramsView"})
	view := read(t, c)
	assert.Equal(t, map[string]any{"action": "echo"}, view["data"])

	send(t, c, Frame{Event: EventAction})
	assert.Equal(t, "message is a required parameter for this action", read(t, c)["error"])
}

func TestServer_BadFrameFailsOneDispatch(t *testing.T) {
	h := newHarness(t, config.Limits{})
	c, _ := h.dial(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, errInvalidFrame.Error(), read(t, c)["error"])

	send(t, c, Frame{Event: EventAction, Params: map[string]any{"action": "echo", "message": "ok"}})
	resp := read(t, c)
	assert.Equal(t, "ok", resp["message"])
	assert.NotContains(t, resp, "error")
}

func TestServer_RoomsAcrossClients(t *testing.T) {
	h := newHarness(t, config.Limits{})
	a, _ := h.dial(t)
	b, _ := h.dial(t)

	send(t, a, Frame{Event: "roomAdd", Room: "defaultRoom"})
	assert.Equal(t, "OK", read(t, a)["status"])

	send(t, b, Frame{Event: "roomAdd", Room: "defaultRoom"})
	assert.Equal(t, "OK", read(t, b)["status"])

	// a hears b joining
	joined := read(t, a)
	assert.Equal(t, "user", joined["context"])
	assert.Equal(t, "defaultRoom", joined["room"])

	send(t, b, Frame{Event: "say", Room: "defaultRoom", Message: "hello"})
	assert.Equal(t, "OK", read(t, b)["status"])

	said := read(t, a)
	assert.Equal(t, "hello", said["message"])
	assert.Equal(t, "defaultRoom", said["room"])
}

func TestServer_RateLimit(t *testing.T) {
	h := newHarness(t, config.Limits{MessagesPerSecond: 0.1, Burst: 1})
	c, _ := h.dial(t)

	send(t, c, Frame{Event: "paramsView"})
	assert.Equal(t, "OK", read(t, c)["status"])

	send(t, c, Frame{Event: "paramsView"})
	assert.Equal(t, errRateLimited.Error(), read(t, c)["error"])
}

func TestServer_QuitSaysGoodbye(t *testing.T) {
	h := newHarness(t, config.Limits{})
	c, _ := h.dial(t)
	require.Equal(t, 1, h.f.Conns.Len())

	send(t, c, Frame{Event: "quit"})
	bye := read(t, c)
	assert.Equal(t, model.ReasonQuit, bye["reason"])
	assert.Equal(t, "QUIT", bye["code"])

	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool { return h.f.Conns.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownSaysGoodbye(t *testing.T) {
	h := newHarness(t, config.Limits{})
	c, _ := h.dial(t)

	h.f.Conns.Shutdown(context.Background(), model.ReasonShutdown)

	bye := read(t, c)
	assert.Equal(t, "SHUTDOWN", bye["code"])
	assert.Eventually(t, func() bool { return h.srv.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
