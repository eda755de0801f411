package transport_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/handler/transport"
	"github.com/webitel/action-gateway/internal/handler/transport/transporttest"
	"github.com/webitel/action-gateway/internal/service/chat"
)

func connect(t *testing.T, f *transporttest.Fixture) *model.Connection {
	t.Helper()
	conn, err := f.Core.BuildConnection(context.Background(), model.ConnectionSpec{Type: "websocket", RemoteIP: "127.0.0.1"})
	require.NoError(t, err)
	return conn
}

func TestHandleVerb_Params(t *testing.T) {
	f := transporttest.New(t)
	ctx := context.Background()
	conn := connect(t, f)

	tests := []struct {
		name  string
		verb  string
		args  []string
		want  any
		check func(t *testing.T)
	}{
		{name: "add with equals", verb: transport.VerbParamAdd, args: []string{"message=hi"}},
		{name: "add with space", verb: transport.VerbParamAdd, args: []string{"action", "echo"}},
		{name: "view one", verb: transport.VerbParamView, args: []string{"message"}, want: "hi"},
		{name: "view all", verb: transport.VerbParamsView, want: map[string]any{"message": "hi", "action": "echo"}},
		{
			name: "delete one", verb: transport.VerbParamDelete, args: []string{"message"},
			check: func(t *testing.T) {
				_, ok := conn.Param("message")
				assert.False(t, ok)
			},
		},
		{
			name: "delete all", verb: transport.VerbParamsDelete,
			check: func(t *testing.T) { assert.Empty(t, conn.Params()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Core.HandleVerb(ctx, conn, tt.verb, tt.args)
			require.NoError(t, err)
			if tt.want != nil {
				assert.Equal(t, tt.want, got)
			}
			if tt.check != nil {
				tt.check(t)
			}
		})
	}
}

func TestHandleVerb_Errors(t *testing.T) {
	f := transporttest.New(t)
	ctx := context.Background()
	conn := connect(t, f)

	tests := []struct {
		name string
		verb string
		args []string
		want error
	}{
		{"paramAdd without value", transport.VerbParamAdd, []string{"key"}, transport.ErrVerbArgs},
		{"paramView without key", transport.VerbParamView, nil, transport.ErrVerbArgs},
		{"say without message", transport.VerbSay, []string{"defaultRoom"}, transport.ErrVerbArgs},
		{"say as non-member", transport.VerbSay, []string{"defaultRoom", "hi"}, chat.ErrNotMember},
		{"join unknown room", transport.VerbRoomAdd, []string{"nowhere"}, chat.ErrRoomNotFound},
		{"quit", transport.VerbQuit, nil, transport.ErrQuit},
		{"unknown verb", "dance", nil, transport.ErrUnknownVerb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Core.HandleVerb(ctx, conn, tt.verb, tt.args)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandleVerb_Rooms(t *testing.T) {
	f := transporttest.New(t)
	ctx := context.Background()
	conn := connect(t, f)

	_, err := f.Core.HandleVerb(ctx, conn, transport.VerbRoomAdd, []string{"defaultRoom"})
	require.NoError(t, err)
	assert.True(t, conn.InRoom("defaultRoom"))

	status, err := f.Core.HandleVerb(ctx, conn, transport.VerbRoomView, []string{"defaultRoom"})
	require.NoError(t, err)
	assert.Equal(t, chat.Status{Room: "defaultRoom", MembersCount: 1, Members: []string{conn.ID}}, status)

	_, err = f.Core.HandleVerb(ctx, conn, transport.VerbSay, []string{"defaultRoom", "hello", "there"})
	require.NoError(t, err)

	_, err = f.Core.HandleVerb(ctx, conn, transport.VerbRoomLeave, []string{"defaultRoom"})
	require.NoError(t, err)
	assert.False(t, conn.InRoom("defaultRoom"))

	details, err := f.Core.HandleVerb(ctx, conn, transport.VerbDetailsView, nil)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, details.(model.ConnectionState).ID)

	docs, err := f.Core.HandleVerb(ctx, conn, transport.VerbDocumentation, nil)
	require.NoError(t, err)
	assert.Contains(t, docs, "echo")
}

func TestIsVerb(t *testing.T) {
	assert.True(t, transport.IsVerb("paramAdd"))
	assert.True(t, transport.IsVerb("quit"))
	assert.False(t, transport.IsVerb("echo"))
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "site.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "secret.txt"), []byte("nope"), 0o644))

	f := transporttest.New(t, transporttest.WithPublicDir(dir))
	conn := model.NewConnection(model.ConnectionSpec{Type: "web"})

	tests := []struct {
		name     string
		path     string
		wantFile string
		wantType string
	}{
		{"root falls back to index", "/", "index.html", "text/html"},
		{"nested file", "css/site.css", filepath.Join("css", "site.css"), "text/css"},
		{"traversal stays inside", "../secret.txt", "", ""},
		{"dot segments", "/css/../../secret.txt", "", ""},
		{"missing", "nope.js", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := f.Core.ProcessFile(conn, tt.path)
			if tt.wantFile == "" {
				require.Error(t, err)
				assert.Equal(t, model.KindFileNotFound, model.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.wantFile), file.Path)
			assert.Contains(t, file.ContentType, tt.wantType)
		})
	}
}

func TestSession_Backpressure(t *testing.T) {
	conn := model.NewConnection(model.ConnectionSpec{Type: "websocket"})
	s := transport.NewSession(context.Background(), conn, config.Limits{OutboxSize: 1, SendTimeout: 10 * time.Millisecond})

	require.NoError(t, s.Send("first"))
	assert.ErrorIs(t, s.Send("second"), transport.ErrSendTimeout)
	assert.Equal(t, uint64(1), s.Dropped())

	assert.Equal(t, "first", <-s.Recv())

	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Send("late"), transport.ErrNoSession)
}

func TestSession_FinishQueuesCloseMarker(t *testing.T) {
	conn := model.NewConnection(model.ConnectionSpec{Type: "socket"})
	s := transport.NewSession(context.Background(), conn, config.Limits{OutboxSize: 4})

	require.NoError(t, s.Finish("bye"))
	require.NoError(t, s.Finish("again"), "second finish is a no-op")

	assert.Equal(t, "bye", <-s.Recv())
	assert.Equal(t, transport.Finish{}, <-s.Recv())
	assert.Empty(t, s.Recv())
}

func TestSession_RateLimit(t *testing.T) {
	conn := model.NewConnection(model.ConnectionSpec{Type: "socket"})

	limited := transport.NewSession(context.Background(), conn, config.Limits{MessagesPerSecond: 1, Burst: 2})
	assert.True(t, limited.Allow())
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())

	unlimited := transport.NewSession(context.Background(), conn, config.Limits{})
	for range 100 {
		require.True(t, unlimited.Allow())
	}
}

func TestSessions_Goodbye(t *testing.T) {
	conn := model.NewConnection(model.ConnectionSpec{Type: "websocket"})
	ss := transport.NewSessions()
	s := transport.NewSession(context.Background(), conn, config.Limits{})
	ss.Add(s)

	require.NoError(t, ss.Goodbye(conn, model.ReasonShutdown))
	assert.Equal(t, model.GoodbyePayload{Context: "api", Reason: model.ReasonShutdown, Code: "SHUTDOWN"}, <-s.Recv())

	ss.Remove(conn.ID)
	assert.ErrorIs(t, ss.Send(conn, "x"), transport.ErrNoSession)
	assert.Zero(t, ss.Len())
}

type fakeServer struct {
	typ      string
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
	sent    []any
}

func (s *fakeServer) Type() string { return s.typ }

func (s *fakeServer) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.startErr
}

func (s *fakeServer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeServer) SendMessage(_ context.Context, _ *model.Connection, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeServer) Goodbye(context.Context, *model.Connection, string) error { return nil }

func TestManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("routes by connection type", func(t *testing.T) {
		ws, sock := &fakeServer{typ: "websocket"}, &fakeServer{typ: "socket"}
		m, err := transport.NewManager([]transport.Server{ws, sock}, logger)
		require.NoError(t, err)
		require.NoError(t, m.Start(ctx))
		assert.True(t, ws.started)
		assert.True(t, sock.started)
		assert.Equal(t, []string{"websocket", "socket"}, m.Types())

		conn := model.NewConnection(model.ConnectionSpec{Type: "socket"})
		require.NoError(t, m.SendMessage(ctx, conn, "hi"))
		assert.Equal(t, []any{"hi"}, sock.sent)
		assert.Empty(t, ws.sent)

		task := model.NewConnection(model.ConnectionSpec{Type: "task"})
		assert.ErrorIs(t, m.SendMessage(ctx, task, "hi"), transport.ErrNoTransport)

		require.NoError(t, m.Stop(ctx))
		assert.True(t, ws.stopped)
	})

	t.Run("duplicate type", func(t *testing.T) {
		_, err := transport.NewManager([]transport.Server{&fakeServer{typ: "web"}, &fakeServer{typ: "web"}}, logger)
		assert.Error(t, err)
	})

	t.Run("start failure", func(t *testing.T) {
		boom := errors.New("address in use")
		m, err := transport.NewManager([]transport.Server{&fakeServer{typ: "web", startErr: boom}}, logger)
		require.NoError(t, err)
		assert.ErrorIs(t, m.Start(ctx), boom)
	})
}
