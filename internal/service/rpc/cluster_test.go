package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/metrics"
)

// loopback delivers every published payload to every node, the way the shared channel does.
type loopback struct {
	mu    sync.RWMutex
	nodes []*Cluster
}

func (l *loopback) Publish(ctx context.Context, _ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	l.mu.RLock()
	nodes := append([]*Cluster(nil), l.nodes...)
	l.mu.RUnlock()

	go func() {
		for _, n := range nodes {
			switch env.MessageType {
			case model.MessageDo:
				var req model.RPCRequest
				_ = json.Unmarshal(data, &req)
				n.HandleRequest(ctx, req)
			case model.MessageDoResponse:
				var resp model.RPCResponse
				_ = json.Unmarshal(data, &resp)
				n.HandleResponse(resp)
			}
		}
	}()
	return nil
}

type owner map[string]bool

func (o owner) Owns(id string) bool { return o[id] }

func newNode(t *testing.T, bus *loopback, id string, timeout time.Duration) (*Cluster, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewNop()
	c, err := NewCluster(Options{
		ServerID: id,
		Token:    "secret",
		Channel:  "test",
		Timeout:  timeout,
	}, bus, NewMethods(), m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	bus.mu.Lock()
	bus.nodes = append(bus.nodes, c)
	bus.mu.Unlock()
	t.Cleanup(func() { _ = c.Close() })
	return c, m
}

func TestCluster_FireAndForgetReachesPeer(t *testing.T) {
	bus := &loopback{}
	x, _ := newNode(t, bus, "x", time.Second)
	y, _ := newNode(t, bus, "y", time.Second)

	var mu sync.Mutex
	var captured []string
	require.NoError(t, y.Methods().Register("api.rpcTestMethod", func(_ context.Context, args []json.RawMessage) ([]any, error) {
		a, err := Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := Arg[string](args, 1)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		captured = []string{a, b}
		mu.Unlock()
		return nil, nil
	}))

	_, err := x.Do(context.Background(), "api.rpcTestMethod", []any{"a", "b"}, "", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(captured) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, captured)
	mu.Unlock()
	assert.Zero(t, x.Pending())
}

func TestCluster_FirstResponseWins(t *testing.T) {
	bus := &loopback{}
	x, xm := newNode(t, bus, "x", time.Second)
	newNode(t, bus, "y", time.Second)
	newNode(t, bus, "z", time.Second)

	var calls int
	var mu sync.Mutex
	done := make(chan struct{})
	_, err := x.Do(context.Background(), PingMethod, nil, "", func(resp []json.RawMessage, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		assert.NoError(t, err)
		assert.Len(t, resp, 1)
		close(done)
	})
	require.NoError(t, err)

	<-done
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(xm.RPCRequests.WithLabelValues("outbound", "late")) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Zero(t, x.Pending())
}

func TestCluster_ScopedCallRunsOnOwnerOnly(t *testing.T) {
	bus := &loopback{}
	x, _ := newNode(t, bus, "x", time.Second)
	y, _ := newNode(t, bus, "y", time.Second)
	z, _ := newNode(t, bus, "z", time.Second)
	z.SetOwner(owner{"conn-z": true})
	y.SetOwner(owner{})

	whoAmI := func(id string) Method {
		return func(context.Context, []json.RawMessage) ([]any, error) { return []any{id}, nil }
	}
	for _, n := range []*Cluster{x, y, z} {
		require.NoError(t, n.Methods().Register("who", whoAmI(n.ServerID())))
	}

	resp, err := x.Call(context.Background(), "who", nil, "conn-z")
	require.NoError(t, err)
	id, err := Arg[string](resp, 0)
	require.NoError(t, err)
	assert.Equal(t, "z", id)
}

func TestCluster_ScopedCallTimesOutWithoutOwner(t *testing.T) {
	bus := &loopback{}
	x, xm := newNode(t, bus, "x", 50*time.Millisecond)
	newNode(t, bus, "y", 50*time.Millisecond)

	var calls int
	var mu sync.Mutex
	errCh := make(chan error, 1)
	requestID, err := x.Do(context.Background(), PingMethod, nil, "missing-client", func(_ []json.RawMessage, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		errCh <- err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, x.Pending())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, "RPC Timeout", err.Error())
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}
	assert.Zero(t, x.Pending())

	// a response after the timeout is dropped
	x.HandleResponse(model.RPCResponse{MessageType: model.MessageDoResponse, RequestID: requestID, ServerID: "z"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(xm.RPCRequests.WithLabelValues("outbound", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(xm.RPCRequests.WithLabelValues("outbound", "late")))
}

func TestCluster_RemoteFailures(t *testing.T) {
	bus := &loopback{}
	x, _ := newNode(t, bus, "x", time.Second)

	require.NoError(t, x.Methods().Register("fails", func(context.Context, []json.RawMessage) ([]any, error) {
		return nil, errors.New("nope")
	}))
	require.NoError(t, x.Methods().Register("panics", func(context.Context, []json.RawMessage) ([]any, error) {
		panic("boom")
	}))

	tests := []struct {
		method  string
		message string
	}{
		{method: "fails", message: "nope"},
		{method: "panics", message: "rpc: method panics panicked"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := x.Call(context.Background(), tt.method, nil, "")
			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, "x", remote.ServerID)
			assert.Equal(t, tt.message, remote.Message)
		})
	}
}

func TestCluster_MethodOnPeerOnly(t *testing.T) {
	bus := &loopback{}
	x, _ := newNode(t, bus, "x", time.Second)
	y, _ := newNode(t, bus, "y", time.Second)
	newNode(t, bus, "z", time.Second)

	require.NoError(t, y.Methods().Register("api.rpcTestMethod", func(_ context.Context, args []json.RawMessage) ([]any, error) {
		a, err := Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return []any{a + "!"}, nil
	}))

	for i := 0; i < 20; i++ {
		resp, err := x.Call(context.Background(), "api.rpcTestMethod", []any{"hi"}, "")
		require.NoError(t, err)
		got, err := Arg[string](resp, 0)
		require.NoError(t, err)
		assert.Equal(t, "hi!", got)
	}
}

func TestCluster_UnknownMethodTimesOut(t *testing.T) {
	bus := &loopback{}
	x, xm := newNode(t, bus, "x", 50*time.Millisecond)
	newNode(t, bus, "y", 50*time.Millisecond)

	_, err := x.Call(context.Background(), "absent", nil, "")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, x.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(xm.RPCRequests.WithLabelValues("inbound", "skipped")))
}

func TestCluster_CallContextCancelForgets(t *testing.T) {
	bus := &loopback{}
	x, _ := newNode(t, bus, "x", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := x.Call(ctx, PingMethod, nil, "nobody-owns-this")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, x.Pending())
}

func TestCluster_CloseFailsPending(t *testing.T) {
	bus := &loopback{}
	x, _ := newNode(t, bus, "x", time.Minute)

	errCh := make(chan error, 1)
	_, err := x.Do(context.Background(), PingMethod, nil, "nobody", func(_ []json.RawMessage, err error) { errCh <- err })
	require.NoError(t, err)

	require.NoError(t, x.Close())
	assert.ErrorIs(t, <-errCh, ErrClosed)
	assert.Zero(t, x.Pending())

	_, err = x.Do(context.Background(), PingMethod, nil, "", func([]json.RawMessage, error) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMethods(t *testing.T) {
	ms := NewMethods()
	fn := func(context.Context, []json.RawMessage) ([]any, error) { return nil, nil }

	require.NoError(t, ms.Register("b", fn))
	require.NoError(t, ms.Register("a", fn))
	assert.ErrorIs(t, ms.Register("a", fn), ErrDuplicateMethod)
	assert.Error(t, ms.Register("", fn))
	assert.Equal(t, []string{"a", "b"}, ms.Names())

	_, ok := ms.Lookup("c")
	assert.False(t, ok)

	args := []json.RawMessage{json.RawMessage(`"id"`), json.RawMessage(`3`)}
	s, err := Arg[string](args, 0)
	require.NoError(t, err)
	assert.Equal(t, "id", s)
	n, err := Arg[int](args, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = Arg[string](args, 5)
	assert.Error(t, err)
	_, err = Arg[int](args, 0)
	assert.Error(t, err)
}
