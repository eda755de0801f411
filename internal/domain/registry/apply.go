package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/service/rpc"
)

// ApplyMethod is the cluster method that runs an apply on the owning node.
const ApplyMethod = "connections.apply"

// Local methods reachable through Apply.
const (
	ApplyState        = ""
	ApplySendMessage  = "sendMessage"
	ApplyDestroy      = "destroy"
	ApplySetAttribute = "setAttribute"
)

var (
	ErrNoCaller           = errors.New("registry: cluster calls are not configured")
	ErrUnknownApplyMethod = errors.New("registry: unknown apply method")
)

// Caller performs a cluster call scoped to one connection.
type Caller interface {
	Call(ctx context.Context, method string, args []any, connectionID string) ([]json.RawMessage, error)
}

// Apply runs method against connection id wherever it lives in the cluster and
// returns the first encoded result. Only the owning node executes it; if no node
// owns id the call fails with rpc.ErrTimeout.
func (r *Registry) Apply(ctx context.Context, id, method string, args ...any) (json.RawMessage, error) {
	if r.caller == nil {
		return nil, ErrNoCaller
	}

	callArgs := append([]any{id, method}, args...)
	resp, err := r.caller.Call(ctx, ApplyMethod, callArgs, id)
	if err != nil {
		return nil, fmt.Errorf("registry: apply %q on %s: %w", method, id, err)
	}
	if len(resp) == 0 {
		return nil, nil
	}
	return resp[0], nil
}

// State fetches the cleaned state of connection id from its owner.
func (r *Registry) State(ctx context.Context, id string) (model.ConnectionState, error) {
	var state model.ConnectionState
	raw, err := r.Apply(ctx, id, ApplyState)
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("registry: decode state of %s: %w", id, err)
	}
	return state, nil
}

// HandleApply is the cluster side of Apply. Its signature matches rpc.Method.
func (r *Registry) HandleApply(ctx context.Context, args []json.RawMessage) ([]any, error) {
	id, err := rpc.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	method, err := rpc.Arg[string](args, 1)
	if err != nil {
		return nil, err
	}

	conn, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	return r.applyLocal(ctx, conn, method, args[2:])
}

func (r *Registry) applyLocal(ctx context.Context, conn *model.Connection, method string, args []json.RawMessage) ([]any, error) {
	switch method {
	case ApplyState:

	case ApplySendMessage:
		if len(args) == 0 {
			return nil, fmt.Errorf("registry: %s needs a message", method)
		}
		if err := r.Deliver(ctx, conn, args[0]); err != nil {
			return nil, err
		}

	case ApplyDestroy:
		state := conn.State()
		if s := r.currentSender(); s != nil {
			if err := s.Goodbye(ctx, conn, model.ReasonDestroyed); err != nil {
				r.logger.Debug("GOODBYE_FAILED", "connection_id", conn.ID, "err", err)
			}
		}
		r.Destroy(ctx, conn.ID)
		return []any{state}, nil

	case ApplySetAttribute:
		key, err := rpc.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		value, err := rpc.Arg[string](args, 1)
		if err != nil {
			return nil, err
		}
		conn.SetAttribute(key, value)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownApplyMethod, method)
	}

	return []any{conn.State()}, nil
}
