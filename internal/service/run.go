package service

import (
	"context"
	"maps"

	"github.com/webitel/action-gateway/internal/domain/model"
)

// Run dispatches on e and blocks until the action completes or ctx ends.
func Run(ctx context.Context, e Executor, conn *model.Connection) *Result {
	ch := make(chan *Result, 1)
	e.Process(ctx, conn, func(res *Result) { ch <- res })

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return &Result{Connection: conn, Response: map[string]any{}, Err: ctx.Err()}
	}
}

// RunTask executes actionName on a synthetic task connection. This is the entry point of
// external task engines: they reuse the same admission, validation and completion path.
func RunTask(ctx context.Context, e Executor, actionName string, params map[string]any) *Result {
	conn := model.NewConnection(model.ConnectionSpec{
		Type:     ConnectionTypeTask,
		RemoteIP: "0.0.0.0",
	})

	merged := maps.Clone(params)
	if merged == nil {
		merged = make(map[string]any)
	}
	merged["action"] = actionName
	conn.SetParams(merged)

	return Run(ctx, e, conn)
}
