package transport

import (
	"context"
	"maps"

	"github.com/webitel/action-gateway/internal/service"
)

// Dispatch runs an action for a persistent connection and queues the rendered
// response on its session. params are laid over the connection's sticky params
// for this invocation only: Process snapshots synchronously, so restoring right after is safe.
func (c *Core) Dispatch(ctx context.Context, sess *Session, params map[string]any) {
	conn := sess.Conn
	conn.NextMessageID()

	var sticky map[string]any
	if len(params) > 0 {
		sticky = conn.Params()
		merged := conn.Params()
		maps.Copy(merged, params)
		conn.SetParams(merged)
	}

	c.ProcessAction(ctx, conn, func(res *service.Result) {
		if !res.ToRender {
			return
		}
		if err := sess.Send(ActionFrame(res)); err != nil {
			c.logger.Debug("RESPONSE_DROPPED", "connection_id", conn.ID, "message_id", res.MessageID, "err", err)
		}
	})

	if sticky != nil {
		conn.SetParams(sticky)
	}
}
