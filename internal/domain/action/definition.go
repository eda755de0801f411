// Package action holds action definitions and the versioned registry that resolves them.
package action

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/webitel/action-gateway/internal/domain/model"
)

// DefaultVersion is used when a definition does not declare one.
const DefaultVersion = 1.0

// Next continues the invocation. Action bodies and middleware must call it exactly once.
type Next func(err error)

// RunFunc is an action body. It may return before calling next and finish asynchronously.
type RunFunc func(ctx context.Context, data *Data, next Next)

// Hook is a pre- or post-processor. Setting data.ToProcess to false in a
// pre-processor stops the action without an error; passing an error to next
// stops it with that error.
type Hook func(ctx context.Context, data *Data, next Next)

type Inputs struct {
	Required []string
	Optional []string
}

// Definition is the contract of one action version.
type Definition struct {
	Name                   string
	Description            string
	Version                float64
	Inputs                 Inputs
	OutputExample          map[string]any
	BlockedConnectionTypes []string
	// Middleware lists non-global middleware names applied to this action only.
	Middleware []string
	Run        RunFunc
}

// Blocks reports whether the action refuses connections of transport type connType.
func (d *Definition) Blocks(connType string) bool {
	return slices.Contains(d.BlockedConnectionTypes, connType)
}

// Declares reports whether key is one of the declared inputs.
func (d *Definition) Declares(key string) bool {
	return slices.Contains(d.Inputs.Required, key) || slices.Contains(d.Inputs.Optional, key)
}

func (d *Definition) clone() *Definition {
	c := *d
	c.Inputs = Inputs{
		Required: slices.Clone(d.Inputs.Required),
		Optional: slices.Clone(d.Inputs.Optional),
	}
	c.OutputExample = maps.Clone(d.OutputExample)
	c.BlockedConnectionTypes = slices.Clone(d.BlockedConnectionTypes)
	c.Middleware = slices.Clone(d.Middleware)
	if c.Version <= 0 {
		c.Version = DefaultVersion
	}
	return &c
}

// Data is the per-invocation state handed to middleware and the action body.
type Data struct {
	// Connection is the snapshot taken at dispatch time, never the live connection.
	Connection *model.Connection
	Action     *Definition
	ActionName string
	Version    float64
	Params     map[string]any
	Response   map[string]any
	MessageID  int
	StartedAt  time.Time

	ToProcess bool
	ToRender  bool

	fault func(recovered any, stack []byte)
}

// NewData prepares invocation state for conn. fault receives panics raised in goroutines started with Go.
func NewData(conn *model.Connection, messageID int, fault func(recovered any, stack []byte)) *Data {
	return &Data{
		Connection: conn,
		Params:     conn.Params(),
		Response:   make(map[string]any),
		MessageID:  messageID,
		StartedAt:  time.Now(),
		ToProcess:  true,
		ToRender:   true,
		fault:      fault,
	}
}

// Go runs fn on a new goroutine inside the invocation's fault boundary:
// a panic there completes the action with server_error instead of killing the process.
func (d *Data) Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil && d.fault != nil {
				d.fault(r, debug.Stack())
			}
		}()
		fn()
	}()
}

// String returns the param as text, formatting non-string values.
func (d *Data) String(key string) string {
	v, ok := d.Params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Present reports whether a param was supplied with a non-empty value.
func Present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

// ParseVersion reads an apiVersion param sent as a number or a string.
func ParseVersion(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, t > 0
	case float32:
		return float64(t), t > 0
	case int:
		return float64(t), t > 0
	case int64:
		return float64(t), t > 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || f <= 0 {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
