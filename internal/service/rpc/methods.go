// Package rpc implements cluster calls over the shared broadcast channel.
//
// Every node publishes requests and responses on one channel and every node
// receives all of them. Requests scoped to a connection id are executed only by
// the node holding that connection; responses are matched by request id and
// only the first one is delivered.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrTimeout         = errors.New("RPC Timeout")
	ErrUnknownMethod   = errors.New("rpc: unknown method")
	ErrClosed          = errors.New("rpc: cluster closed")
	ErrDuplicateMethod = errors.New("rpc: method already registered")
)

// Method is a callable reachable by name from any node.
// Return values are encoded as JSON, one element per return value.
type Method func(ctx context.Context, args []json.RawMessage) ([]any, error)

// Methods maps names to callables. Only registered names can be invoked remotely.
type Methods struct {
	mu sync.RWMutex
	m  map[string]Method
}

func NewMethods() *Methods {
	return &Methods{m: make(map[string]Method)}
}

func (ms *Methods) Register(name string, fn Method) error {
	if name == "" || fn == nil {
		return fmt.Errorf("rpc: invalid method registration %q", name)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.m[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
	}
	ms.m[name] = fn
	return nil
}

func (ms *Methods) Lookup(name string) (Method, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	fn, ok := ms.m[name]
	return fn, ok
}

// Names lists registered methods in lexical order.
func (ms *Methods) Names() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	names := make([]string, 0, len(ms.m))
	for name := range ms.m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Arg decodes args[i] into T.
func Arg[T any](args []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(args) {
		return v, fmt.Errorf("rpc: missing argument %d", i)
	}
	if err := json.Unmarshal(args[i], &v); err != nil {
		return v, fmt.Errorf("rpc: argument %d: %w", i, err)
	}
	return v, nil
}
