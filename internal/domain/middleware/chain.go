// Package middleware keeps priority-ordered hook lists.
//
// Entries run in strictly ascending priority; entries sharing a priority run in
// the order they were added. The list is kept sorted on insertion, so a
// snapshot is always ready to execute.
package middleware

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var (
	ErrEmptyName     = errors.New("middleware: empty name")
	ErrDuplicateName = errors.New("middleware: duplicate name")
)

// Entry is one registered hook.
type Entry[T any] struct {
	Name     string
	Priority int
	Handler  T
}

// Chain is a concurrency-safe, sorted list of hooks.
type Chain[T any] struct {
	mu      sync.RWMutex
	entries []Entry[T]
}

func NewChain[T any]() *Chain[T] {
	return &Chain[T]{}
}

// Add inserts h after every entry whose priority is lower or equal.
func (c *Chain[T]) Add(name string, priority int, h T) error {
	if name == "" {
		return ErrEmptyName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	}

	// [STABLE_INSERT] first index with a strictly greater priority
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].Priority > priority })
	c.entries = slices.Insert(c.entries, i, Entry[T]{Name: name, Priority: priority, Handler: h})
	return nil
}

// Remove drops the named entry; false if it was not registered.
func (c *Chain[T]) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.IndexFunc(c.entries, func(e Entry[T]) bool { return e.Name == name })
	if i < 0 {
		return false
	}
	c.entries = slices.Delete(c.entries, i, i+1)
	return true
}

// Entries returns the execution order as an independent slice.
func (c *Chain[T]) Entries() []Entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
