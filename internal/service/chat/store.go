// Package chat implements rooms: membership, broadcast across the cluster and local fan-out.
package chat

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	ErrAlreadyMember = errors.New("chat: connection already a member of that room")
	ErrNotMember     = errors.New("chat: connection not a member of that room")
	ErrRoomNotFound  = errors.New("chat: room does not exist")
	ErrRoomExists    = errors.New("chat: room exists")
)

// Store persists rooms and their member ids.
type Store interface {
	Create(ctx context.Context, room string) error
	Destroy(ctx context.Context, room string) error
	Exists(ctx context.Context, room string) (bool, error)
	Add(ctx context.Context, room, connectionID string) error
	Remove(ctx context.Context, room, connectionID string) error
	Members(ctx context.Context, room string) ([]string, error)
	Rooms(ctx context.Context) ([]string, error)
}

// MemoryStore keeps rooms in process. Members are listed in join order.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]string)}
}

func (s *MemoryStore) Create(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; ok {
		return ErrRoomExists
	}
	s.rooms[room] = []string{}
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, room)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, room string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok, nil
}

func (s *MemoryStore) Add(_ context.Context, room, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotFound
	}
	if slices.Contains(members, id) {
		return ErrAlreadyMember
	}
	s.rooms[room] = append(members, id)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, room, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotFound
	}
	i := slices.Index(members, id)
	if i < 0 {
		return ErrNotMember
	}
	s.rooms[room] = slices.Delete(members, i, i+1)
	return nil
}

func (s *MemoryStore) Members(_ context.Context, room string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.rooms[room]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return slices.Clone(members), nil
}

func (s *MemoryStore) Rooms(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	return rooms, nil
}
