package chat

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "action-gateway:chat"

// RedisStore shares rooms across the cluster. The room set marks existence
// (an empty hash does not exist in redis); each room's hash maps member id to join time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) roomsKey() string { return s.prefix + ":rooms" }
func (s *RedisStore) membersKey(room string) string { return s.prefix + ":members:" + room }

func (s *RedisStore) Create(ctx context.Context, room string) error {
	added, err := s.client.SAdd(ctx, s.roomsKey(), room).Result()
	if err != nil {
		return fmt.Errorf("chat: create %s: %w", room, err)
	}
	if added == 0 {
		return ErrRoomExists
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context, room string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.SRem(ctx, s.roomsKey(), room)
		p.Del(ctx, s.membersKey(room))
		return nil
	})
	if err != nil {
		return fmt.Errorf("chat: destroy %s: %w", room, err)
	}
	if removed.Val() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, room string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.roomsKey(), room).Result()
	if err != nil {
		return false, fmt.Errorf("chat: exists %s: %w", room, err)
	}
	return ok, nil
}

func (s *RedisStore) Add(ctx context.Context, room, id string) error {
	if err := s.mustExist(ctx, room); err != nil {
		return err
	}
	set, err := s.client.HSetNX(ctx, s.membersKey(room), id, strconv.FormatInt(time.Now().UnixMilli(), 10)).Result()
	if err != nil {
		return fmt.Errorf("chat: add %s to %s: %w", id, room, err)
	}
	if !set {
		return ErrAlreadyMember
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, room, id string) error {
	if err := s.mustExist(ctx, room); err != nil {
		return err
	}
	n, err := s.client.HDel(ctx, s.membersKey(room), id).Result()
	if err != nil {
		return fmt.Errorf("chat: remove %s from %s: %w", id, room, err)
	}
	if n == 0 {
		return ErrNotMember
	}
	return nil
}

// Members lists ids ordered by join time.
func (s *RedisStore) Members(ctx context.Context, room string) ([]string, error) {
	if err := s.mustExist(ctx, room); err != nil {
		return nil, err
	}
	joined, err := s.client.HGetAll(ctx, s.membersKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("chat: members of %s: %w", room, err)
	}

	ids := make([]string, 0, len(joined))
	for id := range joined {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		ta, _ := strconv.ParseInt(joined[a], 10, 64)
		tb, _ := strconv.ParseInt(joined[b], 10, 64)
		if c := cmp.Compare(ta, tb); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids, nil
}

func (s *RedisStore) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := s.client.SMembers(ctx, s.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("chat: list rooms: %w", err)
	}
	slices.Sort(rooms)
	return rooms, nil
}

func (s *RedisStore) mustExist(ctx context.Context, room string) error {
	ok, err := s.Exists(ctx, room)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomNotFound
	}
	return nil
}
