package chat

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set ACTION_GATEWAY_TEST_REDIS=host:port to run against a live server.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("ACTION_GATEWAY_TEST_REDIS")
	if addr == "" {
		t.Skip("ACTION_GATEWAY_TEST_REDIS not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	s := NewRedisStore(client, "test:"+uuid.NewString())
	room := "r"

	assert.ErrorIs(t, s.Add(ctx, room, "1"), ErrRoomNotFound)
	require.NoError(t, s.Create(ctx, room))
	assert.ErrorIs(t, s.Create(ctx, room), ErrRoomExists)

	require.NoError(t, s.Add(ctx, room, "1"))
	assert.ErrorIs(t, s.Add(ctx, room, "1"), ErrAlreadyMember)
	require.NoError(t, s.Add(ctx, room, "2"))

	members, err := s.Members(ctx, room)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, members)

	assert.ErrorIs(t, s.Remove(ctx, room, "3"), ErrNotMember)
	require.NoError(t, s.Remove(ctx, room, "1"))

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{room}, rooms)

	require.NoError(t, s.Destroy(ctx, room))
	assert.ErrorIs(t, s.Destroy(ctx, room), ErrRoomNotFound)
}
