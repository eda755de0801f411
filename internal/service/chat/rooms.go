package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/domain/registry"
	"github.com/webitel/action-gateway/internal/metrics"
	"github.com/webitel/action-gateway/internal/service/rpc"
)

const (
	// EvictMethod makes every node drop a destroyed room from its local connections.
	EvictMethod = "chat.evictRoom"

	// ServerSender is the From of messages the server itself sends.
	ServerSender = "server"

	contextUser = "user"
)

const (
	joinMessage    = "I have entered the room"
	leaveMessage   = "I have left the room"
	destroyMessage = "this room has been deleted"
)

// Publisher puts a payload on a bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Caller broadcasts a cluster call.
type Caller interface {
	Do(ctx context.Context, method string, args []any, connectionID string, cb rpc.Callback) (string, error)
}

type Options struct {
	ServerID     string
	Token        string
	Channel      string
	DefaultRooms []string
}

// Status describes one room.
type Status struct {
	Room         string   `json:"room"`
	MembersCount int      `json:"membersCount"`
	Members      []string `json:"members"`
}

// Rooms coordinates membership in the store with the rooms recorded on live connections.
type Rooms struct {
	opts    Options
	store   Store
	conns   *registry.Registry
	pub     Publisher
	cluster Caller
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewRooms(opts Options, store Store, conns *registry.Registry, pub Publisher, cluster Caller, m *metrics.Metrics, logger *slog.Logger) *Rooms {
	return &Rooms{
		opts:    opts,
		store:   store,
		conns:   conns,
		pub:     pub,
		cluster: cluster,
		metrics: m,
		logger:  logger.With("component", "chat"),
	}
}

// Start creates the configured default rooms.
func (r *Rooms) Start(ctx context.Context) error {
	for _, room := range r.opts.DefaultRooms {
		if err := r.store.Create(ctx, room); err != nil && !errors.Is(err, ErrRoomExists) {
			return fmt.Errorf("chat: default room %s: %w", room, err)
		}
	}
	return nil
}

func (r *Rooms) CreateRoom(ctx context.Context, room string) error {
	if room == "" {
		return errors.New("chat: room name is empty")
	}
	if err := r.store.Create(ctx, room); err != nil {
		return err
	}
	r.logger.Info("ROOM_CREATED", "room", room)
	return nil
}

// DestroyRoom announces the deletion, removes the room and evicts its members on every node.
func (r *Rooms) DestroyRoom(ctx context.Context, room string) error {
	if err := r.Broadcast(ctx, ServerSender, room, destroyMessage, nil); err != nil {
		return err
	}
	if err := r.store.Destroy(ctx, room); err != nil {
		return err
	}
	if _, err := r.cluster.Do(ctx, EvictMethod, []any{room}, "", nil); err != nil {
		return fmt.Errorf("chat: evict %s: %w", room, err)
	}
	r.logger.Info("ROOM_DESTROYED", "room", room)
	return nil
}

// AddMember joins conn to room and announces it to the other members.
func (r *Rooms) AddMember(ctx context.Context, conn *model.Connection, room string) error {
	live := conn.Original()
	if err := r.store.Add(ctx, room, live.ID); err != nil {
		return err
	}
	live.JoinRoom(room)
	r.announce(ctx, live.ID, room, joinMessage)
	return nil
}

// RemoveMember drops conn from room. Removing a non-member is a no-op.
func (r *Rooms) RemoveMember(ctx context.Context, conn *model.Connection, room string) error {
	live := conn.Original()
	err := r.store.Remove(ctx, room, live.ID)
	switch {
	case errors.Is(err, ErrNotMember):
		live.LeaveRoom(room)
		return nil
	case err != nil:
		return err
	}

	live.LeaveRoom(room)
	r.announce(ctx, live.ID, room, leaveMessage)
	return nil
}

// LeaveAll removes conn from every room it joined. It is the registry destroy hook.
func (r *Rooms) LeaveAll(ctx context.Context, conn *model.Connection) {
	for _, room := range conn.Rooms() {
		if err := r.RemoveMember(ctx, conn, room); err != nil && !errors.Is(err, ErrRoomNotFound) {
			r.logger.Warn("ROOM_LEAVE_FAILED", "room", room, "connection_id", conn.ID, "err", err)
		}
		conn.LeaveRoom(room)
	}
}

// Listen makes conn receive broadcasts to room without joining it.
func (r *Rooms) Listen(ctx context.Context, conn *model.Connection, room string) error {
	ok, err := r.store.Exists(ctx, room)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomNotFound
	}
	conn.Original().Listen(room)
	return nil
}

// Say broadcasts on behalf of a member of room.
func (r *Rooms) Say(ctx context.Context, conn *model.Connection, room string, message any) error {
	if !conn.Original().InRoom(room) {
		return ErrNotMember
	}
	return r.Broadcast(ctx, conn.ID, room, message, nil)
}

// Broadcast publishes message to room on the cluster channel. Every node, this one
// included, fans it out to its own connections when the message comes back from the bus.
func (r *Rooms) Broadcast(ctx context.Context, from, room string, message any, match *model.ChatMatch) error {
	ok, err := r.store.Exists(ctx, room)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomNotFound
	}

	raw, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("chat: encode message: %w", err)
	}

	msg := model.ChatMessage{
		MessageType: model.MessageChat,
		ServerID:    r.opts.ServerID,
		ServerToken: r.opts.Token,
		Room:        room,
		From:        from,
		Message:     raw,
		SentAt:      time.Now().UnixMilli(),
		Match:       match,
	}
	if err := r.pub.Publish(ctx, r.opts.Channel, msg); err != nil {
		return fmt.Errorf("chat: publish to %s: %w", room, err)
	}
	r.metrics.ChatMessages.WithLabelValues("published").Inc()
	return nil
}

// HandleMessage delivers a broadcast received from the bus to local connections.
// It never publishes, so a broadcast crosses the bus exactly once.
func (r *Rooms) HandleMessage(ctx context.Context, msg model.ChatMessage) {
	delivery := model.ChatDelivery{
		Context: contextUser,
		From:    msg.From,
		Room:    msg.Room,
		Message: msg.Message,
		SentAt:  msg.SentAt,
	}

	var delivered int
	r.conns.Each(func(c *model.Connection) bool {
		if c.ID == msg.From || !c.Hears(msg.Room) {
			return true
		}
		if msg.Match != nil {
			if v, ok := c.Attribute(msg.Match.Key); !ok || v != msg.Match.Value {
				return true
			}
		}
		if err := r.conns.Deliver(ctx, c, delivery); err != nil {
			r.logger.Debug("CHAT_DELIVERY_FAILED", "room", msg.Room, "connection_id", c.ID, "err", err)
			return true
		}
		delivered++
		return true
	})

	r.metrics.ChatMessages.WithLabelValues("delivered").Add(float64(delivered))
}

func (r *Rooms) Members(ctx context.Context, room string) ([]string, error) {
	return r.store.Members(ctx, room)
}

func (r *Rooms) RoomStatus(ctx context.Context, room string) (Status, error) {
	members, err := r.store.Members(ctx, room)
	if err != nil {
		return Status{}, err
	}
	return Status{Room: room, MembersCount: len(members), Members: members}, nil
}

func (r *Rooms) List(ctx context.Context) ([]string, error) {
	return r.store.Rooms(ctx)
}

// RegisterMethods exposes the room cluster methods on ms.
func (r *Rooms) RegisterMethods(ms *rpc.Methods) error {
	return ms.Register(EvictMethod, r.evict)
}

// evict is the EvictMethod handler: it clears room from local members and listeners.
func (r *Rooms) evict(_ context.Context, args []json.RawMessage) ([]any, error) {
	room, err := rpc.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	var evicted int
	r.conns.Each(func(c *model.Connection) bool {
		left := c.LeaveRoom(room)
		if c.Unlisten(room) || left {
			evicted++
		}
		return true
	})
	return []any{evicted}, nil
}

func (r *Rooms) announce(ctx context.Context, from, room, text string) {
	if err := r.Broadcast(ctx, from, room, text, nil); err != nil {
		r.logger.Warn("ROOM_ANNOUNCE_FAILED", "room", room, "connection_id", from, "err", err)
	}
}
