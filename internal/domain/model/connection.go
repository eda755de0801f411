package model

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionSpec is what a transport knows about a client at connect time.
type ConnectionSpec struct {
	ID         string
	Type       string
	RemoteIP   string
	RemotePort int
	Locale     string
	Attributes map[string]string
}

// ConnectionState is the cleaned, serializable view of a connection.
// It is what crosses the cluster bus when a peer asks for a connection it does not own.
type ConnectionState struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	RemoteIP       string            `json:"remoteIP"`
	RemotePort     int               `json:"remotePort"`
	ConnectedAt    time.Time         `json:"connectedAt"`
	Locale         string            `json:"locale,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Params         map[string]any    `json:"params"`
	Rooms          []string          `json:"rooms"`
	ListenRooms    []string          `json:"listenRooms,omitempty"`
	PendingActions int               `json:"pendingActions"`
	TotalActions   int               `json:"totalActions"`
	MessageCount   int               `json:"messageCount"`
}

// Connection is the transport-independent state of one client session.
//
// The identity fields are immutable after construction. Everything else is
// guarded by mu: a live connection is touched at once by its transport
// goroutine (verbs), by the processor (counters) and by the chat service (rooms).
type Connection struct {
	ID          string
	Type        string
	RemoteIP    string
	RemotePort  int
	ConnectedAt time.Time

	mu             sync.RWMutex
	locale         string
	attributes     map[string]string
	params         map[string]any
	err            error
	rooms          []string
	listenRooms    []string
	pendingActions int
	totalActions   int
	messageCount   int

	// [BACK_REFERENCE] set only on snapshots; nil on live connections.
	original *Connection
}

// NewConnection builds a live connection, allocating an id when the transport did not provide one.
func NewConnection(spec ConnectionSpec) *Connection {
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	attrs := make(map[string]string, len(spec.Attributes))
	maps.Copy(attrs, spec.Attributes)

	return &Connection{
		ID:          id,
		Type:        spec.Type,
		RemoteIP:    spec.RemoteIP,
		RemotePort:  spec.RemotePort,
		ConnectedAt: time.Now(),
		locale:      spec.Locale,
		attributes:  attrs,
		params:      make(map[string]any),
		rooms:       []string{},
	}
}

// Snapshot returns a point-in-time copy of the connection tagged with a
// back-reference to the live value. Maps and slices are copied so later verbs
// on the live connection cannot leak into an in-flight action.
func (c *Connection) Snapshot() *Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Connection{
		ID:             c.ID,
		Type:           c.Type,
		RemoteIP:       c.RemoteIP,
		RemotePort:     c.RemotePort,
		ConnectedAt:    c.ConnectedAt,
		locale:         c.locale,
		attributes:     maps.Clone(c.attributes),
		params:         maps.Clone(c.params),
		err:            c.err,
		rooms:          slices.Clone(c.rooms),
		listenRooms:    slices.Clone(c.listenRooms),
		pendingActions: c.pendingActions,
		totalActions:   c.totalActions,
		messageCount:   c.messageCount,
		original:       c.root(),
	}
}

// Original returns the live connection a snapshot was taken from, or c itself.
func (c *Connection) Original() *Connection { return c.root() }

// IsSnapshot reports whether c is a per-invocation copy.
func (c *Connection) IsSnapshot() bool { return c.original != nil }

func (c *Connection) root() *Connection {
	if c.original != nil {
		return c.original
	}
	return c
}

// --- params ---

func (c *Connection) Params() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.params)
}

func (c *Connection) Param(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.params[key]
	return v, ok
}

func (c *Connection) SetParam(key string, value any) {
	c.mu.Lock()
	c.params[key] = value
	c.mu.Unlock()
}

// SetParams replaces the whole param set.
func (c *Connection) SetParams(params map[string]any) {
	next := make(map[string]any, len(params))
	maps.Copy(next, params)

	c.mu.Lock()
	c.params = next
	c.mu.Unlock()
}

func (c *Connection) DeleteParam(key string) {
	c.mu.Lock()
	delete(c.params, key)
	c.mu.Unlock()
}

func (c *Connection) ClearParams() {
	c.mu.Lock()
	c.params = make(map[string]any)
	c.mu.Unlock()
}

// --- error marker ---

func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// SetErr marks the connection as failed at the transport level (bad frame, bad JSON).
// The next dispatched action completes with that error instead of running.
func (c *Connection) SetErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// --- locale & attributes ---

func (c *Connection) Locale() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locale
}

func (c *Connection) SetLocale(locale string) {
	c.mu.Lock()
	c.locale = locale
	c.mu.Unlock()
}

func (c *Connection) Attribute(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attributes[key]
	return v, ok
}

func (c *Connection) SetAttribute(key, value string) {
	c.mu.Lock()
	c.attributes[key] = value
	c.mu.Unlock()
}

// --- rooms ---

func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.rooms)
}

func (c *Connection) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.rooms, room)
}

// JoinRoom records membership; false if already a member.
func (c *Connection) JoinRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.rooms, room) {
		return false
	}
	c.rooms = append(c.rooms, room)
	return true
}

// LeaveRoom drops membership; false if it was not a member.
func (c *Connection) LeaveRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.Index(c.rooms, room)
	if i < 0 {
		return false
	}
	c.rooms = slices.Delete(c.rooms, i, i+1)
	return true
}

// Listen subscribes the connection to a room's broadcasts without joining it.
func (c *Connection) Listen(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.listenRooms, room) {
		return false
	}
	c.listenRooms = append(c.listenRooms, room)
	return true
}

// Unlisten drops a listen subscription; false if there was none.
func (c *Connection) Unlisten(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.Index(c.listenRooms, room)
	if i < 0 {
		return false
	}
	c.listenRooms = slices.Delete(c.listenRooms, i, i+1)
	return true
}

// Hears reports whether broadcasts to room reach this connection.
func (c *Connection) Hears(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.rooms, room) || slices.Contains(c.listenRooms, room)
}

// --- counters ---

// BeginAction bumps the lifetime and in-flight counters and returns the new in-flight count.
func (c *Connection) BeginAction() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalActions++
	c.pendingActions++
	return c.pendingActions
}

// EndAction releases one in-flight slot.
func (c *Connection) EndAction() {
	c.mu.Lock()
	if c.pendingActions > 0 {
		c.pendingActions--
	}
	c.mu.Unlock()
}

func (c *Connection) PendingActions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingActions
}

func (c *Connection) TotalActions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalActions
}

// NextMessageID advances the per-transport message sequence.
func (c *Connection) NextMessageID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCount++
	return c.messageCount
}

func (c *Connection) MessageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messageCount
}

// State returns the cleaned, serializable view.
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnectionState{
		ID:             c.ID,
		Type:           c.Type,
		RemoteIP:       c.RemoteIP,
		RemotePort:     c.RemotePort,
		ConnectedAt:    c.ConnectedAt,
		Locale:         c.locale,
		Attributes:     maps.Clone(c.attributes),
		Params:         maps.Clone(c.params),
		Rooms:          slices.Clone(c.rooms),
		ListenRooms:    slices.Clone(c.listenRooms),
		PendingActions: c.pendingActions,
		TotalActions:   c.totalActions,
		MessageCount:   c.messageCount,
	}
}
