package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/model"
	"golang.org/x/time/rate"
)

// Finish is queued after the last frame; the writer closes the transport when it reads it.
type Finish struct{}

// Session is the outbound side of one persistent connection: a bounded outbox
// drained by the transport's writer goroutine, plus the inbound rate limit.
type Session struct {
	Conn *model.Connection

	ctx         context.Context
	cancelFn    context.CancelFunc
	outbox      chan any
	sendTimeout time.Duration
	limiter     *rate.Limiter

	closeOnce    sync.Once // [PROTECTION]
	finishOnce   sync.Once
	droppedCount atomic.Uint64
}

func NewSession(ctx context.Context, conn *model.Connection, limits config.Limits) *Session {
	childCtx, cancel := context.WithCancel(ctx)

	size := limits.OutboxSize
	if size <= 0 {
		size = 64
	}
	timeout := limits.SendTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	var limiter *rate.Limiter
	if limits.MessagesPerSecond > 0 {
		burst := limits.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), burst)
	}

	return &Session{
		Conn:        conn,
		ctx:         childCtx,
		cancelFn:    cancel,
		outbox:      make(chan any, size),
		sendTimeout: timeout,
		limiter:     limiter,
	}
}

// Send queues payload, waiting up to the send timeout for room in the outbox.
func (s *Session) Send(payload any) error {
	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	// 1. [LIFECYCLE_GATE] Immediately abort if the underlying transport is already dead.
	case <-s.ctx.Done():
		return ErrNoSession

	// 2. [PRIMARY_DELIVERY] Wait up to the timeout for space, which smooths out transient jitter.
	case s.outbox <- payload:
		return nil

	// 3. [BACKPRESSURE_THRESHOLD] A persistently slow consumer loses the frame.
	case <-timer.C:
		s.droppedCount.Add(1)
		return ErrSendTimeout
	}
}

// Finish queues a last frame followed by the close marker. Later calls are no-ops.
func (s *Session) Finish(payload any) error {
	var err error
	s.finishOnce.Do(func() {
		if payload != nil {
			if err = s.Send(payload); err != nil {
				return
			}
		}
		err = s.Send(Finish{})
	})
	return err
}

func (s *Session) Recv() <-chan any { return s.outbox }

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Allow reports whether one more inbound message fits the rate limit.
func (s *Session) Allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func (s *Session) Dropped() uint64 { return s.droppedCount.Load() }

// Close stops the session. The outbox is never closed: late senders see Done instead.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancelFn)
}

// Sessions indexes the open sessions of one server by connection id.
type Sessions struct {
	mu sync.RWMutex
	m  map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

func (ss *Sessions) Add(s *Session) {
	ss.mu.Lock()
	ss.m[s.Conn.ID] = s
	ss.mu.Unlock()
}

func (ss *Sessions) Get(id string) (*Session, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.m[id]
	return s, ok
}

func (ss *Sessions) Remove(id string) {
	ss.mu.Lock()
	delete(ss.m, id)
	ss.mu.Unlock()
}

func (ss *Sessions) All() []*Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]*Session, 0, len(ss.m))
	for _, s := range ss.m {
		out = append(out, s)
	}
	return out
}

func (ss *Sessions) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.m)
}

// Send queues payload on the session of conn.
func (ss *Sessions) Send(conn *model.Connection, payload any) error {
	s, ok := ss.Get(conn.ID)
	if !ok {
		return ErrNoSession
	}
	return s.Send(payload)
}

// Goodbye queues the goodbye frame and the close marker on the session of conn.
func (ss *Sessions) Goodbye(conn *model.Connection, reason string) error {
	s, ok := ss.Get(conn.ID)
	if !ok {
		return ErrNoSession
	}
	return s.Finish(model.GoodbyePayload{Context: "api", Reason: reason, Code: model.GoodbyeCode(reason)})
}
