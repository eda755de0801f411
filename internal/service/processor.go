package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/domain/action"
	"github.com/webitel/action-gateway/internal/domain/middleware"
	"github.com/webitel/action-gateway/internal/domain/model"
)

// ConnectionTypeTask is the transport type of connections built for background tasks.
const ConnectionTypeTask = "task"

var ErrInvalidMiddleware = errors.New("processor: middleware needs a name and a pre or post hook")

// CompleteFunc receives the single completion of one invocation.
type CompleteFunc func(res *Result)

// Result is what a transport renders after an action completes.
type Result struct {
	// Connection is the snapshot the action ran against.
	Connection *model.Connection
	// Action is the resolved action name, empty if resolution failed.
	Action    string
	Response  map[string]any
	ToRender  bool
	MessageID int
	Err       error
	Duration  time.Duration
}

// Executor runs actions against connections.
type Executor interface {
	Process(ctx context.Context, conn *model.Connection, done CompleteFunc)
}

// Middleware is a named pre/post processor pair.
// Priority 0 takes general.default_middleware_priority.
type Middleware struct {
	Name     string
	Priority int
	Global   bool
	Pre      action.Hook
	Post     action.Hook
}

type scopedHook struct {
	global bool
	run    action.Hook
}

// Processor executes exactly one action per Process call and always completes exactly once.
type Processor struct {
	actions   *action.Registry
	runtime   *config.Runtime
	localizer *Localizer
	reporter  Reporter
	logger    *slog.Logger

	pre  *middleware.Chain[scopedHook]
	post *middleware.Chain[scopedHook]

	running  atomic.Bool
	inflight tracker
}

func NewProcessor(
	actions *action.Registry,
	runtime *config.Runtime,
	localizer *Localizer,
	reporter Reporter,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		actions:   actions,
		runtime:   runtime,
		localizer: localizer,
		reporter:  reporter,
		logger:    logger,
		pre:       middleware.NewChain[scopedHook](),
		post:      middleware.NewChain[scopedHook](),
	}
}

// Start lets new actions in.
func (p *Processor) Start() {
	p.running.Store(true)
	p.logger.Info("PROCESSOR_STARTED")
}

// Stop rejects every new action with server_shutting_down. In-flight actions keep running.
func (p *Processor) Stop() {
	p.running.Store(false)
	p.logger.Info("PROCESSOR_STOPPED", "in_flight", p.inflight.count())
}

func (p *Processor) Running() bool {
	return p.running.Load()
}

// Drain blocks until no action is in flight or ctx ends.
func (p *Processor) Drain(ctx context.Context) error {
	select {
	case <-p.inflight.wait():
		return nil
	case <-ctx.Done():
		p.logger.Warn("PROCESSOR_DRAIN_ABANDONED", "in_flight", p.inflight.count())
		return ctx.Err()
	}
}

// AddMiddleware registers m on the pre and/or post stage.
func (p *Processor) AddMiddleware(m Middleware) error {
	if m.Name == "" || (m.Pre == nil && m.Post == nil) {
		return ErrInvalidMiddleware
	}
	if p.hasMiddleware(m.Name) {
		return fmt.Errorf("%w: %s", middleware.ErrDuplicateName, m.Name)
	}

	priority := m.Priority
	if priority == 0 {
		priority = p.runtime.General().DefaultMiddlewarePriority
	}

	if m.Pre != nil {
		if err := p.pre.Add(m.Name, priority, scopedHook{global: m.Global, run: m.Pre}); err != nil {
			return err
		}
	}
	if m.Post != nil {
		if err := p.post.Add(m.Name, priority, scopedHook{global: m.Global, run: m.Post}); err != nil {
			p.pre.Remove(m.Name)
			return err
		}
	}

	p.logger.Debug("MIDDLEWARE_REGISTERED", "name", m.Name, "priority", priority, "global", m.Global)
	return nil
}

func (p *Processor) hasMiddleware(name string) bool {
	for _, chain := range []*middleware.Chain[scopedHook]{p.pre, p.post} {
		for _, e := range chain.Entries() {
			if e.Name == name {
				return true
			}
		}
	}
	return false
}

// Process dispatches the action named by the connection's params.
// Admission and resolution run on the calling goroutine; middleware and the
// action body run on their own goroutine.
func (p *Processor) Process(ctx context.Context, conn *model.Connection, done CompleteFunc) {
	live := conn.Original()
	snap := live.Snapshot()
	pending := live.BeginAction()
	p.inflight.add()

	inv := &invocation{
		p:        p,
		ctx:      ctx,
		live:     live,
		done:     done,
		finished: make(chan struct{}),
	}
	inv.data = action.NewData(snap, snap.MessageCount(), inv.fault)
	inv.data.ActionName = inv.data.String("action")

	general := p.runtime.General()
	name := inv.data.ActionName

	// [ADMISSION]
	if !p.running.Load() {
		inv.complete(model.NewActionError(model.KindServerShuttingDown, name))
		return
	}
	if pending > general.SimultaneousActions {
		inv.complete(model.NewActionError(model.KindTooManyRequests, name))
		return
	}
	if err := snap.Err(); err != nil {
		inv.passThrough = true
		inv.complete(err)
		return
	}

	// [RESOLUTION]
	version, _ := action.ParseVersion(inv.data.Params["apiVersion"])
	def, ok := p.actions.Resolve(name, version)
	if !ok {
		inv.complete(model.NewActionError(model.KindUnknownAction, name))
		return
	}
	if def.Blocks(snap.Type) {
		inv.complete(&model.ActionError{
			Kind:           model.KindUnsupportedServerType,
			Action:         name,
			ConnectionType: snap.Type,
		})
		return
	}

	inv.data.Action = def
	inv.data.Version = def.Version

	go inv.execute(general, p.hooksFor(def, p.pre), p.hooksFor(def, p.post))
}

func (p *Processor) hooksFor(def *action.Definition, chain *middleware.Chain[scopedHook]) []action.Hook {
	entries := chain.Entries()
	hooks := make([]action.Hook, 0, len(entries))
	for _, e := range entries {
		if e.Handler.global || slices.Contains(def.Middleware, e.Name) {
			hooks = append(hooks, e.Handler.run)
		}
	}
	return hooks
}

// invocation is the state of one Process call.
type invocation struct {
	p    *Processor
	ctx  context.Context
	data *action.Data
	live *model.Connection
	done CompleteFunc

	passThrough bool
	bodyCalls   atomic.Int32

	once     sync.Once
	finished chan struct{}
}

func (inv *invocation) execute(general config.General, pre, post []action.Hook) {
	defer func() {
		if r := recover(); r != nil {
			inv.fault(r, debug.Stack())
		}
	}()

	runHooks(inv.ctx, inv.data, pre, true, func(err error) {
		if err != nil {
			inv.complete(err)
			return
		}
		if !inv.data.ToProcess {
			inv.complete(nil)
			return
		}

		if !general.DisableParamScrubbing {
			inv.scrub(general.AllowedParams)
		}

		if missing := inv.missing(); len(missing) > 0 {
			inv.complete(model.MissingParams(inv.data.ActionName, missing))
			return
		}

		inv.runBody(post)
	})
}

// scrub keeps only declared inputs and globally allowed params.
func (inv *invocation) scrub(allowed []string) {
	def := inv.data.Action
	maps.DeleteFunc(inv.data.Params, func(k string, _ any) bool {
		return !def.Declares(k) && !slices.Contains(allowed, k)
	})
	inv.data.Connection.SetParams(inv.data.Params)
}

func (inv *invocation) missing() []string {
	var missing []string
	for _, key := range inv.data.Action.Inputs.Required {
		if !action.Present(inv.data.Params[key]) {
			missing = append(missing, key)
		}
	}
	return missing
}

func (inv *invocation) runBody(post []action.Hook) {
	next := func(err error) {
		if inv.bodyCalls.Add(1) > 1 {
			inv.duplicate()
			return
		}
		runHooks(inv.ctx, inv.data, post, false, func(postErr error) {
			inv.complete(errors.Join(err, postErr))
		})
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				inv.fault(r, debug.Stack())
			}
		}()
		inv.data.Action.Run(inv.ctx, inv.data, next)
	}()
}

// fault converts a recovered panic into server_error, or reports it if the action already completed.
func (inv *invocation) fault(recovered any, stack []byte) {
	cause := fmt.Errorf("panic: %v", recovered)
	// later calls to the body's next count as duplicates
	inv.bodyCalls.Add(1)

	// [RACE] a completion still running elsewhere wins; the panic is then an anomaly
	if inv.complete(model.ServerError(inv.data.ActionName, cause)) {
		inv.p.logger.Error("PANIC_RECOVERED",
			"action", inv.data.ActionName,
			"connection_id", inv.data.Connection.ID,
			"err", cause,
			"stack", string(stack),
		)
		return
	}

	go func() {
		<-inv.finished
		inv.p.reporter.Report(inv.ctx, Anomaly{
			Kind:         AnomalyPanicAfterCompletion,
			Action:       inv.data.ActionName,
			ConnectionID: inv.data.Connection.ID,
			Err:          cause,
			Stack:        stack,
		})
	}()
}

// duplicate waits for the first completion to finish, then reports the extra callback.
func (inv *invocation) duplicate() {
	go func() {
		<-inv.finished
		inv.p.reporter.Report(inv.ctx, Anomaly{
			Kind:         AnomalyDuplicateCallback,
			Action:       inv.data.ActionName,
			ConnectionID: inv.data.Connection.ID,
			Err:          fmt.Errorf("action %q called next more than once", inv.data.ActionName),
		})
	}()
}

// complete reports whether this call delivered the result.
func (inv *invocation) complete(err error) (won bool) {
	inv.once.Do(func() {
		won = true
		defer inv.p.inflight.done()
		defer close(inv.finished)

		inv.live.EndAction()
		if inv.passThrough {
			inv.live.SetErr(nil)
		}

		data := inv.data
		if err != nil {
			data.Response["error"] = inv.p.localizer.Message(data.Connection.Locale(), err)
		}

		res := &Result{
			Connection: data.Connection,
			Response:   data.Response,
			ToRender:   data.ToRender,
			MessageID:  data.MessageID,
			Err:        err,
			Duration:   time.Since(data.StartedAt),
		}
		if data.Action != nil {
			res.Action = data.Action.Name
		}

		inv.p.logCompletion(inv.ctx, res, data)

		if inv.done != nil {
			inv.done(res)
		}
	})
	return won
}

func (p *Processor) logCompletion(ctx context.Context, res *Result, data *action.Data) {
	filtered := p.runtime.General().FilteredParams
	params := make(map[string]any, len(data.Params))
	for k, v := range data.Params {
		if slices.Contains(filtered, k) {
			v = "[FILTERED]"
		}
		params[k] = v
	}

	conn := res.Connection
	attrs := []any{
		"connection_type", conn.Type,
		"remote", net.JoinHostPort(conn.RemoteIP, strconv.Itoa(conn.RemotePort)),
		"connection_id", conn.ID,
		"action", data.ActionName,
		"params", params,
		"duration_ms", res.Duration.Milliseconds(),
	}

	level := slog.LevelInfo
	if res.Err != nil {
		attrs = append(attrs, "err", res.Err, "kind", string(model.KindOf(res.Err)))
		if model.KindOf(res.Err) == model.KindServerError {
			level = slog.LevelError
		}
	}
	p.logger.Log(ctx, level, "ACTION_COMPLETED", attrs...)
}

// runHooks walks hooks in order. With stopOnSkip, a hook clearing ToProcess ends the walk.
func runHooks(ctx context.Context, data *action.Data, hooks []action.Hook, stopOnSkip bool, done func(error)) {
	if len(hooks) == 0 {
		done(nil)
		return
	}

	var once sync.Once
	hooks[0](ctx, data, func(err error) {
		once.Do(func() {
			if err != nil || (stopOnSkip && !data.ToProcess) {
				done(err)
				return
			}
			runHooks(ctx, data, hooks[1:], stopOnSkip, done)
		})
	})
}

// tracker counts in-flight invocations and signals when the count drops to zero.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (t *tracker) add() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *tracker) wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.idle
}
