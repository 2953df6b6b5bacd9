// Package engine turns host hook dispatches into activity log records. An
// Engine holds the process-wide pieces (event catalog, predicates, storage,
// pending queue). Each request gets its own Session with a fresh registry,
// cloned hooks and snapshot store, so no occurrence state outlives the
// request that produced it except deferred occurrences in the pending queue.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/conditions"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/snapshot"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/store"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

// Extension hooks fired by the engine.
const (
	// HookMainMessage filters the _main text (string). Args: *ActiveEvent.
	HookMainMessage = "activity_main_message"

	// HookMessageFields filters the expanded message ([]flatten.Field) before
	// it is joined. Args: *ActiveEvent.
	HookMessageFields = "activity_message_fields"

	// HookFieldInfo filters one rendered field value (string).
	// Args: field name, *ActiveEvent.
	HookFieldInfo = "activity_field_info"

	// HookMessageBeforeSave filters the joined message (string).
	// Args: *ActiveEvent.
	HookMessageBeforeSave = "activity_message_before_save"

	// HookEventLoggable is the final gate (bool). Args: *ActiveEvent.
	HookEventLoggable = "activity_event_loggable"

	// HookLogged fires after a successful write.
	// Args: store.LogRecord, updated bool.
	HookLogged = "activity_logged"

	// HookLogFailed fires after a failed write. Args: store.LogRecord, error.
	HookLogFailed = "activity_log_failed"

	// HookRedirect is the host hook fired just before a redirect response.
	// Deferred occurrences are replayed there.
	HookRedirect = "wp_redirect"
)

// CountMarker in a message is replaced with the record's occurrence count.
const CountMarker = "%count%"

// Config tunes the engine.
type Config struct {
	// Window bounds aggregation: only records updated within Window count as
	// open. Zero matches all time.
	Window time.Duration

	// PendingTTL is how long a deferred occurrence waits for replay.
	PendingTTL time.Duration

	// Strict surfaces persistence errors from Session.Err.
	Strict bool
}

// Options are the collaborators of an Engine. Repo is required.
type Options struct {
	Config    Config
	Groups    []events.Group
	Hooks     *hooks.Hooks
	Evaluator *conditions.Evaluator
	Repo      store.Repository
	Pending   PendingQueue
	Handlers  Handlers
	Metrics   *Metrics
	Now       func() time.Time
	Logger    *slog.Logger
}

// Engine is safe for concurrent use; all mutable state lives in Sessions.
type Engine struct {
	cfg      Config
	groups   []events.Group
	hooks    *hooks.Hooks
	eval     *conditions.Evaluator
	repo     store.Repository
	pending  PendingQueue
	handlers Handlers
	metrics  *Metrics
	now      func() time.Time
	log      *slog.Logger
}

// New creates an engine.
func New(opts Options) *Engine {
	e := &Engine{
		cfg:      opts.Config,
		groups:   opts.Groups,
		hooks:    opts.Hooks,
		eval:     opts.Evaluator,
		repo:     opts.Repo,
		pending:  opts.Pending,
		handlers: opts.Handlers,
		metrics:  opts.Metrics,
		now:      opts.Now,
		log:      opts.Logger,
	}
	if e.hooks == nil {
		e.hooks = hooks.New()
	}
	if e.eval == nil {
		e.eval = conditions.New()
	}
	if e.handlers == nil {
		e.handlers = Handlers{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.pending == nil {
		mp := NewMemoryPending(opts.Config.PendingTTL)
		mp.now = e.now
		e.pending = mp
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Hooks returns the process-wide dispatcher. Callbacks added here apply to
// every later session.
func (e *Engine) Hooks() *hooks.Hooks { return e.hooks }

// Evaluator returns the predicate evaluator.
func (e *Engine) Evaluator() *conditions.Evaluator { return e.eval }

// Begin starts a session for one request: it normalizes the catalog against
// the request, attaches the snapshot observers and the enabled handlers to a
// clone of the hooks, and replays whatever the actor left pending.
func (e *Engine) Begin(ctx context.Context, req reqctx.Request, meta snapshot.MetaReader) *Session {
	h := e.hooks.Clone()
	s := &Session{
		engine: e,
		ctx:    reqctx.With(ctx, req),
		req:    req,
		hooks:  h,
		snaps:  snapshot.New(meta),
	}

	now := e.now()
	reg := events.NewRegistry()
	reg.Register(e.groups...)
	reg.Normalize(events.NormalizeOptions{
		PreCheck: func(def events.Definition) bool {
			return e.eval.PreCheck(conditions.Input{Def: def, Req: req, Now: now, Hooks: h})
		},
		Callable: e.handlers.Has,
		Hooks:    h,
	})
	s.registry = reg

	s.snaps.Attach(h)
	enabled := reg.Enabled()
	for _, def := range enabled {
		s.attach(def)
	}
	h.AddAction(HookRedirect, func(...any) { s.ReplayDeferred() }, hooks.DefaultPriority, 0)
	if e.metrics != nil {
		e.metrics.Definitions.Set(float64(len(enabled)))
	}

	s.replayPending()
	return s
}
