package engine

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/conditions"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/snapshot"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

// Result describes what happened to one occurrence.
type Result struct {
	EventID  int     `json:"event_id"`
	Group    string  `json:"group"`
	Slug     string  `json:"slug"`
	Outcome  Outcome `json:"outcome"`
	RecordID int64   `json:"record_id,omitempty"`
	Counter  int     `json:"counter,omitempty"`
}

type queued struct {
	group, slug string
	handler     Handler
	args        []any
}

// Session processes the occurrences of one request. It is not safe for
// concurrent use; the host dispatches synchronously.
type Session struct {
	engine   *Engine
	ctx      context.Context
	req      reqctx.Request
	hooks    *hooks.Hooks
	registry *events.Registry
	snaps    *snapshot.Store

	// active is the single in-flight occurrence. Occurrences dispatched
	// while it is set wait in queue.
	active *ActiveEvent
	queue  []queued

	deferred []PendingOccurrence
	results  []Result
	err      error
}

// Hooks returns the request-scoped dispatcher the host fires hooks on.
func (s *Session) Hooks() *hooks.Hooks { return s.hooks }

// Registry returns the normalized registry of this request.
func (s *Session) Registry() *events.Registry { return s.registry }

// Snapshots returns the pre-mutation snapshot store.
func (s *Session) Snapshots() *snapshot.Store { return s.snaps }

// Request returns the request context.
func (s *Session) Request() reqctx.Request { return s.req }

// Results returns the outcome of every occurrence processed so far.
func (s *Session) Results() []Result { return append([]Result(nil), s.results...) }

// Err returns the persistence errors of this session in strict mode and nil
// otherwise.
func (s *Session) Err() error { return s.err }

// attach registers the handler for def on the host hook named by its
// handler. Callback-kind definitions are only reachable through Trigger.
func (s *Session) attach(def events.Definition) {
	handler, ok := s.engine.handlers.Lookup(def.Handler.Callback)
	if !ok {
		return
	}
	group, slug := def.Group, def.Slug

	switch def.Handler.Kind {
	case events.KindAction:
		s.hooks.AddAction(def.Handler.Hook, func(args ...any) {
			s.dispatch(group, slug, handler, args)
		}, def.Handler.Priority, def.Handler.Arity)
	case events.KindFilter:
		arity := def.Handler.Arity
		s.hooks.AddFilter(def.Handler.Hook, func(value any, args ...any) any {
			all := append([]any{value}, args...)
			if arity >= 0 && len(all) > arity {
				all = all[:arity]
			}
			s.dispatch(group, slug, handler, all)
			return value
		}, def.Handler.Priority)
	}
}

// Trigger dispatches an occurrence of group/slug directly, bypassing hooks.
// It reports false when no enabled definition matches.
func (s *Session) Trigger(group, slug string, args ...any) bool {
	def, ok := s.registry.BySlug(group, slug)
	if !ok || def.Disabled {
		return false
	}
	handler, ok := s.engine.handlers.Lookup(def.Handler.Callback)
	if !ok {
		return false
	}
	s.dispatch(group, slug, handler, args)
	return true
}

// dispatch runs an occurrence to a terminal state. An occurrence raised
// while another is active is queued and runs after it, in arrival order.
func (s *Session) dispatch(group, slug string, handler Handler, args []any) {
	if s.active != nil {
		s.queue = append(s.queue, queued{group: group, slug: slug, handler: handler, args: args})
		return
	}
	s.process(group, slug, handler, args)
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.process(next.group, next.slug, next.handler, next.args)
	}
}

func (s *Session) process(group, slug string, handler Handler, args []any) {
	def, ok := s.registry.BySlug(group, slug)
	if !ok || def.Disabled {
		s.record(Result{Group: group, Slug: slug, Outcome: OutcomeDropped})
		return
	}

	ev := newActiveEvent(s, def, args)
	s.active = ev
	defer func() { s.active = nil }()

	handler(ev)
	if ev.skipped {
		s.suppress(ev, OutcomeSuppressed)
		return
	}
	if !s.redirect(ev) {
		s.suppress(ev, OutcomeSuppressed)
		return
	}
	if ev.deferred {
		s.deferOccurrence(ev)
		return
	}
	s.log(ev)
}

// redirect switches the active definition to the one named by the meta_key
// field when that slug is registered in the same group. It reports false
// when the target exists but is disabled.
func (s *Session) redirect(ev *ActiveEvent) bool {
	key, ok := ev.fields[FieldMetaKey].(string)
	if !ok || key == "" {
		return true
	}
	target, ok := s.registry.BySlug(ev.def.Group, key)
	if !ok || target.ID == ev.def.ID {
		return true
	}
	if target.Disabled {
		return false
	}
	ev.def = target
	return true
}

func (s *Session) deferOccurrence(ev *ActiveEvent) {
	p := newPending(ev.def.Group, ev.def.Slug, ev.fields, ev.overrides, ev.objectData, s.engine.now())
	for _, d := range s.deferred {
		if d.Fingerprint == p.Fingerprint {
			s.record(Result{EventID: ev.def.ID, Group: ev.def.Group, Slug: ev.def.Slug, Outcome: OutcomeDropped})
			return
		}
	}
	s.deferred = append(s.deferred, p)
	s.record(Result{EventID: ev.def.ID, Group: ev.def.Group, Slug: ev.def.Slug, Outcome: OutcomeDeferred})
}

// ReplayDeferred logs the occurrences deferred earlier in this request. Each
// is replayed at most once.
func (s *Session) ReplayDeferred() {
	pending := s.deferred
	s.deferred = nil
	for _, p := range pending {
		s.replay(p)
	}
}

// End hands occurrences still deferred to the pending queue so the actor's
// next request can replay them.
func (s *Session) End() {
	pending := s.deferred
	s.deferred = nil
	for _, p := range pending {
		if _, err := s.engine.pending.Push(s.ctx, s.req.ActorKey(), p); err != nil {
			s.engine.log.Warn("queueing deferred activity failed",
				slog.String("event", p.Group+"/"+p.Slug),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Session) replayPending() {
	pending, err := s.engine.pending.Take(s.ctx, s.req.ActorKey())
	if err != nil {
		s.engine.log.Warn("reading pending activity failed", slog.Any("error", err))
		return
	}
	for _, p := range pending {
		s.replay(p)
		if s.engine.metrics != nil {
			s.engine.metrics.Replayed.Inc()
		}
	}
}

func (s *Session) replay(p PendingOccurrence) {
	def, ok := s.registry.BySlug(p.Group, p.Slug)
	if !ok || def.Disabled {
		s.record(Result{Group: p.Group, Slug: p.Slug, Outcome: OutcomeDropped})
		return
	}
	ev := newActiveEvent(s, def, nil)
	maps.Copy(ev.fields, p.Fields)
	maps.Copy(ev.overrides, p.Overrides)
	ev.objectData = p.ObjectData
	ev.replayed = true

	s.active = ev
	defer func() { s.active = nil }()
	s.log(ev)
}

// log assembles the ready occurrence and persists it unless it turns out to
// be a no-op, ignorable or vetoed by the loggable filter.
func (s *Session) log(ev *ActiveEvent) {
	ev.state = StateReady
	def := ev.Definition()
	start := time.Now()

	a, err := s.assemble(ev)
	if err != nil {
		s.fail(ev, a, err)
		return
	}
	if a.empty {
		s.suppress(ev, OutcomeSuppressed)
		return
	}

	target := ev.target
	if target == nil {
		target = a.user
	}
	ignorable := s.engine.eval.Ignorable(conditions.Input{
		Def:      def,
		Req:      s.req,
		Now:      a.now,
		Hooks:    s.hooks,
		ObjectID: a.record.ObjectID,
		Target:   target,
		Severity: def.Severity,
		Fields:   ev.fields,
	})
	if ignorable {
		s.suppress(ev, OutcomeIgnored)
		return
	}
	if !hooks.Filter(s.hooks, HookEventLoggable, true, ev) {
		s.suppress(ev, OutcomeSuppressed)
		return
	}

	outcome, err := s.persist(a)
	if s.engine.metrics != nil {
		s.engine.metrics.PersistDelay.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.fail(ev, a, err)
		return
	}

	ev.state = StateLogged
	s.hooks.DoAction(HookLogged, a.record, outcome == OutcomeUpdated)
	s.record(Result{
		EventID: def.ID, Group: def.Group, Slug: def.Slug,
		Outcome: outcome, RecordID: a.record.ID, Counter: a.record.LogCounter,
	})
}

func (s *Session) suppress(ev *ActiveEvent, o Outcome) {
	ev.state = StateSuppressed
	s.record(Result{EventID: ev.def.ID, Group: ev.def.Group, Slug: ev.def.Slug, Outcome: o})
}

// fail reports a storage error. The occurrence counts as not logged and the
// host request carries on.
func (s *Session) fail(ev *ActiveEvent, a *assembly, err error) {
	ev.state = StateSuppressed
	var rec any
	if a != nil {
		rec = a.record
	}
	s.hooks.DoAction(HookLogFailed, rec, err)
	s.engine.log.Warn("activity log write failed",
		slog.Int("event_id", ev.def.ID),
		slog.String("event", ev.def.Key()),
		slog.Any("error", err),
	)
	if s.engine.cfg.Strict {
		s.err = errors.Join(s.err, err)
	}
	s.record(Result{EventID: ev.def.ID, Group: ev.def.Group, Slug: ev.def.Slug, Outcome: OutcomeFailed})
}

func (s *Session) record(r Result) {
	s.results = append(s.results, r)
	s.engine.metrics.observe(r.Group, r.Outcome)
	s.engine.log.Debug("activity occurrence",
		slog.Int("event_id", r.EventID),
		slog.String("event", r.Group+"/"+r.Slug),
		slog.String("outcome", string(r.Outcome)),
	)
}
