// Package conditions evaluates the named predicates attached to event
// definitions. Predicates run in two disjoint phases:
//
//   - the pre-check, once per definition at registration, using only
//     request-global context (screen, actor, IP, clock);
//   - the ignorability check, once per occurrence after the record is
//     assembled, using the occurrence's own data (object id, resolved user,
//     post type and so on).
//
// Every predicate answers "is it valid to watch". The pre-check requires all
// of them to hold. The ignorability check negates each answer: one predicate
// that does not hold makes the occurrence ignorable.
package conditions

import (
	"slices"
	"sync"
	"time"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

// Hook names consulted by the evaluator.
const (
	// HookCheckPrefix + predicate name filters each predicate's (bool) result.
	// Callbacks receive the parameter and the Input.
	HookCheckPrefix = "activity_check_"

	// HookEventIgnorable filters the final ignorability verdict (bool).
	HookEventIgnorable = "activity_event_ignorable"
)

// Input is what a predicate sees. Pre-check predicates only get Def, Req, Now
// and Hooks; the remaining fields are filled for the ignorability check.
type Input struct {
	Def   events.Definition
	Req   reqctx.Request
	Now   time.Time
	Hooks *hooks.Hooks

	ObjectID int64
	Target   *reqctx.User
	Severity events.Severity
	Fields   map[string]any
}

// Predicate reports whether param holds for in.
type Predicate func(param any, in Input) bool

// preCheckNames is the fixed order of the registration-time phase.
var preCheckNames = []string{
	events.CondCanEnable,
	events.CondScreen,
	events.CondPageNow,
	events.CondUserState,
	events.CondLoggedInUserCaps,
	events.CondEventIDs,
	events.CondExcludeEventIDs,
	events.CondEventSlugs,
	events.CondExcludeEventSlugs,
	events.CondIPs,
	events.CondExcludeIPs,
	events.CondSeverities,
	events.CondExcludeSeverities,
	events.CondWeekdays,
	events.CondExcludeWeekdays,
}

// Evaluator holds the registered predicates and the phase membership.
type Evaluator struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
	order      []string
	preCheck   []string
}

// New returns an evaluator with the built-in predicates registered.
func New() *Evaluator {
	e := &Evaluator{
		predicates: make(map[string]Predicate),
		preCheck:   slices.Clone(preCheckNames),
	}
	for _, b := range builtins() {
		e.Register(b.name, b.fn)
	}
	return e
}

// Register adds or replaces a predicate. New names run in the ignorability
// phase unless also passed to ExtendPreCheck.
func (e *Evaluator) Register(name string, fn Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.predicates[name]; !ok {
		e.order = append(e.order, name)
	}
	e.predicates[name] = fn
}

// ExtendPreCheck appends names to the registration-time phase. A name moved
// into the pre-check no longer runs per occurrence.
func (e *Evaluator) ExtendPreCheck(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range names {
		if !slices.Contains(e.preCheck, n) {
			e.preCheck = append(e.preCheck, n)
		}
	}
}

// PreCheckNames returns the registration-time phase in evaluation order.
func (e *Evaluator) PreCheckNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.preCheck)
}

// IgnoreNames returns the per-occurrence phase in evaluation order: every
// registered predicate that is not part of the pre-check.
func (e *Evaluator) IgnoreNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.order))
	for _, n := range e.order {
		if !slices.Contains(e.preCheck, n) {
			out = append(out, n)
		}
	}
	return out
}

// PreCheck reports whether in.Def should be watched this request. The first
// predicate that does not hold short-circuits.
func (e *Evaluator) PreCheck(in Input) bool {
	for _, name := range e.PreCheckNames() {
		if !e.Check(name, in) {
			return false
		}
	}
	return true
}

// Ignorable reports whether this occurrence should be skipped. The verdict
// passes through HookEventIgnorable.
func (e *Evaluator) Ignorable(in Input) bool {
	ignorable := false
	for _, name := range e.IgnoreNames() {
		if e.Ignore(name, in) {
			ignorable = true
			break
		}
	}
	return hooks.Filter(in.Hooks, HookEventIgnorable, ignorable, in)
}

// Check evaluates one predicate in the watch sense. An unset parameter or an
// unknown predicate holds.
func (e *Evaluator) Check(name string, in Input) bool {
	param, ok := in.Def.Conditions.Get(name)
	if !ok {
		return true
	}
	e.mu.RLock()
	fn, ok := e.predicates[name]
	e.mu.RUnlock()
	if !ok {
		return true
	}
	return hooks.Filter(in.Hooks, HookCheckPrefix+name, fn(param, in), param, in)
}

// Ignore is the negation of Check, applied after the filter.
func (e *Evaluator) Ignore(name string, in Input) bool {
	return !e.Check(name, in)
}
