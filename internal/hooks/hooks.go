// Package hooks is the host dispatcher the activity engine plugs into. It
// models the CMS action/filter system: named hooks with callbacks that run in
// priority order (lowest first, registration order within a priority).
//
// Actions are fire-and-forget notifications. Filters thread a value through
// every callback and return the final value. A process-wide Hooks holds the
// extension callbacks registered at startup; each request works on a Clone so
// request-scoped callbacks never leak into other requests.
package hooks

import (
	"sort"
	"sync"
)

// DefaultPriority is the priority used when a caller has no ordering needs.
const DefaultPriority = 10

// ActionFunc receives the positional arguments of an action, trimmed or padded
// to the arity it was registered with.
type ActionFunc func(args ...any)

// FilterFunc receives the current value plus the extra filter arguments and
// returns the (possibly replaced) value.
type FilterFunc func(value any, args ...any) any

type callback struct {
	priority int
	arity    int
	seq      int
	action   ActionFunc
	filter   FilterFunc
}

// Hooks is a registry of action and filter callbacks. Safe for concurrent use.
type Hooks struct {
	mu      sync.RWMutex
	actions map[string][]callback
	filters map[string][]callback
	seq     int
}

// New creates an empty dispatcher.
func New() *Hooks {
	return &Hooks{
		actions: make(map[string][]callback),
		filters: make(map[string][]callback),
	}
}

// AddAction registers fn on the named action. The dispatcher invokes fn with
// exactly arity positional arguments.
func (h *Hooks) AddAction(name string, fn ActionFunc, priority, arity int) {
	if h == nil || fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.actions[name] = insertSorted(h.actions[name], callback{
		priority: priority, arity: arity, seq: h.seq, action: fn,
	})
}

// AddFilter registers fn on the named filter.
func (h *Hooks) AddFilter(name string, fn FilterFunc, priority int) {
	if h == nil || fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.filters[name] = insertSorted(h.filters[name], callback{
		priority: priority, seq: h.seq, filter: fn,
	})
}

// DoAction runs every callback registered on name. Callbacks may register new
// hooks while running; those apply to the next dispatch.
func (h *Hooks) DoAction(name string, args ...any) {
	if h == nil {
		return
	}
	h.mu.RLock()
	cbs := append([]callback(nil), h.actions[name]...)
	h.mu.RUnlock()

	for _, cb := range cbs {
		cb.action(fitArgs(args, cb.arity)...)
	}
}

// ApplyFilters threads value through every filter registered on name.
func (h *Hooks) ApplyFilters(name string, value any, args ...any) any {
	if h == nil {
		return value
	}
	h.mu.RLock()
	cbs := append([]callback(nil), h.filters[name]...)
	h.mu.RUnlock()

	for _, cb := range cbs {
		value = cb.filter(value, args...)
	}
	return value
}

// HasAction reports whether any callback is registered on the action.
func (h *Hooks) HasAction(name string) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.actions[name]) > 0
}

// HasFilter reports whether any callback is registered on the filter.
func (h *Hooks) HasFilter(name string) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.filters[name]) > 0
}

// Clone returns an independent copy. Callbacks added to the clone are not
// visible to the original and vice versa.
func (h *Hooks) Clone() *Hooks {
	c := New()
	if h == nil {
		return c
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, cbs := range h.actions {
		c.actions[name] = append([]callback(nil), cbs...)
	}
	for name, cbs := range h.filters {
		c.filters[name] = append([]callback(nil), cbs...)
	}
	c.seq = h.seq
	return c
}

// Filter is the typed form of ApplyFilters. A filter that returns a value of
// the wrong type is ignored and the incoming value is kept.
func Filter[T any](h *Hooks, name string, value T, args ...any) T {
	if h == nil || !h.HasFilter(name) {
		return value
	}
	if out, ok := h.ApplyFilters(name, value, args...).(T); ok {
		return out
	}
	return value
}

func insertSorted(cbs []callback, cb callback) []callback {
	cbs = append(cbs, cb)
	sort.SliceStable(cbs, func(i, j int) bool {
		if cbs[i].priority != cbs[j].priority {
			return cbs[i].priority < cbs[j].priority
		}
		return cbs[i].seq < cbs[j].seq
	})
	return cbs
}

// fitArgs trims or pads args with nils to exactly n entries.
func fitArgs(args []any, n int) []any {
	if n <= 0 {
		return nil
	}
	out := make([]any, n)
	copy(out, args)
	return out
}
