package events

import (
	"log/slog"

	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

// Extension hooks fired during registration.
const (
	// HookEventGroups filters the registered []Group before normalization.
	HookEventGroups = "activity_event_groups"

	// HookEventEnabled filters the pre-check verdict (bool) for one
	// Definition.
	HookEventEnabled = "activity_event_enabled"
)

// PreCheck decides whether a definition should be watched this request.
type PreCheck func(def Definition) bool

// NormalizeOptions carries the collaborators normalization consults.
type NormalizeOptions struct {
	// PreCheck runs the registration-time predicates. Nil passes everything.
	PreCheck PreCheck

	// Callable reports whether a handler callback identifier can be invoked.
	// Nil accepts any identifier.
	Callable func(callback string) bool

	// Hooks receives the registration extension filters. May be nil.
	Hooks *hooks.Hooks
}

// Registry indexes definitions by id and by (group, slug). Build one per
// request: Register the static catalog, then Normalize once.
type Registry struct {
	groups     []Group
	byID       map[int]*Definition
	bySlug     map[string]map[string]int
	order      []int
	normalized bool
}

// NewRegistry creates an empty registry. An empty registry is valid; the
// engine simply never logs anything.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[int]*Definition),
		bySlug: make(map[string]map[string]int),
	}
}

// Register queues groups for normalization, in call order. Groups sharing a
// name are merged in order. Registering after Normalize has no effect.
func (r *Registry) Register(groups ...Group) {
	if r.normalized {
		return
	}
	for _, g := range groups {
		merged := false
		for i := range r.groups {
			if r.groups[i].Name == g.Name {
				r.groups[i].Events = append(r.groups[i].Events, g.Events...)
				merged = true
				break
			}
		}
		if !merged {
			r.groups = append(r.groups, Group{Name: g.Name, Events: append([]Spec(nil), g.Events...)})
		}
	}
}

// Normalize validates, defaults and indexes every registered spec. It runs
// once; later calls are no-ops. Malformed specs are dropped with a debug log
// and never abort registration.
func (r *Registry) Normalize(opts NormalizeOptions) {
	if r.normalized {
		return
	}
	r.normalized = true

	groups := hooks.Filter(opts.Hooks, HookEventGroups, r.groups)
	for _, g := range groups {
		for _, spec := range g.Events {
			def, ok := r.build(g.Name, spec, opts)
			if !ok {
				continue
			}

			enabled := opts.PreCheck == nil || opts.PreCheck(def)
			enabled = hooks.Filter(opts.Hooks, HookEventEnabled, enabled, def)
			def.Disabled = !enabled

			r.index(def)
		}
	}
}

func (r *Registry) build(group string, spec Spec, opts NormalizeOptions) (Definition, bool) {
	drop := func(reason string) (Definition, bool) {
		slog.Debug("dropping event definition",
			slog.String("group", group),
			slog.String("slug", spec.Slug),
			slog.Int("event_id", spec.ID),
			slog.String("reason", reason),
		)
		return Definition{}, false
	}

	if len(spec.Message) == 0 {
		return drop("empty message")
	}
	if spec.Handler == nil {
		return drop("empty event handler")
	}
	if spec.Handler.Callback != "" && opts.Callable != nil && !opts.Callable(spec.Handler.Callback) {
		return drop("handler callback is not callable")
	}
	if group == "" || spec.Slug == "" {
		return drop("missing group or slug")
	}

	id := spec.ID
	if raw, ok := spec.Message.eventIDOverride(); ok {
		parsed, ok := parseEventID(raw)
		if !ok {
			return drop("invalid _event_id override")
		}
		id = parsed
	}
	if id < MinEventID {
		return drop("event id must be a positive integer with at least 4 digits")
	}

	// First registration wins for both the id and the group/slug pair.
	if _, taken := r.byID[id]; taken {
		return drop("duplicate event id")
	}
	if _, taken := r.bySlug[group][spec.Slug]; taken {
		return drop("duplicate slug in group")
	}

	def := Definition{
		ID:           id,
		Group:        group,
		Slug:         spec.Slug,
		Title:        spec.Title,
		Object:       spec.Object,
		Action:       spec.Action,
		Severity:     spec.Severity,
		Message:      spec.Message,
		Handler:      spec.Handler.normalize(spec.Slug),
		Args:         spec.Args,
		ErrorFlag:    spec.ErrorFlag,
		Successor:    spec.Successor,
		Aggregatable: spec.Aggregatable,
		Notification: Notification{SMS: true, Email: true},
	}
	if !def.Severity.Valid() {
		def.Severity = SeverityNotice
	}
	if spec.Notification != nil {
		def.Notification = *spec.Notification
	}
	if spec.Conditions != nil {
		def.Conditions = *spec.Conditions
	}
	if def.Object == "" {
		def.Object = group
	}
	return def, true
}

func (r *Registry) index(def Definition) {
	d := def
	r.byID[d.ID] = &d
	if r.bySlug[d.Group] == nil {
		r.bySlug[d.Group] = make(map[string]int)
	}
	r.bySlug[d.Group][d.Slug] = d.ID
	r.order = append(r.order, d.ID)
}

// ByID returns the definition registered under id.
func (r *Registry) ByID(id int) (Definition, bool) {
	d, ok := r.byID[id]
	if !ok {
		return Definition{}, false
	}
	return *d, true
}

// BySlug returns the definition registered under group and slug.
func (r *Registry) BySlug(group, slug string) (Definition, bool) {
	id, ok := r.bySlug[group][slug]
	if !ok {
		return Definition{}, false
	}
	return r.ByID(id)
}

// Resolve follows a reference by id, or by group and slug.
func (r *Registry) Resolve(ref Ref) (Definition, bool) {
	if ref.ID > 0 {
		return r.ByID(ref.ID)
	}
	return r.BySlug(ref.Group, ref.Slug)
}

// Definitions returns every registered definition in registration order,
// disabled ones included.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.order)
}

// Enabled returns the definitions that passed the pre-check, in registration
// order.
func (r *Registry) Enabled() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		if d := r.byID[id]; !d.Disabled {
			out = append(out, *d)
		}
	}
	return out
}
