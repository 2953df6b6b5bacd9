package engine

import (
	"maps"
	"reflect"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/snapshot"
)

// State is where an occurrence is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateReady
	StateLogged
	StateSuppressed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	case StateLogged:
		return "logged"
	case StateSuppressed:
		return "suppressed"
	}
	return "unknown"
}

// Field names with meaning to the assembler.
const (
	FieldCurrentUserID = "current_user_id"
	FieldObjectID      = "object_id"
	FieldMetaKey       = "meta_key"
	FieldChanged       = "changed"
	FieldOld           = "old"
	FieldNew           = "new"
)

// Ignore is the sentinel value a handler stores to drop a template field
// from the rendered message.
const Ignore = "\x00ignore"

// Overridable definition fields.
const (
	OverrideMessage  = "message"
	OverrideTitle    = "title"
	OverrideSeverity = "severity"
	OverrideAction   = "action"
	OverrideObject   = "object"
	OverrideObjectID = "object_id"
)

// ActiveEvent is the occurrence currently being processed by a Session.
// Handlers fill it in; the engine assembles and persists it.
type ActiveEvent struct {
	session *Session
	def     events.Definition
	args    []any

	fields     map[string]any
	overrides  map[string]any
	objectData map[string]any
	user       *reqctx.User
	target     *reqctx.User

	tracked  bool
	changed  []string
	state    State
	skipped  bool
	deferred bool
	replayed bool
}

func newActiveEvent(s *Session, def events.Definition, args []any) *ActiveEvent {
	return &ActiveEvent{
		session:   s,
		def:       def,
		args:      args,
		fields:    make(map[string]any),
		overrides: make(map[string]any),
		state:     StatePreparing,
	}
}

// Definition returns the definition with this occurrence's overrides applied.
// The registered definition is never modified.
func (ev *ActiveEvent) Definition() events.Definition {
	def := ev.def
	for field, v := range ev.overrides {
		switch field {
		case OverrideMessage:
			switch m := v.(type) {
			case events.MessageTemplate:
				def.Message = m
			case string:
				def.Message = def.Message.With(events.FieldMain, events.Literal(m))
			}
		case OverrideTitle:
			def.Title = flatten.Stringify(v)
		case OverrideSeverity:
			if s := events.Severity(flatten.Stringify(v)); s.Valid() {
				def.Severity = s
			}
		case OverrideAction:
			def.Action = flatten.Stringify(v)
		case OverrideObject:
			def.Object = flatten.Stringify(v)
		}
	}
	return def
}

// State returns the lifecycle state.
func (ev *ActiveEvent) State() State { return ev.state }

// Args returns the positional arguments the host dispatched with.
func (ev *ActiveEvent) Args() []any { return ev.args }

// Arg returns positional argument i, or nil.
func (ev *ActiveEvent) Arg(i int) any {
	if i < 0 || i >= len(ev.args) {
		return nil
	}
	return ev.args[i]
}

// Request returns the request context of the owning session.
func (ev *ActiveEvent) Request() reqctx.Request { return ev.session.req }

// Snapshots returns the pre-mutation snapshots of the owning session.
func (ev *ActiveEvent) Snapshots() *snapshot.Store { return ev.session.snaps }

// SetField stores a message argument.
func (ev *ActiveEvent) SetField(name string, v any) {
	ev.fields[name] = v
}

// SetFields stores several message arguments.
func (ev *ActiveEvent) SetFields(fields map[string]any) {
	maps.Copy(ev.fields, fields)
}

// Field returns a message argument.
func (ev *ActiveEvent) Field(name string) (any, bool) {
	v, ok := ev.fields[name]
	return v, ok
}

// Fields returns a copy of the message arguments.
func (ev *ActiveEvent) Fields() map[string]any {
	return maps.Clone(ev.fields)
}

// Override replaces a definition-level field (message, title, severity,
// action, object or object_id) for this occurrence only.
func (ev *ActiveEvent) Override(field string, v any) {
	if field == OverrideObjectID {
		ev.fields[FieldObjectID] = v
		return
	}
	ev.overrides[field] = v
}

// SetObjectData sets the object description stored with the record.
func (ev *ActiveEvent) SetObjectData(data map[string]any) {
	ev.objectData = data
}

// SetUser sets the acting user, taking precedence over the session user but
// not over an explicit current_user_id field.
func (ev *ActiveEvent) SetUser(u *reqctx.User) { ev.user = u }

// SetTarget sets the user the occurrence is about, used by the
// user-capability ignorability predicates.
func (ev *ActiveEvent) SetTarget(u *reqctx.User) { ev.target = u }

// TrackChanges compares the listed fields of current with the snapshot under
// key and records every field whose value differs. Old and new values land
// in the "old" and "new" message arguments and the names in "changed".
// When nothing differs the occurrence is suppressed as a no-op update.
func (ev *ActiveEvent) TrackChanges(key string, current map[string]any, fields ...string) []string {
	ev.tracked = true
	prior := ev.session.snaps.Get(key)

	oldVals, _ := ev.fields[FieldOld].(map[string]any)
	newVals, _ := ev.fields[FieldNew].(map[string]any)
	if oldVals == nil {
		oldVals = make(map[string]any)
	}
	if newVals == nil {
		newVals = make(map[string]any)
	}

	var changed []string
	for _, f := range fields {
		before, after := prior[f], current[f]
		if reflect.DeepEqual(before, after) || flatten.Stringify(before) == flatten.Stringify(after) {
			continue
		}
		changed = append(changed, f)
		oldVals[f] = before
		newVals[f] = after
	}

	ev.changed = append(ev.changed, changed...)
	if len(ev.changed) > 0 {
		ev.fields[FieldOld] = oldVals
		ev.fields[FieldNew] = newVals
		ev.fields[FieldChanged] = append([]string(nil), ev.changed...)
	}
	return changed
}

// Changed returns the field names TrackChanges found different.
func (ev *ActiveEvent) Changed() []string { return ev.changed }

// Skip ends the occurrence without logging.
func (ev *ActiveEvent) Skip() { ev.skipped = true }

// Defer postpones logging to the next replay point: a redirect in this
// request, or the actor's next request.
func (ev *ActiveEvent) Defer() { ev.deferred = true }

// Replayed reports whether this occurrence came from the pending queue.
func (ev *ActiveEvent) Replayed() bool { return ev.replayed }
