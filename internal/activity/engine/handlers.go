package engine

import (
	"maps"
	"strconv"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
)

// Handler prepares an occurrence: it reads the dispatch arguments from ev
// and fills in message fields, overrides and object data. A handler may
// Skip or Defer the occurrence.
type Handler func(ev *ActiveEvent)

// Handlers maps handler identifiers (a definition's handler callback) to
// handlers. Definitions without a callback use GenericHandler.
type Handlers map[string]Handler

// Has reports whether id names a handler.
func (t Handlers) Has(id string) bool {
	_, ok := t[id]
	return ok
}

// Lookup returns the handler for id, or GenericHandler when id is empty.
func (t Handlers) Lookup(id string) (Handler, bool) {
	if id == "" {
		return GenericHandler, true
	}
	h, ok := t[id]
	return h, ok
}

// Merge returns a table holding the entries of t and other; other wins.
func (t Handlers) Merge(other Handlers) Handlers {
	out := maps.Clone(t)
	if out == nil {
		out = Handlers{}
	}
	maps.Copy(out, other)
	return out
}

// GenericHandler names the positional arguments after the definition's args
// list (arg0, arg1, ... when unnamed). A map argument is also merged into
// the top-level fields so its keys can be looked up directly. An integer
// argument named object_id or the first integer argument of an unnamed list
// becomes the object id.
func GenericHandler(ev *ActiveEvent) {
	names := ev.def.Args
	for i, arg := range ev.args {
		name := "arg" + strconv.Itoa(i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		ev.SetField(name, arg)
		if m, ok := arg.(map[string]any); ok {
			for k, v := range m {
				if _, taken := ev.fields[k]; !taken {
					ev.fields[k] = v
				}
			}
		}
	}

	if _, ok := ev.fields[FieldObjectID]; ok || len(names) > 0 {
		return
	}
	for _, arg := range ev.args {
		if id, ok := flatten.Int(arg); ok {
			ev.fields[FieldObjectID] = id
			return
		}
	}
}
