// Package events holds the catalog of auditable event definitions. Static
// definitions (YAML catalog plus anything extensions register) are merged,
// defaulted, validated and indexed once per request by Registry.Normalize;
// the resulting Definitions are read-only for the rest of the request.
package events

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Severity grades how important an event is.
type Severity string

const (
	SeverityNotice   Severity = "notice"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severities lists every valid severity, lowest first. The activity_log
// severity ENUM must contain exactly these values.
func Severities() []Severity {
	return []Severity{SeverityNotice, SeverityWarning, SeverityError, SeverityCritical}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	for _, v := range Severities() {
		if s == v {
			return true
		}
	}
	return false
}

// HandlerKind is how the host invokes the event handler.
type HandlerKind string

const (
	KindAction   HandlerKind = "action"
	KindFilter   HandlerKind = "filter"
	KindCallback HandlerKind = "callback"
)

// Defaults applied by Register to fields a Spec leaves unset.
const (
	DefaultPriority = 10
	DefaultArity    = 1
	MinEventID      = 1000
)

// EventHandler describes how the engine attaches to the host hook.
type EventHandler struct {
	Kind     HandlerKind
	Hook     string
	Priority int
	Arity    int
	Callback string
}

// Notification says which channels an event may be forwarded to.
type Notification struct {
	SMS   bool `yaml:"sms" json:"sms"`
	Email bool `yaml:"email" json:"email"`
}

// Ref points at another definition, either by id or by group and slug.
type Ref struct {
	ID    int    `yaml:"id" json:"id,omitempty"`
	Group string `yaml:"group" json:"group,omitempty"`
	Slug  string `yaml:"slug" json:"slug,omitempty"`
}

// IsZero reports whether the reference points nowhere.
func (r Ref) IsZero() bool {
	return r.ID == 0 && r.Slug == ""
}

func (r Ref) String() string {
	if r.ID > 0 {
		return strconv.Itoa(r.ID)
	}
	return r.Group + "/" + r.Slug
}

// UnmarshalYAML accepts `5000`, `[user, wp_login]` or a mapping.
func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		id, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: successor id %q: %w", node.Line, node.Value, err)
		}
		r.ID = id
		return nil
	case yaml.SequenceNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: successor must be [group, slug]", node.Line)
		}
		r.Group = node.Content[0].Value
		r.Slug = node.Content[1].Value
		return nil
	case yaml.MappingNode:
		type plain Ref
		return node.Decode((*plain)(r))
	}
	return fmt.Errorf("line %d: unsupported successor form", node.Line)
}

// Definition is a normalized, registered event definition.
type Definition struct {
	ID           int
	Group        string
	Slug         string
	Title        string
	Object       string
	Action       string
	Severity     Severity
	Message      MessageTemplate
	Handler      EventHandler
	Args         []string
	ErrorFlag    bool
	Successor    *Ref
	Aggregatable bool
	Notification Notification
	Conditions   Conditions

	// Disabled is decided once by the pre-check at registration. Disabled
	// definitions stay resolvable but never attach to a hook.
	Disabled bool
}

// Key is the group-qualified slug.
func (d Definition) Key() string {
	return d.Group + "/" + d.Slug
}

// Counted reports whether occurrences may increment an existing record
// instead of always inserting.
func (d Definition) Counted() bool {
	return d.Aggregatable || (d.ErrorFlag && d.Successor != nil && !d.Successor.IsZero())
}

// Spec is the caller-supplied form of a definition. Pointer fields are
// optional and receive defaults during normalization.
type Spec struct {
	ID           int             `yaml:"id"`
	Slug         string          `yaml:"slug"`
	Title        string          `yaml:"title"`
	Object       string          `yaml:"object"`
	Action       string          `yaml:"action"`
	Severity     Severity        `yaml:"severity"`
	Message      MessageTemplate `yaml:"message"`
	Handler      *HandlerSpec    `yaml:"handler"`
	Args         []string        `yaml:"args"`
	ErrorFlag    bool            `yaml:"error_flag"`
	Successor    *Ref            `yaml:"successor"`
	Aggregatable bool            `yaml:"aggregatable"`
	Notification *Notification   `yaml:"notification"`
	Conditions   *Conditions     `yaml:"conditions"`
}

// HandlerSpec is the optional-field form of EventHandler.
type HandlerSpec struct {
	Kind     HandlerKind `yaml:"kind"`
	Hook     string      `yaml:"hook"`
	Priority *int        `yaml:"priority"`
	Arity    *int        `yaml:"arity"`
	Callback string      `yaml:"callback"`
}

// Group is a named namespace of specs. Slugs are unique within a group.
type Group struct {
	Name   string `yaml:"name"`
	Events []Spec `yaml:"events"`
}

func (h *HandlerSpec) normalize(slug string) EventHandler {
	out := EventHandler{
		Kind:     h.Kind,
		Hook:     h.Hook,
		Priority: DefaultPriority,
		Arity:    DefaultArity,
		Callback: h.Callback,
	}
	if out.Kind == "" {
		out.Kind = KindAction
	}
	if out.Hook == "" {
		out.Hook = slug
	}
	if h.Priority != nil {
		out.Priority = *h.Priority
	}
	if h.Arity != nil {
		out.Arity = *h.Arity
	}
	return out
}
