package events

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Reserved message template field names.
const (
	FieldMain       = "_main"
	FieldSpaceStart = "_space_start"
	FieldSpaceEnd   = "_space_end"
	FieldEventID    = "_event_id"
)

// SourceKind says where a template entry takes its value from.
type SourceKind int

const (
	// SourceLiteral renders Literal verbatim.
	SourceLiteral SourceKind = iota
	// SourceLookup resolves Path against the occurrence field values.
	SourceLookup
	// SourceBefore resolves Path as [snapshot key, field] against the
	// pre-mutation snapshots.
	SourceBefore
)

// ValueSource is the right-hand side of a template entry.
type ValueSource struct {
	Kind    SourceKind
	Literal string
	Path    []string
}

// Literal builds a literal value source.
func Literal(s string) ValueSource { return ValueSource{Kind: SourceLiteral, Literal: s} }

// Lookup builds a field-lookup value source.
func Lookup(path ...string) ValueSource { return ValueSource{Kind: SourceLookup, Path: path} }

// Before builds a snapshot value source.
func Before(key, field string) ValueSource {
	return ValueSource{Kind: SourceBefore, Path: []string{key, field}}
}

// TemplateEntry is one field of a message template.
type TemplateEntry struct {
	Field  string
	Source ValueSource
}

// MessageTemplate is an ordered mapping of field name to value source.
type MessageTemplate []TemplateEntry

// Get returns the source for field.
func (m MessageTemplate) Get(field string) (ValueSource, bool) {
	for _, e := range m {
		if e.Field == field {
			return e.Source, true
		}
	}
	return ValueSource{}, false
}

// With returns a copy of m with field set to src, replacing an existing
// entry in place or appending a new one.
func (m MessageTemplate) With(field string, src ValueSource) MessageTemplate {
	out := make(MessageTemplate, len(m), len(m)+1)
	copy(out, m)
	for i := range out {
		if out[i].Field == field {
			out[i].Source = src
			return out
		}
	}
	return append(out, TemplateEntry{Field: field, Source: src})
}

// eventIDOverride returns the `_event_id` literal when it is long enough to
// count as an explicit id.
func (m MessageTemplate) eventIDOverride() (string, bool) {
	src, ok := m.Get(FieldEventID)
	if !ok || src.Kind != SourceLiteral || len(src.Literal) < 4 {
		return "", false
	}
	return src.Literal, true
}

// UnmarshalYAML decodes a mapping while keeping key order:
//
//	message:
//	  _main: Added a user to the site
//	  user_login: [user_login]
//	  previous_title: {before: [post, post_title]}
func (m *MessageTemplate) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: message must be a mapping", node.Line)
	}
	out := make(MessageTemplate, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		src, err := decodeSource(val)
		if err != nil {
			return fmt.Errorf("message field %q: %w", key.Value, err)
		}
		out = append(out, TemplateEntry{Field: key.Value, Source: src})
	}
	*m = out
	return nil
}

func decodeSource(node *yaml.Node) (ValueSource, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return Literal(node.Value), nil
	case yaml.SequenceNode:
		var path []string
		if err := node.Decode(&path); err != nil {
			return ValueSource{}, err
		}
		return Lookup(path...), nil
	case yaml.MappingNode:
		var m struct {
			Before []string `yaml:"before"`
		}
		if err := node.Decode(&m); err != nil {
			return ValueSource{}, err
		}
		if len(m.Before) != 2 {
			return ValueSource{}, fmt.Errorf("line %d: before needs [snapshot, field]", node.Line)
		}
		return Before(m.Before[0], m.Before[1]), nil
	}
	return ValueSource{}, fmt.Errorf("line %d: unsupported value", node.Line)
}

func parseEventID(s string) (int, bool) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return id, true
}
