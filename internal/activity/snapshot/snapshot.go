// Package snapshot keeps the pre-mutation state of objects touched during a
// request. Observers attach to the earliest priority of the host's
// pre-update hooks so the audit handlers, which run later, can compare old
// and new values. Nothing here is persisted.
package snapshot

import (
	"math"
	"reflect"
	"strconv"
	"sync"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

// Snapshot keys written by the built-in observers.
const (
	KeyPost         = "post"
	KeyTerm         = "term"
	KeyTermTaxonomy = "edit_term_taxonomy"
)

// Meta types with an update_<type>_metadata observer.
var MetaTypes = []string{"post", "user", "term", "comment"}

// Priority runs observers before any audit handler on the same hook.
const Priority = math.MinInt32

// Snapshot is one captured prior state.
type Snapshot map[string]any

// MetaReader performs an uncached read of a metadata value.
type MetaReader interface {
	ReadMeta(metaType string, objectID int64, key string) (any, bool)
}

// Store is the request-scoped snapshot map. The zero value is not usable;
// call New.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
	meta  MetaReader
}

// New creates an empty store. meta may be nil, in which case metadata
// captures are skipped.
func New(meta MetaReader) *Store {
	return &Store{snaps: make(map[string]Snapshot), meta: meta}
}

// Capture stores snap under key, replacing any earlier capture.
func (s *Store) Capture(key string, snap Snapshot) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[key] = snap
}

// Get returns the snapshot under key, or nil.
func (s *Store) Get(key string) Snapshot {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[key]
}

// Field returns one field of the snapshot under key. When the field is
// absent the whole snapshot is returned instead; consumers rely on getting
// the container back.
func (s *Store) Field(key, field string) any {
	snap := s.Get(key)
	if v, ok := snap[field]; ok {
		return v
	}
	if snap == nil {
		return nil
	}
	return snap
}

// Has reports whether a snapshot exists under key.
func (s *Store) Has(key string) bool {
	return s.Get(key) != nil
}

// Forget drops the snapshot under key.
func (s *Store) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, key)
}

// MetaKey is the snapshot key for one metadata entry of one object.
func MetaKey(metaType string, objectID int64, metaKey string) string {
	return metaType + "_meta:" + strconv.FormatInt(objectID, 10) + ":" + metaKey
}

// CaptureMeta records the current value of a metadata entry that is about to
// be set to next. A no-op update (next equals the stored value) clears any
// earlier capture for the entry so it is not reported as a change.
func (s *Store) CaptureMeta(metaType string, objectID int64, key string, next any) bool {
	if s == nil || s.meta == nil {
		return false
	}
	snapKey := MetaKey(metaType, objectID, key)
	prev, ok := s.meta.ReadMeta(metaType, objectID, key)
	if ok && same(prev, next) {
		s.Forget(snapKey)
		return false
	}
	s.Capture(snapKey, Snapshot{
		"object_id":  objectID,
		"meta_key":   key,
		"meta_value": prev,
		"existed":    ok,
	})
	return true
}

func same(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return flatten.Map(a) == flatten.Map(b)
}

// Attach registers the observers on h at Priority.
//
//	pre_post_update(post_id, prior_post)
//	edit_terms(term_id, taxonomy, prior_term)
//	edit_term_taxonomy(tt_id, taxonomy, prior_term_taxonomy)
//	update_<type>_metadata filter(check, object_id, meta_key, meta_value)
func (s *Store) Attach(h *hooks.Hooks) {
	h.AddAction("pre_post_update", func(args ...any) {
		s.Capture(KeyPost, withID(args[1], "ID", args[0]))
	}, Priority, 2)

	h.AddAction("edit_terms", func(args ...any) {
		snap := withID(args[2], "term_id", args[0])
		snap["taxonomy"] = args[1]
		s.Capture(KeyTerm, snap)
	}, Priority, 3)

	h.AddAction("edit_term_taxonomy", func(args ...any) {
		snap := withID(args[2], "term_taxonomy_id", args[0])
		snap["taxonomy"] = args[1]
		s.Capture(KeyTermTaxonomy, snap)
	}, Priority, 3)

	for _, mt := range MetaTypes {
		mt := mt // per-iteration copy; go.mod targets go1.21 loop semantics
		h.AddFilter("update_"+mt+"_metadata", func(check any, args ...any) any {
			if len(args) < 3 {
				return check
			}
			id, ok := flatten.Int(args[0])
			key, _ := args[1].(string)
			if ok && key != "" {
				s.CaptureMeta(mt, id, key, args[2])
			}
			return check
		}, Priority)
	}
}

// withID copies a prior-state mapping and makes sure it carries its id.
func withID(v any, idField string, id any) Snapshot {
	snap := Snapshot{}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			snap[k] = val
		}
	}
	if _, ok := snap[idField]; !ok {
		snap[idField] = id
	}
	return snap
}

// MapMetaReader serves metadata reads from an in-memory table keyed by meta
// type, object id and meta key.
type MapMetaReader map[string]map[int64]map[string]any

// ReadMeta implements MetaReader.
func (m MapMetaReader) ReadMeta(metaType string, objectID int64, key string) (any, bool) {
	v, ok := m[metaType][objectID][key]
	return v, ok
}
