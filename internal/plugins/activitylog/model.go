// Package activitylog is the HTTP surface of the activity engine. The host
// application forwards the hooks it fires during a request to the ingest
// endpoint, which replays them through one engine session; the feed
// endpoints and the activity page read the resulting records back.
package activitylog

import (
	"github.com/keyxmakerx/chronicle-activity/internal/activity/engine"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/snapshot"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/store"
)

// HookMessageDisplay filters a stored message (string) before it is parsed
// for display. Args: store.LogRecord.
const HookMessageDisplay = "activity_message_display"

// Hook call kinds accepted by the ingest endpoint.
const (
	CallAction = "action"
	CallFilter = "filter"
)

// maxCalls bounds one ingest batch.
const maxCalls = 500

// HookCall is one hook the host fired, in firing order. For filters Args[0]
// is the value being filtered.
type HookCall struct {
	Kind string `json:"kind"`
	Hook string `json:"hook"`
	Args []any  `json:"args"`
}

// IngestRequest is the body of POST /api/v1/activity/hooks.
type IngestRequest struct {
	Request reqctx.Request `json:"request"`

	// Meta answers the raw metadata reads snapshot observers make, keyed by
	// meta type, object id and meta key.
	Meta snapshot.MapMetaReader `json:"meta,omitempty"`

	Calls []HookCall `json:"calls"`
}

// IngestResponse reports what the session did with each occurrence.
type IngestResponse struct {
	RequestID string                 `json:"requestId"`
	Results   []engine.Result        `json:"results"`
	Counts    map[engine.Outcome]int `json:"counts"`

	// Values holds the final value of every filter call, aligned with
	// Calls. Action calls leave a null.
	Values []any `json:"values"`
}

// FeedQuery selects a page of the activity feed. Pages are 1-indexed.
type FeedQuery struct {
	Page     int
	EventID  int
	Group    string
	ObjectID int64
	UserID   int64
	Severity string
}

// Entry is a record prepared for display. Text columns are parsed and
// stripped of markup.
type Entry struct {
	store.LogRecord

	// Summary is the main message line, or the event title when the
	// message has none.
	Summary string `json:"summary"`

	MessageFields []flatten.Field `json:"messageFields"`
	UserFields    []flatten.Field `json:"userFields"`
	ObjectFields  []flatten.Field `json:"objectFields"`
	MetaFields    []flatten.Field `json:"metaFields"`
}

// FeedPage is one page of the feed.
type FeedPage struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"perPage"`
}

// TotalPages returns the number of pages the feed spans.
func (p *FeedPage) TotalPages() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}
