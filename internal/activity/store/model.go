// Package store persists activity log records. The Repository contract is
// the only thing the engine knows about storage; MariaDB backs it in
// production and MemoryRepository backs it in tests and the memory store
// mode.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("activity record not found")

// LogRecord is one row of activity_log. The four text columns hold
// flattened field lists (see package flatten).
type LogRecord struct {
	ID          int64  `json:"id"`
	EventID     int    `json:"eventId"`
	EventSlug   string `json:"eventSlug"`
	EventGroup  string `json:"eventGroup"`
	EventObject string `json:"eventObject"`
	EventAction string `json:"eventAction"`
	EventTitle  string `json:"eventTitle"`
	Severity    string `json:"severity"`

	UserID   int64  `json:"userId"`
	ObjectID int64  `json:"objectId"`
	SourceIP string `json:"sourceIp"`

	Message    string `json:"message"`
	UserData   string `json:"userData"`
	ObjectData string `json:"objectData"`
	Metadata   string `json:"metadata"`

	// LogCounter is how many occurrences this record stands for. Always >= 1.
	LogCounter int `json:"logCounter"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordUpdate is the part of a record an aggregated occurrence rewrites.
// The repository increments log_counter itself.
type RecordUpdate struct {
	Message    string
	UserData   string
	ObjectData string
	Metadata   string
	UpdatedAt  time.Time
}

// MostRecentQuery selects the newest record (highest id) for an event,
// object and source address. A zero Since matches all time; otherwise
// records with updated_at >= Since match.
type MostRecentQuery struct {
	EventID  int
	ObjectID int64
	SourceIP string
	Since    time.Time
}

// ListFilter narrows the activity feed. Zero values do not filter.
type ListFilter struct {
	EventID  int
	Group    string
	ObjectID int64
	UserID   int64
	Severity string
	Limit    int
	Offset   int
}

// DefaultListLimit applies when ListFilter.Limit is not positive.
const DefaultListLimit = 50
