package activitylog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/engine"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/snapshot"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/store"
	"github.com/keyxmakerx/chronicle-activity/internal/apperror"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
	"github.com/keyxmakerx/chronicle-activity/internal/sanitize"
)

// perPage is the number of records shown per feed page.
const perPage = store.DefaultListLimit

// ActivityService runs ingest batches through the engine and serves the
// stored records.
type ActivityService interface {
	// Ingest replays one request's hook calls through a fresh engine
	// session. Persistence failures are returned only in strict mode.
	Ingest(ctx context.Context, in *IngestRequest) (*IngestResponse, error)

	// Feed returns a page of records, newest first.
	Feed(ctx context.Context, q FeedQuery) (*FeedPage, error)

	// Get returns one record prepared for display.
	Get(ctx context.Context, id int64) (*Entry, error)
}

// Runner is the part of the engine the service drives.
type Runner interface {
	Begin(ctx context.Context, req reqctx.Request, meta snapshot.MetaReader) *engine.Session
	Hooks() *hooks.Hooks
}

type activityService struct {
	engine Runner
	repo   store.Repository
}

// NewActivityService creates the service. The engine's process-wide hooks
// also carry the display filter.
func NewActivityService(eng Runner, repo store.Repository) ActivityService {
	return &activityService{engine: eng, repo: repo}
}

// Ingest validates the batch before opening a session so a malformed call
// never leaves a half-processed request behind.
func (s *activityService) Ingest(ctx context.Context, in *IngestRequest) (*IngestResponse, error) {
	if in == nil {
		return nil, apperror.NewBadRequest("request body is required")
	}
	if len(in.Calls) > maxCalls {
		return nil, apperror.NewValidation(fmt.Sprintf("at most %d hook calls per request", maxCalls))
	}
	for i, call := range in.Calls {
		if call.Hook == "" {
			return nil, apperror.NewValidation(fmt.Sprintf("call %d: hook is required", i))
		}
		switch call.Kind {
		case CallAction:
		case CallFilter:
			if len(call.Args) == 0 {
				return nil, apperror.NewValidation(fmt.Sprintf("call %d: filter %s needs a value argument", i, call.Hook))
			}
		default:
			return nil, apperror.NewValidation(fmt.Sprintf("call %d: kind must be %q or %q", i, CallAction, CallFilter))
		}
	}

	var meta snapshot.MetaReader
	if in.Meta != nil {
		meta = in.Meta
	}
	sess := s.engine.Begin(ctx, in.Request, meta)

	values := make([]any, len(in.Calls))
	for i, call := range in.Calls {
		if call.Kind == CallFilter {
			values[i] = sess.Hooks().ApplyFilters(call.Hook, call.Args[0], call.Args[1:]...)
			continue
		}
		sess.Hooks().DoAction(call.Hook, call.Args...)
	}
	sess.End()

	results := sess.Results()
	counts := make(map[engine.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}

	if err := sess.Err(); err != nil {
		slog.Error("activity ingest failed",
			slog.String("request_id", in.Request.RequestID),
			slog.Int("calls", len(in.Calls)),
			slog.Any("error", err),
		)
		return nil, apperror.NewInternal(fmt.Errorf("persisting activity: %w", err))
	}

	return &IngestResponse{
		RequestID: in.Request.RequestID,
		Results:   results,
		Counts:    counts,
		Values:    values,
	}, nil
}

// Feed clamps the page to 1 and rejects unknown severities.
func (s *activityService) Feed(ctx context.Context, q FeedQuery) (*FeedPage, error) {
	if q.Severity != "" && !events.Severity(q.Severity).Valid() {
		return nil, apperror.NewBadRequest(fmt.Sprintf("unknown severity %q", q.Severity))
	}
	if q.Page < 1 {
		q.Page = 1
	}

	records, total, err := s.repo.List(ctx, store.ListFilter{
		EventID:  q.EventID,
		Group:    q.Group,
		ObjectID: q.ObjectID,
		UserID:   q.UserID,
		Severity: q.Severity,
		Limit:    perPage,
		Offset:   (q.Page - 1) * perPage,
	})
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing activity: %w", err))
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, s.display(rec))
	}
	return &FeedPage{Entries: entries, Total: total, Page: q.Page, PerPage: perPage}, nil
}

// Get returns one record by id.
func (s *activityService) Get(ctx context.Context, id int64) (*Entry, error) {
	if id < 1 {
		return nil, apperror.NewBadRequest("record ID must be positive")
	}

	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NewNotFound("activity record not found")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding activity record: %w", err))
	}

	entry := s.display(*rec)
	return &entry, nil
}

// display runs the message through the display filter, parses the flattened
// columns and strips markup from every value.
func (s *activityService) display(rec store.LogRecord) Entry {
	message := hooks.Filter(s.engine.Hooks(), HookMessageDisplay, rec.Message, rec)
	fields := sanitize.Fields(flatten.Parse(message))

	summary := sanitize.Text(rec.EventTitle)
	for _, f := range fields {
		if f.Name == events.FieldMain && f.Value != "" {
			summary = f.Value
		}
	}

	return Entry{
		LogRecord:     rec,
		Summary:       summary,
		MessageFields: fields,
		UserFields:    sanitize.Fields(flatten.Parse(rec.UserData)),
		ObjectFields:  sanitize.Fields(flatten.Parse(rec.ObjectData)),
		MetaFields:    sanitize.Fields(flatten.Parse(rec.Metadata)),
	}
}
