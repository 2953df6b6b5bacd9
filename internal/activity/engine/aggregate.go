package engine

import (
	"time"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/store"
)

// shouldUpdate returns the open record the occurrence should increment, or
// nil to insert a new one.
//
// Error-flag definitions only increment while no successor record has been
// written since the candidate: a successful login closes the run of failed
// ones. A definition that is its own successor always inserts.
// Aggregatable definitions increment any match inside the window.
func (s *Session) shouldUpdate(def events.Definition, _ int64, objectID int64) (*store.LogRecord, error) {
	if !def.Counted() {
		return nil, nil
	}

	q := store.MostRecentQuery{
		EventID:  def.ID,
		ObjectID: objectID,
		SourceIP: s.req.IP,
		Since:    windowStart(s.engine.now(), s.engine.cfg.Window),
	}

	if def.ErrorFlag && def.Successor != nil && !def.Successor.IsZero() {
		succ, ok := s.registry.Resolve(*def.Successor)
		if !ok || succ.ID == def.ID {
			return nil, nil
		}

		match, err := s.engine.repo.SelectMostRecent(s.ctx, q)
		if err != nil || match == nil {
			return nil, err
		}

		closing, err := s.engine.repo.SelectMostRecent(s.ctx, store.MostRecentQuery{
			EventID:  succ.ID,
			ObjectID: objectID,
			SourceIP: s.req.IP,
		})
		if err != nil {
			return nil, err
		}
		if closing != nil && match.ID <= closing.ID {
			return nil, nil
		}
		return match, nil
	}

	return s.engine.repo.SelectMostRecent(s.ctx, q)
}

// windowStart is the earliest updated_at an open record may have at now.
func windowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return now.Add(-window)
}
