package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository. Records live until the
// process exits.
type MemoryRepository struct {
	mu      sync.Mutex
	records []LogRecord
	nextID  int64
	now     func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1, now: func() time.Time { return time.Now().UTC() }}
}

// SelectMostRecent implements Repository.
func (r *MemoryRepository) SelectMostRecent(_ context.Context, q MostRecentQuery) (*LogRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.EventID != q.EventID || rec.ObjectID != q.ObjectID || rec.SourceIP != q.SourceIP {
			continue
		}
		if !q.Since.IsZero() && rec.UpdatedAt.Before(q.Since) {
			continue
		}
		return &rec, nil
	}
	return nil, nil
}

// Insert implements Repository.
func (r *MemoryRepository) Insert(_ context.Context, rec *LogRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.LogCounter < 1 {
		rec.LogCounter = 1
	}
	rec.ID = r.nextID
	r.nextID++
	r.records = append(r.records, *rec)
	return nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(_ context.Context, id int64, u RecordUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return ErrNotFound
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = r.now()
	}
	rec := &r.records[i]
	rec.Message = u.Message
	rec.UserData = u.UserData
	rec.ObjectData = u.ObjectData
	rec.Metadata = u.Metadata
	rec.UpdatedAt = u.UpdatedAt
	rec.LogCounter++
	return nil
}

// FindByID implements Repository.
func (r *MemoryRepository) FindByID(_ context.Context, id int64) (*LogRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	rec := r.records[i]
	return &rec, nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]LogRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := r.match(f)
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := min(f.Offset+limit, total)
	return matched[f.Offset:end], total, nil
}

// Count implements Repository.
func (r *MemoryRepository) Count(_ context.Context, f ListFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.match(f)), nil
}

// Records returns a copy of every record in insertion order.
func (r *MemoryRepository) Records() []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.records)
}

// match returns matching records newest first.
func (r *MemoryRepository) match(f ListFilter) []LogRecord {
	var out []LogRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		switch {
		case f.EventID > 0 && rec.EventID != f.EventID,
			f.Group != "" && rec.EventGroup != f.Group,
			f.ObjectID > 0 && rec.ObjectID != f.ObjectID,
			f.UserID > 0 && rec.UserID != f.UserID,
			f.Severity != "" && rec.Severity != f.Severity:
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (r *MemoryRepository) index(id int64) int {
	for i := range r.records {
		if r.records[i].ID == id {
			return i
		}
	}
	return -1
}

// SetClock replaces the clock used for default timestamps.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
