package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_WindowBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, &LogRecord{EventID: 5001, ObjectID: 42, SourceIP: "10.0.0.1", CreatedAt: at}))

	q := MostRecentQuery{EventID: 5001, ObjectID: 42, SourceIP: "10.0.0.1", Since: at}
	rec, err := repo.SelectMostRecent(ctx, q)
	require.NoError(t, err)
	assert.NotNil(t, rec, "a record exactly at the window start matches")

	q.Since = at.Add(time.Nanosecond)
	rec, err = repo.SelectMostRecent(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, rec, "one unit past the window start does not match")

	q.Since = time.Time{}
	rec, err = repo.SelectMostRecent(ctx, q)
	require.NoError(t, err)
	assert.NotNil(t, rec, "zero since matches all time")
}

func TestMemory_MostRecentIsHighestID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	for j := 0; j < 3; j++ {
		require.NoError(t, repo.Insert(ctx, &LogRecord{EventID: 5001, ObjectID: 42, SourceIP: "10.0.0.1", CreatedAt: at}))
	}
	require.NoError(t, repo.Insert(ctx, &LogRecord{EventID: 5001, ObjectID: 43, SourceIP: "10.0.0.1", CreatedAt: at}))

	rec, err := repo.SelectMostRecent(ctx, MostRecentQuery{EventID: 5001, ObjectID: 42, SourceIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.ID)
}

func TestMemory_UpdateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	rec := &LogRecord{EventID: 5001, EventGroup: "user", Severity: "warning"}
	require.NoError(t, repo.Insert(ctx, rec))
	require.NoError(t, repo.Insert(ctx, &LogRecord{EventID: 6000, EventGroup: "post", Severity: "notice"}))

	require.NoError(t, repo.Update(ctx, rec.ID, RecordUpdate{Message: "again"}))
	assert.ErrorIs(t, repo.Update(ctx, 99, RecordUpdate{}), ErrNotFound)

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LogCounter)
	assert.Equal(t, "again", got.Message)

	recs, total, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, int64(2), recs[0].ID, "newest first")

	n, err := repo.Count(ctx, ListFilter{Group: "user"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListFilter_RejectsUnknownColumn(t *testing.T) {
	filterColumns["event_group"] = false
	defer func() { filterColumns["event_group"] = true }()

	assert.Panics(t, func() { ListFilter{Group: "user"}.where() })
}
