package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the data access contract for activity records.
// All SQL lives in the concrete implementation.
type Repository interface {
	// SelectMostRecent returns the newest matching record, or nil when none
	// matches.
	SelectMostRecent(ctx context.Context, q MostRecentQuery) (*LogRecord, error)

	// Insert stores a new record and sets its ID.
	Insert(ctx context.Context, rec *LogRecord) error

	// Update rewrites the mutable columns of record id and increments its
	// counter.
	Update(ctx context.Context, id int64, u RecordUpdate) error

	// FindByID returns one record or ErrNotFound.
	FindByID(ctx context.Context, id int64) (*LogRecord, error)

	// List returns a page of records, newest first, plus the total count.
	List(ctx context.Context, f ListFilter) ([]LogRecord, int, error)

	// Count returns the number of records matching f.
	Count(ctx context.Context, f ListFilter) (int, error)
}

const recordColumns = `id, event_id, event_slug, event_group, event_object, event_action,
	event_title, severity, user_id, object_id, source_ip, message, user_data,
	object_data, metadata, log_counter, created_at, updated_at`

// filterColumns are the only columns a ListFilter may constrain.
var filterColumns = map[string]bool{
	"event_id":    true,
	"event_group": true,
	"object_id":   true,
	"user_id":     true,
	"severity":    true,
}

// mariaRepository implements Repository with MariaDB queries.
type mariaRepository struct {
	db *sql.DB
}

// NewMariaRepository creates a repository backed by the given DB pool.
func NewMariaRepository(db *sql.DB) Repository {
	return &mariaRepository{db: db}
}

// SelectMostRecent orders by id so ties on timestamps resolve to the last
// inserted row.
func (r *mariaRepository) SelectMostRecent(ctx context.Context, q MostRecentQuery) (*LogRecord, error) {
	query := `SELECT ` + recordColumns + `
	          FROM activity_log
	          WHERE event_id = ? AND object_id = ? AND source_ip = ?`
	args := []any{q.EventID, q.ObjectID, q.SourceIP}
	if !q.Since.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, q.Since.UTC())
	}
	query += ` ORDER BY id DESC LIMIT 1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting most recent activity record: %w", err)
	}
	return rec, nil
}

// Insert stores rec. Zero timestamps default to now and a zero counter to 1.
func (r *mariaRepository) Insert(ctx context.Context, rec *LogRecord) error {
	query := `INSERT INTO activity_log (event_id, event_slug, event_group, event_object,
	              event_action, event_title, severity, user_id, object_id, source_ip,
	              message, user_data, object_data, metadata, log_counter, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.LogCounter < 1 {
		rec.LogCounter = 1
	}

	result, err := r.db.ExecContext(ctx, query,
		rec.EventID, rec.EventSlug, rec.EventGroup, rec.EventObject,
		rec.EventAction, rec.EventTitle, rec.Severity, rec.UserID, rec.ObjectID, rec.SourceIP,
		rec.Message, rec.UserData, rec.ObjectData, rec.Metadata, rec.LogCounter,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting activity record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting activity record id: %w", err)
	}
	rec.ID = id
	return nil
}

// Update increments log_counter in the statement itself so concurrent
// increments are not lost.
func (r *mariaRepository) Update(ctx context.Context, id int64, u RecordUpdate) error {
	query := `UPDATE activity_log
	          SET message = ?, user_data = ?, object_data = ?, metadata = ?,
	              log_counter = log_counter + 1, updated_at = ?
	          WHERE id = ?`

	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, query,
		u.Message, u.UserData, u.ObjectData, u.Metadata, u.UpdatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("updating activity record %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking activity record update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByID returns one record.
func (r *mariaRepository) FindByID(ctx context.Context, id int64) (*LogRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM activity_log WHERE id = ?`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding activity record %d: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first.
func (r *mariaRepository) List(ctx context.Context, f ListFilter) ([]LogRecord, int, error) {
	total, err := r.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	where, args := f.where()
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + recordColumns + ` FROM activity_log` + where + `
	          ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing activity records: %w", err)
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning activity record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating activity rows: %w", err)
	}
	return out, total, nil
}

// Count returns the number of records matching f.
func (r *mariaRepository) Count(ctx context.Context, f ListFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting activity records: %w", err)
	}
	return n, nil
}

// where builds the WHERE clause for f, in a fixed column order.
func (f ListFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, v any) {
		if !filterColumns[column] {
			panic("store: unsupported filter column " + column)
		}
		conds = append(conds, column+" = ?")
		args = append(args, v)
	}
	if f.EventID > 0 {
		add("event_id", f.EventID)
	}
	if f.Group != "" {
		add("event_group", f.Group)
	}
	if f.ObjectID > 0 {
		add("object_id", f.ObjectID)
	}
	if f.UserID > 0 {
		add("user_id", f.UserID)
	}
	if f.Severity != "" {
		add("severity", f.Severity)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*LogRecord, error) {
	var rec LogRecord
	err := s.Scan(
		&rec.ID, &rec.EventID, &rec.EventSlug, &rec.EventGroup, &rec.EventObject, &rec.EventAction,
		&rec.EventTitle, &rec.Severity, &rec.UserID, &rec.ObjectID, &rec.SourceIP, &rec.Message, &rec.UserData,
		&rec.ObjectData, &rec.Metadata, &rec.LogCounter, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
