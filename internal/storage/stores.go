package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RecordStore inserts or updates a registry entry. CreatedAt is kept from
// the first insert.
func (s *Store) RecordStore(ctx context.Context, r StoreRecord) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = StoreActive
	}
	var cleanup sql.NullString
	if !r.CleanupAfter.IsZero() {
		cleanup = sql.NullString{String: formatTime(r.CleanupAfter), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, status, file_count, cleanup_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE stores.name END,
			status = excluded.status,
			file_count = CASE WHEN excluded.file_count > 0 THEN excluded.file_count ELSE stores.file_count END,
			cleanup_after = COALESCE(excluded.cleanup_after, stores.cleanup_after),
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Status, r.FileCount, cleanup, formatTime(r.CreatedAt), formatTime(now),
	)
	return err
}

// ScheduleStoreCleanup marks a store as awaiting deletion at at.
func (s *Store) ScheduleStoreCleanup(ctx context.Context, id string, at time.Time) error {
	return s.RecordStore(ctx, StoreRecord{ID: id, Status: StoreCleanupScheduled, CleanupAfter: at})
}

// MarkStoreDeleted flags a store as deleted. It returns ErrNotFound for
// stores this client never recorded.
func (s *Store) MarkStoreDeleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stores SET status = ?, updated_at = ? WHERE id = ?`,
		StoreDeleted, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// GetStoreRecord returns one registry entry.
func (s *Store) GetStoreRecord(ctx context.Context, id string) (StoreRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, file_count, cleanup_after, created_at, updated_at
		FROM stores WHERE id = ?`, id)
	r, err := scanStore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoreRecord{}, ErrNotFound
	}
	return r, err
}

// ListStoreRecords returns registry entries, newest first. Deleted stores
// are included only when includeDeleted is set.
func (s *Store) ListStoreRecords(ctx context.Context, includeDeleted bool) ([]StoreRecord, error) {
	query := `SELECT id, name, status, file_count, cleanup_after, created_at, updated_at FROM stores`
	var args []any
	if !includeDeleted {
		query += ` WHERE status <> ?`
		args = append(args, StoreDeleted)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoreRecord
	for rows.Next() {
		r, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStore(sc scanner) (StoreRecord, error) {
	var r StoreRecord
	var cleanup sql.NullString
	var createdAt, updatedAt string
	if err := sc.Scan(&r.ID, &r.Name, &r.Status, &r.FileCount, &cleanup, &createdAt, &updatedAt); err != nil {
		return StoreRecord{}, err
	}
	var err error
	if cleanup.Valid {
		if r.CleanupAfter, err = parseTime("cleanup_after", cleanup.String); err != nil {
			return StoreRecord{}, err
		}
	}
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return StoreRecord{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return StoreRecord{}, err
	}
	return r, nil
}
