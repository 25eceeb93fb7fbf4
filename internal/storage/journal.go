package storage

import (
	"context"
	"time"
)

// AppendJournal stores e and returns its row id. A zero CreatedAt is
// replaced with the current time.
func (s *Store) AppendJournal(ctx context.Context, e JournalEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.DataJSON == "" {
		e.DataJSON = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO journal (created_at, phase, store_id, model, data_json)
		VALUES (?, ?, ?, ?, ?)`,
		formatTime(e.CreatedAt), e.Phase, e.StoreID, e.Model, e.DataJSON,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentJournal returns up to limit entries, newest first. A non-empty
// storeID restricts the result to that store.
func (s *Store) RecentJournal(ctx context.Context, limit int, storeID string) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, created_at, phase, store_id, model, data_json FROM journal`
	args := []any{}
	if storeID != "" {
		query += ` WHERE store_id = ?`
		args = append(args, storeID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &createdAt, &e.Phase, &e.StoreID, &e.Model, &e.DataJSON); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
