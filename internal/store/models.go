package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ModelRow is the persisted form of a catalogue entry.
type ModelRow struct {
	ID           string
	Subject      string
	Location     string
	Kind         string
	Priority     int
	MaxIdleSec   int
	MemoryHintMB int
	RegisteredAt time.Time
	LastUsedAt   time.Time
	UsageCount   int64
	FootprintMB  int
}

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// InsertModel adds a new catalogue row. It fails if the id already exists.
func (s *Store) InsertModel(ctx context.Context, r ModelRow) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO models(id, subject, location, kind, priority, max_idle_sec, memory_hint_mb, registered_at, last_used_at, usage_count, footprint_mb)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID, r.Subject, r.Location, r.Kind, r.Priority, r.MaxIdleSec, r.MemoryHintMB,
		toMillis(r.RegisteredAt), toMillis(r.LastUsedAt), r.UsageCount, r.FootprintMB)
	return err
}

// DeleteModel removes a catalogue row.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateModelUsage records usage statistics handed over by the lifecycle manager.
func (s *Store) UpdateModelUsage(ctx context.Context, id string, lastUsed time.Time, usageCount int64, footprintMB int) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE models SET last_used_at=?, usage_count=?, footprint_mb=? WHERE id=?;`,
		toMillis(lastUsed), usageCount, footprintMB, id)
	return err
}

// GetModel loads one row by id.
func (s *Store) GetModel(ctx context.Context, id string) (ModelRow, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, subject, location, kind, priority, max_idle_sec, memory_hint_mb, registered_at, last_used_at, usage_count, footprint_mb
FROM models WHERE id=?;`, id)
	r, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelRow{}, ErrNotFound
	}
	return r, err
}

// ListModels returns all rows ordered by id.
func (s *Store) ListModels(ctx context.Context) ([]ModelRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, subject, location, kind, priority, max_idle_sec, memory_hint_mb, registered_at, last_used_at, usage_count, footprint_mb
FROM models ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelRow
	for rows.Next() {
		r, err := scanModel(rows)
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

func scanModel(sc scanner) (ModelRow, error) {
	var (
		r                      ModelRow
		registered, lastUsedMs int64
	)
	if err := sc.Scan(&r.ID, &r.Subject, &r.Location, &r.Kind, &r.Priority, &r.MaxIdleSec, &r.MemoryHintMB,
		&registered, &lastUsedMs, &r.UsageCount, &r.FootprintMB); err != nil {
		return ModelRow{}, err
	}
	r.RegisteredAt = fromMillis(registered)
	r.LastUsedAt = fromMillis(lastUsedMs)
	return r, nil
}
