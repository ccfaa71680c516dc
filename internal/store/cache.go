package store

import (
	"context"
	"time"
)

// CacheRow is the persisted metadata of one cached model artifact.
type CacheRow struct {
	ModelID        string
	CacheKey       string
	BlobPath       string
	SizeBytes      int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	ContentHash    string
	Format         string
}

// PutCacheEntry inserts or replaces the entry for a model.
func (s *Store) PutCacheEntry(ctx context.Context, r CacheRow) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache_entries(model_id, cache_key, blob_path, size_bytes, created_at, last_accessed_at, access_count, content_hash, format)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(model_id) DO UPDATE SET
  cache_key=excluded.cache_key,
  blob_path=excluded.blob_path,
  size_bytes=excluded.size_bytes,
  created_at=excluded.created_at,
  last_accessed_at=excluded.last_accessed_at,
  access_count=excluded.access_count,
  content_hash=excluded.content_hash,
  format=excluded.format;`,
		r.ModelID, r.CacheKey, r.BlobPath, r.SizeBytes, toMillis(r.CreatedAt), toMillis(r.LastAccessedAt),
		r.AccessCount, r.ContentHash, r.Format)
	return err
}

// TouchCacheEntry updates access statistics.
func (s *Store) TouchCacheEntry(ctx context.Context, modelID string, at time.Time, accessCount int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cache_entries SET last_accessed_at=?, access_count=? WHERE model_id=?;`,
		toMillis(at), accessCount, modelID)
	return err
}

// DeleteCacheEntry removes the metadata row for a model. Missing rows are not an error.
func (s *Store) DeleteCacheEntry(ctx context.Context, modelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE model_id=?;`, modelID)
	return err
}

// ListCacheEntries returns all entries, least recently accessed first.
func (s *Store) ListCacheEntries(ctx context.Context) ([]CacheRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT model_id, cache_key, blob_path, size_bytes, created_at, last_accessed_at, access_count, content_hash, format
FROM cache_entries ORDER BY last_accessed_at ASC, model_id ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CacheRow
	for rows.Next() {
		var (
			r                 CacheRow
			created, accessed int64
		)
		if err := rows.Scan(&r.ModelID, &r.CacheKey, &r.BlobPath, &r.SizeBytes, &created, &accessed,
			&r.AccessCount, &r.ContentHash, &r.Format); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(created)
		r.LastAccessedAt = fromMillis(accessed)
		out = append(out, r)
	}
	return out, rows.Err()
}
