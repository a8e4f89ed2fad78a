package store

import (
	"context"
	"fmt"
	"time"
)

// RunRetention applies the recovery list bounds: entries older than maxAge
// are deleted and only the newest keep entries survive.
func (s *Store) RunRetention(ctx context.Context, now time.Time, maxAge time.Duration, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM closed_tabs WHERE closed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old closed tabs: %w", err)
	}
	aged, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM closed_tabs WHERE id NOT IN (
			SELECT id FROM closed_tabs ORDER BY closed_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return aged, fmt.Errorf("failed to cap closed tabs: %w", err)
	}
	capped, _ := res.RowsAffected()

	return aged + capped, nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
