package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	perrors "github.com/p-blackswan/tabcleaner/internal/errors"
)

// SQLStore handles SQLite operations for the closed_tabs table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert writes records in one transaction.
func (s *SQLStore) Insert(ctx context.Context, records ...ClosedTab) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
	INSERT INTO closed_tabs (id, tab_id, window_id, title, url, favicon_url, reason, closed_at, inactive_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range records {
		var favicon sql.NullString
		if r.FavIconURL != "" {
			favicon = sql.NullString{String: r.FavIconURL, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.TabID, r.WindowID, r.Title, r.URL, favicon, string(r.Reason), r.ClosedAt, r.InactiveMS,
		); err != nil {
			return fmt.Errorf("failed to save closed tab %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// List returns every record, most recent first.
func (s *SQLStore) List(ctx context.Context) ([]ClosedTab, error) {
	query := `
	SELECT id, tab_id, window_id, title, url, COALESCE(favicon_url, ''), reason, closed_at, inactive_ms
	FROM closed_tabs
	ORDER BY closed_at DESC, rowid DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed tabs: %w", err)
	}
	defer rows.Close()

	records := []ClosedTab{}
	for rows.Next() {
		r, err := scanClosedTab(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns a single record or errors.ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, id string) (ClosedTab, error) {
	query := `
	SELECT id, tab_id, window_id, title, url, COALESCE(favicon_url, ''), reason, closed_at, inactive_ms
	FROM closed_tabs
	WHERE id = ?
	`

	r, err := scanClosedTab(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ClosedTab{}, fmt.Errorf("closed tab %s: %w", id, perrors.ErrNotFound)
	}
	return r, err
}

// Delete removes a record. It returns errors.ErrNotFound when nothing was deleted.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM closed_tabs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete closed tab: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("closed tab %s: %w", id, perrors.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClosedTab(row scanner) (ClosedTab, error) {
	var (
		r      ClosedTab
		reason string
	)
	if err := row.Scan(&r.ID, &r.TabID, &r.WindowID, &r.Title, &r.URL, &r.FavIconURL, &reason, &r.ClosedAt, &r.InactiveMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan closed tab: %w", err)
	}
	r.Reason = Reason(reason)
	return r, nil
}
