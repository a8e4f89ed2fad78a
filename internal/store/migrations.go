package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS closed_tabs (
		id          TEXT PRIMARY KEY,
		tab_id      INTEGER NOT NULL,
		window_id   INTEGER NOT NULL,
		title       TEXT NOT NULL,
		url         TEXT NOT NULL,
		favicon_url TEXT,
		reason      TEXT NOT NULL,
		closed_at   INTEGER NOT NULL,
		inactive_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_closed_tabs_closed_at ON closed_tabs(closed_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}
