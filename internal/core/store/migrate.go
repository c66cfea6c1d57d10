package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS place_cache (
		query TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		resolved_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_place_cache_expires ON place_cache(expires_at);`,
	`CREATE TABLE IF NOT EXISTS teleport_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL CHECK(length(actor) <= 16),
		place TEXT NOT NULL CHECK(length(place) <= 50),
		day TEXT NOT NULL CHECK(date(day) IS NOT NULL),
		created_at INTEGER DEFAULT (strftime('%s', 'now')),
		UNIQUE(actor, day) ON CONFLICT REPLACE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_actor_day ON teleport_ledger(actor, day DESC, place);`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_day ON teleport_ledger(day);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
