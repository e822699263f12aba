package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration is one schema step. IDs are applied in ascending order and
// recorded in schema_migrations.
type migration struct {
	ID   int
	Name string
	Up   string
}

var migrations = []migration{
	{
		ID:   1,
		Name: "create_stories_table",
		Up: `
			CREATE TABLE IF NOT EXISTS stories (
				id          INTEGER PRIMARY KEY,
				title       TEXT    NOT NULL DEFAULT '',
				url         TEXT    NOT NULL DEFAULT '',
				content     TEXT    NOT NULL DEFAULT '',
				summary     TEXT    NOT NULL DEFAULT '',
				is_read     INTEGER NOT NULL DEFAULT 0,
				is_saved    INTEGER NOT NULL DEFAULT 0,
				last_opened INTEGER NOT NULL DEFAULT 0
			)
		`,
	},
	{
		ID:   2,
		Name: "index_stories_housekeeping",
		Up:   `CREATE INDEX IF NOT EXISTS idx_stories_last_opened ON stories (last_opened, is_saved)`,
	},
}

// migrate applies pending migrations, each in its own transaction.
func migrate(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id         INTEGER PRIMARY KEY,
			name       TEXT    NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, "SELECT id FROM schema_migrations ORDER BY id"); err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, id := range applied {
		done[id] = true
	}

	for _, m := range migrations {
		if done[m.ID] {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.ID, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (id, name, applied_at) VALUES (?, ?, strftime('%s','now'))",
			m.ID, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.ID, err)
		}
	}

	return nil
}
