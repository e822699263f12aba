// Package store persists per-story reader state in SQLite: read and saved
// flags, extracted article bodies, summaries and the time a story was
// last opened. Rows that have not been opened for a while are evicted
// unless saved.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DefaultRetentionDays is how long an unsaved story is kept after it was last opened.
const DefaultRetentionDays = 30

// ErrNotFound is returned when no row exists for the story.
var ErrNotFound = errors.New("story not found")

// Story is one persisted row.
type Story struct {
	ID         int    `db:"id" json:"id"`
	Title      string `db:"title" json:"title"`
	URL        string `db:"url" json:"url,omitempty"`
	Content    string `db:"content" json:"content,omitempty"`
	Summary    string `db:"summary" json:"summary,omitempty"`
	IsRead     bool   `db:"is_read" json:"is_read"`
	IsSaved    bool   `db:"is_saved" json:"is_saved"`
	LastOpened int64  `db:"last_opened" json:"last_opened"`
}

// Opened returns LastOpened as a time.
func (s *Story) Opened() time.Time {
	return time.Unix(s.LastOpened, 0)
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sqlx.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at dsn and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{
		db:     db,
		logger: log.With().Str("component", "store").Logger(),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkRead flags the story as read and stamps it as opened now.
func (s *Store) MarkRead(ctx context.Context, it item.Item) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO stories (id, title, url, is_read, last_opened)
		VALUES (:id, :title, :url, 1, :now)
		ON CONFLICT(id) DO UPDATE SET
			is_read = 1,
			last_opened = excluded.last_opened`,
		map[string]interface{}{
			"id":    it.ID,
			"title": titleOrDefault(it),
			"url":   it.URL,
			"now":   s.now().Unix(),
		})
	if err != nil {
		return fmt.Errorf("mark read %d: %w", it.ID, err)
	}
	return nil
}

// SetSaved sets or clears the saved flag. Saved stories survive Cleanup.
func (s *Store) SetSaved(ctx context.Context, id int, saved bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (id, is_saved, last_opened) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_saved = excluded.is_saved`,
		id, saved, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set saved %d: %w", id, err)
	}
	return nil
}

// SaveContent stores the extracted article body.
func (s *Store) SaveContent(ctx context.Context, id int, content string) error {
	return s.setText(ctx, "content", id, content)
}

// SaveSummary stores the generated summary.
func (s *Store) SaveSummary(ctx context.Context, id int, summary string) error {
	return s.setText(ctx, "summary", id, summary)
}

// setText upserts one text column. column is never caller input.
func (s *Store) setText(ctx context.Context, column string, id int, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO stories (id, %[1]s, last_opened) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET %[1]s = excluded.%[1]s`, column)
	if _, err := s.db.ExecContext(ctx, query, id, value, s.now().Unix()); err != nil {
		return fmt.Errorf("save %s %d: %w", column, id, err)
	}
	return nil
}

// ReadIDs returns the IDs of all read stories.
func (s *Store) ReadIDs(ctx context.Context) (map[int]bool, error) {
	return s.idSet(ctx, "SELECT id FROM stories WHERE is_read = 1")
}

// SavedIDs returns the IDs of all saved stories.
func (s *Store) SavedIDs(ctx context.Context) (map[int]bool, error) {
	return s.idSet(ctx, "SELECT id FROM stories WHERE is_saved = 1")
}

func (s *Store) idSet(ctx context.Context, query string) (map[int]bool, error) {
	var ids []int
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Get returns the row of a story.
func (s *Store) Get(ctx context.Context, id int) (*Story, error) {
	var story Story
	err := s.db.GetContext(ctx, &story, "SELECT * FROM stories WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %d: %w", id, err)
	}
	return &story, nil
}

// Cleanup deletes unsaved stories last opened more than days ago and
// returns the number removed. days <= 0 uses DefaultRetentionDays.
func (s *Store) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -days).Unix()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM stories WHERE last_opened < ? AND is_saved = 0", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}

	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Int("days", days).Msg("Housekeeping removed old stories")
	}
	return removed, nil
}

// RecordFetched upserts title and URL of listed stories. Flags and the
// opened time of existing rows are left alone.
func (s *Store) RecordFetched(ctx context.Context, items []item.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO stories (id, title, url, last_opened) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, url = excluded.url`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, titleOrDefault(it), it.URL, now); err != nil {
			return fmt.Errorf("record %d: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func titleOrDefault(it item.Item) string {
	if it.Title == "" {
		return "Untitled"
	}
	return it.Title
}
