package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "hn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hn.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 1, Title: "first"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var applied int
	require.NoError(t, s.db.GetContext(ctx, &applied, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, len(migrations), applied)

	story, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", story.Title)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 7, Title: "Hello", URL: "https://example.com"}))

	story, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, story.IsRead)
	assert.False(t, story.IsSaved)
	assert.Equal(t, "https://example.com", story.URL)
	assert.Equal(t, now.Unix(), story.LastOpened)
	assert.True(t, story.Opened().Equal(now))

	later := now.Add(time.Hour)
	s.now = func() time.Time { return later }
	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 7, Title: "Hello"}))

	story, err = s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, later.Unix(), story.LastOpened)
}

func TestMarkRead_UntitledDefault(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 3}))
	story, err := s.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", story.Title)
}

func TestSetSaved(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SetSaved(ctx, 10, true))
	require.NoError(t, s.SetSaved(ctx, 11, true))
	require.NoError(t, s.SetSaved(ctx, 11, false))

	saved, err := s.SavedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{10: true}, saved)
}

func TestReadIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, id := range []int{1, 2, 3} {
		require.NoError(t, s.MarkRead(ctx, item.Item{ID: id, Title: "t"}))
	}
	require.NoError(t, s.RecordFetched(ctx, []item.Item{{ID: 4, Title: "unread"}}))

	read, err := s.ReadIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, read)
}

func TestSaveContentAndSummary(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 5, Title: "Story"}))
	require.NoError(t, s.SaveContent(ctx, 5, "article body"))
	require.NoError(t, s.SaveSummary(ctx, 5, "short summary"))

	story, err := s.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "article body", story.Content)
	assert.Equal(t, "short summary", story.Summary)
	assert.True(t, story.IsRead, "saving text must not reset flags")

	// A summary for an unknown story creates the row.
	require.NoError(t, s.SaveSummary(ctx, 99, "orphan"))
	story, err = s.Get(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, "orphan", story.Summary)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	s.now = func() time.Time { return now.AddDate(0, 0, -40) }
	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 1, Title: "old"}))
	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 2, Title: "old but saved"}))
	require.NoError(t, s.SetSaved(ctx, 2, true))

	s.now = func() time.Time { return now.AddDate(0, 0, -5) }
	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 3, Title: "recent"}))

	s.now = func() time.Time { return now }
	removed, err := s.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, 2)
	assert.NoError(t, err)
	_, err = s.Get(ctx, 3)
	assert.NoError(t, err)

	removed, err = s.Cleanup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "a shorter window removes the recent unsaved story")
}

func TestRecordFetched_KeepsFlags(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.MarkRead(ctx, item.Item{ID: 1, Title: "old title"}))
	require.NoError(t, s.SetSaved(ctx, 1, true))

	s.now = func() time.Time { return now.Add(time.Hour) }
	err := s.RecordFetched(ctx, []item.Item{
		{ID: 1, Title: "new title", URL: "https://a.example"},
		{ID: 2, Title: "fresh"},
	})
	require.NoError(t, err)

	story, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new title", story.Title)
	assert.Equal(t, "https://a.example", story.URL)
	assert.True(t, story.IsRead)
	assert.True(t, story.IsSaved)
	assert.Equal(t, now.Unix(), story.LastOpened)

	story, err = s.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, story.IsRead)

	assert.NoError(t, s.RecordFetched(ctx, nil))
}
