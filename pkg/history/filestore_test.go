package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvr-ai/solvr/pkg/models"
)

func testRecord(id, query, answer string, createdAt time.Time) *models.SessionRecord {
	completed := createdAt.Add(3 * time.Second)
	return &models.SessionRecord{
		SessionID: id,
		Timestamp: createdAt,
		Query:     query,
		Events: []models.Event{
			{Type: models.EventStart, Query: query, Timestamp: createdAt},
			{Type: models.EventThought, Content: "working on " + query, Timestamp: createdAt},
			{Type: models.EventFinalAnswer, Content: answer, Timestamp: completed},
			{Type: models.EventEnd, Timestamp: completed},
		},
		FinalAnswer:     answer,
		Success:         true,
		DurationSeconds: 3,
		Model:           "gemini-2.5-flash",
		Status:          "completed",
		CreatedAt:       createdAt,
		CompletedAt:     &completed,
		EventCount:      4,
	}
}

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestFileStore_SaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	rec := testRecord("chat_20260824_100000", "what is 2+2", "4", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, rec.Query, got.Query)
	assert.Equal(t, rec.FinalAnswer, got.FinalAnswer)
	assert.Len(t, got.Events, 4)
	assert.Equal(t, models.EventFinalAnswer, got.Events[2].Type)
	require.NotNil(t, got.CompletedAt)
}

func TestFileStore_GetMissing(t *testing.T) {
	store := newTestFileStore(t)
	_, err := store.Get(context.Background(), "chat_nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SaveIsReplace(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	rec := testRecord("chat_20260824_100000", "q", "first", time.Now())
	require.NoError(t, store.Save(ctx, rec))
	rec.FinalAnswer = "second"
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.FinalAnswer)
}

func TestFileStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	ids := []string{"chat_20260824_100000", "chat_20260824_100001", "chat_20260824_100002"}
	for i, id := range ids {
		require.NoError(t, store.Save(ctx, testRecord(id, "q", "a", base)))
		// Listing sorts by file modification time, so space the writes out.
		mod := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(filepath.Join(dir, id+".json"), mod, mod))
	}

	records, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ids[2], records[0].SessionID)
	assert.Equal(t, ids[0], records[2].SessionID)

	paged, err := store.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, ids[1], paged[0].SessionID)

	empty, err := store.List(ctx, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFileStore_Search(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	now := time.Now()
	require.NoError(t, store.Save(ctx, testRecord("chat_a", "capital of France", "Paris", now)))
	require.NoError(t, store.Save(ctx, testRecord("chat_b", "sum of primes", "77", now)))

	tests := []struct {
		needle string
		want   []string
	}{
		{"france", []string{"chat_a"}},         // query field, case-insensitive
		{"Paris", []string{"chat_a"}},          // final answer
		{"working on sum", []string{"chat_b"}}, // event content
		{"zebra", nil},
	}
	for _, tt := range tests {
		got, err := store.Search(ctx, tt.needle)
		require.NoError(t, err)
		var ids []string
		for _, rec := range got {
			ids = append(ids, rec.SessionID)
		}
		assert.Equal(t, tt.want, ids, "needle %q", tt.needle)
	}
}

func TestFileStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	rec := testRecord("chat_del", "q", "a", time.Now())
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Delete(ctx, rec.SessionID))

	_, err := store.Get(ctx, rec.SessionID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, rec.SessionID), ErrNotFound)
}

func TestFileStore_NoPartialFilesAfterSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, testRecord("chat_x", "q", "a", time.Now())))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "chat_x.json", entries[0].Name())
}
