// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers thread CRUD, turn persistence, duplicate detection, and ordering/limiting

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createThread(t *testing.T, s Store, id string) *Thread {
	t.Helper()
	now := time.Now().UTC()
	thread := &Thread{
		ID:           id,
		FrontendName: "classroom",
		ExternalID:   "ext-" + id,
		AssistantID:  "asst-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateThread(context.Background(), thread))
	return thread
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(DriverModernc, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	createThread(t, s, "mem-thread")
	got, err := s.GetThread(context.Background(), "mem-thread")
	require.NoError(t, err)
	assert.Equal(t, "mem-thread", got.ID)
}

func TestCreateAndGetThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	thread := createThread(t, s, "thread-123")

	got, err := s.GetThread(ctx, "thread-123")
	require.NoError(t, err)
	assert.Equal(t, thread.FrontendName, got.FrontendName)
	assert.Equal(t, thread.ExternalID, got.ExternalID)
	assert.Equal(t, thread.AssistantID, got.AssistantID)
	assert.True(t, thread.CreatedAt.Equal(got.CreatedAt))
}

func TestGetThread_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetThread(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateThread_Duplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	thread := createThread(t, s, "t1")

	again := *thread
	assert.ErrorIs(t, s.CreateThread(ctx, &again), ErrDuplicateThread, "same id")

	sameFrontend := *thread
	sameFrontend.ID = "t2"
	assert.ErrorIs(t, s.CreateThread(ctx, &sameFrontend), ErrDuplicateThread, "same frontend/external id")
}

func TestCreateThread_EmptyFrontendIDsDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.CreateThread(ctx, &Thread{ID: id, CreatedAt: now, UpdatedAt: now}))
	}
}

func TestGetThreadByFrontendID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createThread(t, s, "t1")

	got, err := s.GetThreadByFrontendID(ctx, "classroom", "ext-t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = s.GetThreadByFrontendID(ctx, "classroom", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndListTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createThread(t, s, "t1")

	for i, role := range []string{"user", "assistant", "user"} {
		require.NoError(t, s.SaveTurn(ctx, &Turn{
			ID:        fmt.Sprintf("turn-%d", i),
			ThreadID:  "t1",
			SessionID: "sess-1",
			ItemID:    fmt.Sprintf("item_%d", i),
			Role:      role,
			Text:      fmt.Sprintf("text %d", i),
			Seq:       i,
			CreatedAt: time.Now(),
		}))
	}

	turns, err := s.ListTurns(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i, turn.Seq)
		assert.Equal(t, fmt.Sprintf("item_%d", i), turn.ItemID)
	}

	recent, err := s.ListTurns(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "item_1", recent[0].ItemID)
	assert.Equal(t, "item_2", recent[1].ItemID)
}

func TestSaveTurn_DuplicateItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createThread(t, s, "t1")

	turn := &Turn{ID: "a", ThreadID: "t1", SessionID: "s", ItemID: "item_1", Role: "user", Text: "hi", CreatedAt: time.Now()}
	require.NoError(t, s.SaveTurn(ctx, turn))

	dup := *turn
	dup.ID = "b"
	assert.ErrorIs(t, s.SaveTurn(ctx, &dup), ErrDuplicateTurn)
}

func TestSaveTurn_UnknownThread(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveTurn(context.Background(), &Turn{ID: "a", ThreadID: "ghost", ItemID: "i", Role: "user", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTurn_TouchesThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createThread(t, s, "old")
	createThread(t, s, "new")

	later := time.Now().Add(time.Minute)
	require.NoError(t, s.SaveTurn(ctx, &Turn{ID: "x", ThreadID: "old", SessionID: "s", ItemID: "i", Role: "assistant", CreatedAt: later}))

	threads, err := s.ListThreads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "old", threads[0].ID)
}

func TestListTurns_EmptyThread(t *testing.T) {
	s := newTestStore(t)
	turns, err := s.ListTurns(context.Background(), "nothing", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
