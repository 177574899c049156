// ABOUTME: Tests for MockStore to keep it behaviorally aligned with SQLiteStore
// ABOUTME: Covers duplicate detection, not-found errors, and turn ordering

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)

func TestMockStore_Threads(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	thread := createThread(t, m, "t1")

	assert.ErrorIs(t, m.CreateThread(ctx, thread), ErrDuplicateThread)

	got, err := m.GetThreadByFrontendID(ctx, "classroom", "ext-t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = m.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_Turns(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	createThread(t, m, "t1")

	require.NoError(t, m.SaveTurn(ctx, &Turn{ID: "1", ThreadID: "t1", ItemID: "a", CreatedAt: time.Now()}))
	require.NoError(t, m.SaveTurn(ctx, &Turn{ID: "2", ThreadID: "t1", ItemID: "b", CreatedAt: time.Now()}))
	assert.ErrorIs(t, m.SaveTurn(ctx, &Turn{ID: "3", ThreadID: "t1", ItemID: "a"}), ErrDuplicateTurn)
	assert.ErrorIs(t, m.SaveTurn(ctx, &Turn{ID: "4", ThreadID: "nope", ItemID: "a"}), ErrNotFound)

	turns, err := m.ListTurns(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "b", turns[0].ItemID)
}

func TestMockStore_SaveTurnErr(t *testing.T) {
	m := NewMockStore()
	boom := errors.New("disk full")
	m.SaveTurnErr = boom
	assert.ErrorIs(t, m.SaveTurn(context.Background(), &Turn{}), boom)
}
