// ABOUTME: Store interface and data types for realtime transcript persistence
// ABOUTME: Defines Thread and Turn records and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// ErrDuplicateTurn is returned when a conversation item has already been
// recorded for a thread
var ErrDuplicateTurn = errors.New("turn already recorded")

// Thread links a frontend conversation (a class chat, a tutoring room) to
// the assistant answering it. Realtime sessions append turns to a thread.
type Thread struct {
	ID           string
	FrontendName string
	ExternalID   string
	AssistantID  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Turn is one dispatched conversation item: a finished user or assistant
// utterance, in the order the ordering buffer released it.
type Turn struct {
	ID        string
	ThreadID  string
	SessionID string // realtime session that produced the turn
	ItemID    string // transport item id, unique per thread
	Role      string // "user" or "assistant"
	Text      string
	Seq       int // dispatch sequence within SessionID
	CreatedAt time.Time
}

// Store defines the interface for thread and turn persistence
type Store interface {
	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	GetThreadByFrontendID(ctx context.Context, frontendName, externalID string) (*Thread, error)
	ListThreads(ctx context.Context, limit int) ([]*Thread, error)

	// Turns, returned in the order they were saved
	SaveTurn(ctx context.Context, turn *Turn) error
	ListTurns(ctx context.Context, threadID string, limit int) ([]*Turn, error)

	// Close releases any resources held by the store
	Close() error
}
