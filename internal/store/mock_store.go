// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	threads     map[string]*Thread // keyed by thread ID
	threadIndex map[string]string  // keyed by "frontendName:externalID" -> thread ID
	turns       map[string][]*Turn // keyed by thread ID, in save order

	// SaveTurnErr, when set, is returned by SaveTurn instead of saving.
	SaveTurnErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		threads:     make(map[string]*Thread),
		threadIndex: make(map[string]string),
		turns:       make(map[string][]*Turn),
	}
}

// CreateThread stores a new thread.
func (m *MockStore) CreateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.threads[thread.ID]; exists {
		return ErrDuplicateThread
	}
	key := thread.FrontendName + ":" + thread.ExternalID
	if thread.FrontendName != "" && thread.ExternalID != "" {
		if _, exists := m.threadIndex[key]; exists {
			return ErrDuplicateThread
		}
	}

	// Make a copy to avoid external modification
	t := *thread
	m.threads[t.ID] = &t
	if t.FrontendName != "" && t.ExternalID != "" {
		m.threadIndex[key] = t.ID
	}
	return nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// GetThreadByFrontendID retrieves a thread by frontend name and external ID.
func (m *MockStore) GetThreadByFrontendID(ctx context.Context, frontendName, externalID string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.threadIndex[frontendName+":"+externalID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.threads[id]
	return &result, nil
}

// ListThreads returns threads, most recently updated first.
func (m *MockStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		c := *t
		threads = append(threads, &c)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// SaveTurn appends a turn to its thread.
func (m *MockStore) SaveTurn(ctx context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveTurnErr != nil {
		return m.SaveTurnErr
	}
	thread, ok := m.threads[turn.ThreadID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range m.turns[turn.ThreadID] {
		if existing.ItemID == turn.ItemID {
			return ErrDuplicateTurn
		}
	}

	t := *turn
	m.turns[turn.ThreadID] = append(m.turns[turn.ThreadID], &t)
	thread.UpdatedAt = turn.CreatedAt
	return nil
}

// ListTurns returns copies of a thread's turns in save order.
func (m *MockStore) ListTurns(ctx context.Context, threadID string, limit int) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.turns[threadID]
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]*Turn, len(src))
	for i, t := range src {
		c := *t
		out[i] = &c
	}
	return out, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
