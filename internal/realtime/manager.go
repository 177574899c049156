// ABOUTME: Manager tracks open realtime sessions by ID
// ABOUTME: Shares one de-duplication cache and Sink across sessions and reaps idle ones

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/tutor-realtime/internal/dedupe"
)

var (
	// ErrSessionNotFound is returned when no open session has the given ID.
	ErrSessionNotFound = errors.New("realtime session not found")

	// ErrSessionExists is returned by Open when the ID is already in use.
	ErrSessionExists = errors.New("realtime session already open")
)

// Manager is a concurrency-safe registry of open sessions.
type Manager struct {
	sink   Sink
	seen   *dedupe.Cache
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager. seen may be nil to disable de-duplication.
func NewManager(sink Sink, seen *dedupe.Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sink:     sink,
		seen:     seen,
		logger:   logger.With("component", "realtime"),
		sessions: make(map[string]*Session),
	}
}

// Open starts a new session bound to threadID.
func (m *Manager) Open(sessionID, threadID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, ErrSessionExists
	}
	s := NewSession(SessionConfig{
		ID:       sessionID,
		ThreadID: threadID,
		Sink:     m.sink,
		Seen:     m.seen,
		Logger:   m.logger,
	})
	m.sessions[sessionID] = s

	m.logger.Info("session opened",
		"session_id", sessionID,
		"thread_id", threadID,
		"open_sessions", len(m.sessions))
	return s, nil
}

// Get returns the open session with the given ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close removes and closes one session.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		m.logger.Info("closed all sessions", "count", len(sessions))
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns the open sessions ordered by ID.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ReapIdle closes sessions that have seen no events for longer than
// timeout and returns how many were closed. Session locks are never taken
// while the registry lock is held, so a session blocked in its Sink does
// not stall lookups of other sessions.
func (m *Manager) ReapIdle(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	var idle []*Session
	for _, s := range m.List() {
		if s.Stats().LastActivity.Before(cutoff) {
			idle = append(idle, s)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	reaped := idle[:0]
	m.mu.Lock()
	for _, s := range idle {
		// Closed or replaced while we were checking
		if m.sessions[s.ID()] != s {
			continue
		}
		delete(m.sessions, s.ID())
		reaped = append(reaped, s)
	}
	m.mu.Unlock()

	for _, s := range reaped {
		m.logger.Info("reaping idle session", "session_id", s.ID(), "idle_timeout", timeout)
		s.Close()
	}
	return len(reaped)
}

// RunReaper calls ReapIdle every interval until ctx is cancelled.
// A non-positive timeout disables reaping.
func (m *Manager) RunReaper(ctx context.Context, timeout, interval time.Duration) {
	if timeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = timeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(timeout)
		}
	}
}
