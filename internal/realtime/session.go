// ABOUTME: A realtime session feeds transport events into one ordering buffer
// ABOUTME: Serializes buffer access, drops retransmissions, and drains ready turns to a Sink

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/tutor-realtime/internal/dedupe"
	"github.com/2389/tutor-realtime/internal/ordering"
)

// ErrSessionClosed is returned when an event arrives after Close.
var ErrSessionClosed = errors.New("realtime session closed")

// Dispatch is a completed turn handed to a Sink.
type Dispatch struct {
	SessionID string
	ThreadID  string
	Message   ordering.Message
}

// Sink consumes dispatched turns, in dispatch order. Errors are logged by
// the session and never stop it.
type Sink interface {
	Deliver(ctx context.Context, d Dispatch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, d Dispatch) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, d Dispatch) error {
	return f(ctx, d)
}

// Result describes what applying one event did.
type Result struct {
	Duplicate  bool               // dropped by event_id de-duplication
	Dispatched []ordering.Message // turns released by this event, in order
}

// Session owns the ordering buffer for one realtime connection. All methods
// are safe for concurrent use; buffer calls and sink deliveries happen under
// one lock so turns reach the sink in dispatch order.
type Session struct {
	id       string
	threadID string
	sink     Sink
	seen     *dedupe.Cache
	logger   *slog.Logger

	mu           sync.Mutex
	buf          *ordering.Buffer
	closed       bool
	lastActivity time.Time
}

// SessionConfig holds the collaborators for NewSession.
type SessionConfig struct {
	ID       string
	ThreadID string
	Sink     Sink          // required
	Seen     *dedupe.Cache // optional; nil disables de-duplication
	Logger   *slog.Logger  // optional
}

// NewSession creates a session with an empty buffer.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", cfg.ID)
	return &Session{
		id:           cfg.ID,
		threadID:     cfg.ThreadID,
		sink:         cfg.Sink,
		seen:         cfg.Seen,
		logger:       logger.With("component", "realtime-session"),
		buf:          ordering.New(logger),
		lastActivity: time.Now(),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// ThreadID returns the thread dispatched turns belong to.
func (s *Session) ThreadID() string { return s.threadID }

// Handle decodes a raw transport event and applies it. Malformed payloads
// are logged and returned as ErrMalformedEvent; the session stays usable.
func (s *Session) Handle(ctx context.Context, raw []byte) (Result, error) {
	ev, err := Decode(raw)
	if err != nil {
		s.logger.Warn("dropping malformed realtime event", "bytes", len(raw))
		return Result{}, err
	}
	return s.Apply(ctx, ev)
}

// Apply feeds one decoded event into the buffer, then delivers every turn
// that became ready.
func (s *Session) Apply(ctx context.Context, ev Event) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Result{}, ErrSessionClosed
	}
	s.lastActivity = time.Now()

	if ev.EventID != "" && s.seen != nil && s.seen.Seen(s.id, ev.EventID) {
		s.logger.Debug("dropping duplicate realtime event", "event_id", ev.EventID, "type", ev.Type)
		return Result{Duplicate: true}, nil
	}

	switch ev.Kind {
	case KindItemAdded:
		if ev.ItemID == "" {
			s.logger.Warn("received conversation item without an id", "type", ev.Type)
			return Result{}, nil
		}
		s.buf.RegisterConversationItem(ev.ItemID, ev.PreviousItemID, ev.Role)
	case KindTranscriptDelta:
		s.buf.RegisterTranscriptionDelta(ev.ItemID, ev.Delta, ev.Role)
	case KindTranscriptFinal:
		s.buf.RegisterTranscription(ev.ItemID, ev.Transcript, ev.Role)
	default:
		s.logger.Debug("ignoring realtime event", "type", ev.Type)
		return Result{}, nil
	}

	return Result{Dispatched: s.drainLocked(ctx)}, nil
}

// drainLocked pops every ready turn and hands it to the sink. Must be called
// with mu held.
func (s *Session) drainLocked(ctx context.Context) []ordering.Message {
	msgs := s.buf.Drain()
	for _, msg := range msgs {
		d := Dispatch{SessionID: s.id, ThreadID: s.threadID, Message: msg}
		if err := s.sink.Deliver(ctx, d); err != nil {
			s.logger.Error("failed to deliver dispatched turn",
				"error", err,
				"item_id", msg.ItemID,
				"seq", msg.Seq)
		}
	}
	return msgs
}

// Stats is a point-in-time view of a session's buffer.
type Stats struct {
	Items        int
	Pending      int
	LastActivity time.Time
	Closed       bool
}

// Stats returns the current buffer counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{LastActivity: s.lastActivity, Closed: s.closed}
	if s.buf != nil {
		st.Items = s.buf.Len()
		st.Pending = s.buf.Pending()
	}
	return st
}

// Close ends the session. Turns that never became ready are discarded.
// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	pending := s.buf.Pending()
	if pending > 0 {
		s.logger.Warn("closing session with undispatched turns", "pending", pending, "items", s.buf.Len())
	} else {
		s.logger.Info("session closed", "items", s.buf.Len())
	}
	s.buf = nil
	if s.seen != nil {
		s.seen.Forget(s.id)
	}
}
