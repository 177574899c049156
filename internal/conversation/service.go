// ABOUTME: Conversation service persists dispatched realtime turns and serves transcripts
// ABOUTME: Implements realtime.Sink: every ordered turn is saved, then broadcast to live viewers

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tutor-realtime/internal/ordering"
	"github.com/2389/tutor-realtime/internal/realtime"
	"github.com/2389/tutor-realtime/internal/store"
)

// saveTimeout bounds each turn write. Saves use their own context so a
// dropped client connection does not lose turns already dispatched.
const saveTimeout = 5 * time.Second

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateThread(ctx context.Context, thread *store.Thread) error
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	GetThreadByFrontendID(ctx context.Context, frontendName, externalID string) (*store.Thread, error)
	ListThreads(ctx context.Context, limit int) ([]*store.Thread, error)

	SaveTurn(ctx context.Context, turn *store.Turn) error
	ListTurns(ctx context.Context, threadID string, limit int) ([]*store.Turn, error)
}

// Service records the causal transcript of every realtime session.
type Service struct {
	store       ConversationStore
	broadcaster *EventBroadcaster
	logger      *slog.Logger
}

var _ realtime.Sink = (*Service)(nil)

// New creates a new conversation service. broadcaster may be nil.
func New(store ConversationStore, broadcaster *EventBroadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.With("component", "conversation"),
	}
}

// StartRequest identifies the thread a new realtime session writes to.
type StartRequest struct {
	// Thread identification (provide ThreadID directly, or FrontendName+ExternalID for lookup)
	ThreadID     string
	FrontendName string
	ExternalID   string

	// AssistantID is required when a new thread has to be created.
	AssistantID string
}

// StartThread resolves an existing thread or creates a new one.
func (s *Service) StartThread(ctx context.Context, req *StartRequest) (*store.Thread, error) {
	if req.AssistantID == "" {
		return nil, fmt.Errorf("assistant_id is required")
	}

	if req.ThreadID != "" {
		thread, err := s.store.GetThread(ctx, req.ThreadID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return s.createThread(ctx, req.ThreadID, req)
	}

	if req.FrontendName != "" && req.ExternalID != "" {
		s.logger.Debug("looking up thread by frontend ID",
			"frontend", req.FrontendName,
			"external_id", req.ExternalID)
		thread, err := s.store.GetThreadByFrontendID(ctx, req.FrontendName, req.ExternalID)
		if err == nil {
			s.logger.Debug("found existing thread", "thread_id", thread.ID)
			return thread, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	return s.createThread(ctx, uuid.New().String(), req)
}

// createThread inserts a thread, falling back to a lookup when a concurrent
// request created it first.
func (s *Service) createThread(ctx context.Context, id string, req *StartRequest) (*store.Thread, error) {
	now := time.Now()
	thread := &store.Thread{
		ID:           id,
		FrontendName: req.FrontendName,
		ExternalID:   req.ExternalID,
		AssistantID:  req.AssistantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.CreateThread(ctx, thread)
	if err == nil {
		s.logger.Debug("thread created", "thread_id", thread.ID)
		return thread, nil
	}
	if !errors.Is(err, store.ErrDuplicateThread) {
		return nil, err
	}

	existing, lookupErr := s.store.GetThread(ctx, id)
	if lookupErr == nil {
		s.logger.Debug("found existing thread after race", "thread_id", existing.ID)
		return existing, nil
	}
	if req.FrontendName != "" && req.ExternalID != "" {
		existing, lookupErr = s.store.GetThreadByFrontendID(ctx, req.FrontendName, req.ExternalID)
		if lookupErr == nil {
			s.logger.Debug("found existing thread by frontend ID after race", "thread_id", existing.ID)
			return existing, nil
		}
	}
	s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
	return nil, err
}

// GetThread returns thread metadata
func (s *Service) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	return s.store.GetThread(ctx, threadID)
}

// ListThreads returns the most recently active threads.
func (s *Service) ListThreads(ctx context.Context, limit int) ([]*store.Thread, error) {
	return s.store.ListThreads(ctx, limit)
}

// Deliver persists one dispatched turn and broadcasts it. A turn whose item
// was already recorded for the thread is skipped without error.
func (s *Service) Deliver(ctx context.Context, d realtime.Dispatch) error {
	seq, err := strconv.Atoi(d.Message.Seq)
	if err != nil {
		return fmt.Errorf("parsing dispatch sequence %q: %w", d.Message.Seq, err)
	}

	turn := &store.Turn{
		ID:        uuid.New().String(),
		ThreadID:  d.ThreadID,
		SessionID: d.SessionID,
		ItemID:    d.Message.ItemID,
		Role:      string(d.Message.Role),
		Text:      d.Message.Text,
		Seq:       seq,
		CreatedAt: time.Now(),
	}

	if err := s.saveTurn(turn); err != nil {
		if errors.Is(err, store.ErrDuplicateTurn) {
			s.logger.Debug("turn already recorded",
				"thread_id", turn.ThreadID,
				"item_id", turn.ItemID)
			return nil
		}
		return err
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(turn)
	}
	return nil
}

// saveTurn saves a turn with a separate timeout context.
func (s *Service) saveTurn(turn *store.Turn) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.store.SaveTurn(saveCtx, turn); err != nil {
		return fmt.Errorf("saving turn %s: %w", turn.ItemID, err)
	}
	s.logger.Debug("turn saved",
		"turn_id", turn.ID,
		"thread_id", turn.ThreadID,
		"session_id", turn.SessionID,
		"seq", turn.Seq)
	return nil
}

// Transcript returns a thread's turns in dispatch order. With limit > 0
// only the most recent limit turns are returned.
func (s *Service) Transcript(ctx context.Context, threadID string, limit int) ([]*store.Turn, error) {
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return s.store.ListTurns(ctx, threadID, limit)
}

// Subscribe streams turns for a thread as they are saved. The channel is
// closed when ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, threadID string) (<-chan *store.Turn, error) {
	if s.broadcaster == nil {
		return nil, fmt.Errorf("live transcripts are not enabled")
	}
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	ch, _ := s.broadcaster.Subscribe(ctx, threadID)
	return ch, nil
}

// speakerLabel is the heading used for a role in rendered transcripts.
func speakerLabel(role string) string {
	switch ordering.Role(role) {
	case ordering.RoleUser:
		return "Student"
	case ordering.RoleAssistant:
		return "Tutor"
	default:
		return role
	}
}
