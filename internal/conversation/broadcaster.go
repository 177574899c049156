// ABOUTME: In-memory fan-out broadcaster for dispatched transcript turns
// ABOUTME: Publishes persisted Turns to every subscriber of a thread

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/tutor-realtime/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventBroadcaster provides in-memory pub/sub for persisted turns.
// Subscribers register for a thread ID and receive turns as they are saved,
// so transcript viewers follow a live session without polling.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Turn // threadID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *store.Turn),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for turns on the given thread.
// Returns a channel that receives turns and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled. Subscribing to a closed broadcaster returns a closed channel.
func (b *EventBroadcaster) Subscribe(ctx context.Context, threadID string) (<-chan *store.Turn, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Turn, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[threadID]; !ok {
		b.subscribers[threadID] = make(map[string]chan *store.Turn)
	}
	b.subscribers[threadID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"thread_id", threadID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(threadID, subID)
	}()

	return ch, subID
}

// Publish sends a turn to all subscribers of its thread.
// Non-blocking: turns are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(turn *store.Turn) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[turn.ThreadID] {
		select {
		case ch <- turn:
		default:
			b.logger.Debug("dropped turn for slow subscriber",
				"thread_id", turn.ThreadID,
				"sub_id", subID,
				"turn_id", turn.ID)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on a thread.
func (b *EventBroadcaster) SubscriberCount(threadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[threadID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(threadID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[threadID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, threadID)
	}

	b.logger.Debug("subscriber removed",
		"thread_id", threadID,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for threadID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, threadID)
	}

	b.logger.Debug("broadcaster closed")
}
