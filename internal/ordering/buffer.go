// ABOUTME: Ordering buffer that turns out-of-order realtime turn events into a causal stream
// ABOUTME: Items are registered, transcribed, and popped exactly once in predecessor order

package ordering

import (
	"log/slog"
	"strconv"
)

// Message is a completed turn returned by PopNextReadyMessage.
type Message struct {
	ItemID string
	Text   string
	Role   Role
	Seq    string // base-10 dispatch sequence, "0", "1", ...
}

// Buffer accepts conversation item and transcript events in any order and
// releases completed turns only after every relevant ancestor has been
// released.
//
// A Buffer is not safe for concurrent use. Callers that feed and drain it
// from more than one goroutine must serialize access themselves.
type Buffer struct {
	items   map[string]*ConversationItem
	order   []string // registration order
	nextSeq int
	logger  *slog.Logger

	// items whose non-terminating chain has already been reported
	cyclic map[string]bool
}

// New creates an empty buffer. Pass nil logger for default.
func New(logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		items:  make(map[string]*ConversationItem),
		logger: logger.With("component", "ordering"),
		cyclic: make(map[string]bool),
	}
}

// RegisterConversationItem creates the item or, if it is already known,
// replaces its predecessor and role. It never dispatches anything.
func (b *Buffer) RegisterConversationItem(itemID string, previousItemID *string, role Role) {
	var prev *string
	if previousItemID != nil {
		p := *previousItemID
		prev = &p
	}

	if item, ok := b.items[itemID]; ok {
		item.PreviousItemID = prev
		item.Role = role
		// A relinked chain may form a new cycle worth reporting
		clear(b.cyclic)
		b.logger.Debug("conversation item updated",
			"item_id", itemID,
			"previous_item_id", derefOrEmpty(prev),
			"role", role)
		return
	}

	b.items[itemID] = &ConversationItem{
		ItemID:         itemID,
		PreviousItemID: prev,
		Role:           role,
	}
	b.order = append(b.order, itemID)

	b.logger.Debug("conversation item registered",
		"item_id", itemID,
		"previous_item_id", derefOrEmpty(prev),
		"role", role,
		"relevant", role.IsRelevant())
}

// RegisterTranscription marks an item's transcript as final. A non-nil text
// replaces whatever deltas have accumulated; nil keeps the accumulated text.
// Transcripts for unknown items are dropped with a warning.
func (b *Buffer) RegisterTranscription(itemID string, text *string, role Role) {
	item := b.lookup(itemID, "transcript", role)
	if item == nil {
		return
	}

	if text != nil {
		item.TranscriptionText = *text
	}
	item.TranscriptionComplete = true

	b.logger.Debug("transcription completed",
		"item_id", itemID,
		"role", role,
		"chars", len(item.TranscriptionText))
}

// RegisterTranscriptionDelta appends a partial transcript fragment. Deltas
// that arrive after the transcript is final are ignored.
func (b *Buffer) RegisterTranscriptionDelta(itemID, fragment string, role Role) {
	item := b.lookup(itemID, "transcript delta", role)
	if item == nil {
		return
	}

	if item.TranscriptionComplete {
		b.logger.Debug("ignoring transcript delta after completion", "item_id", itemID)
		return
	}
	item.TranscriptionText += fragment
}

// lookup returns the registered item for a transcript event, or nil after
// logging why the event is being dropped.
func (b *Buffer) lookup(itemID, what string, role Role) *ConversationItem {
	if itemID == "" {
		b.logger.Warn("received "+what+" without an item_id", "role", role)
		return nil
	}
	item, ok := b.items[itemID]
	if !ok {
		b.logger.Warn("received "+what+" for "+itemID+" before conversation.item.added",
			"item_id", itemID,
			"role", role)
		return nil
	}
	return item
}

// PopNextReadyMessage returns the first item, in registration order, whose
// transcript is complete and whose nearest relevant ancestor has already
// been dispatched. It returns false when nothing is ready. It never blocks.
func (b *Buffer) PopNextReadyMessage() (Message, bool) {
	for _, id := range b.order {
		item := b.items[id]
		if !item.IsRelevant() || item.Dispatched || !item.TranscriptionComplete {
			continue
		}

		blocker, resolved := b.blockingPredecessor(item)
		if !resolved {
			continue
		}
		if blocker != nil && !blocker.Dispatched {
			continue
		}

		seq := b.nextSeq
		b.nextSeq++
		item.Dispatched = true
		item.DispatchSeq = &seq

		b.logger.Debug("dispatching conversation item",
			"item_id", item.ItemID,
			"role", item.Role,
			"seq", seq)

		return Message{
			ItemID: item.ItemID,
			Text:   item.TranscriptionText,
			Role:   item.Role,
			Seq:    strconv.Itoa(seq),
		}, true
	}
	return Message{}, false
}

// blockingPredecessor walks previous_item_id links, skipping structural
// items, until it reaches a relevant item or the root. resolved is false
// when the chain points at an item that has not been registered yet.
//
// The walk is recomputed on every call because registration can rewrite
// any link. It is bounded by the number of known items so a cycle made only
// of structural items reads as unresolved instead of spinning.
func (b *Buffer) blockingPredecessor(item *ConversationItem) (blocker *ConversationItem, resolved bool) {
	prev := item.PreviousItemID
	for steps := 0; prev != nil; steps++ {
		if steps > len(b.items) {
			if b.cyclic[item.ItemID] {
				b.logger.Debug("previous_item_id chain does not terminate",
					"item_id", item.ItemID)
			} else {
				b.cyclic[item.ItemID] = true
				b.logger.Warn("previous_item_id chain does not terminate",
					"item_id", item.ItemID)
			}
			return nil, false
		}
		node, ok := b.items[*prev]
		if !ok {
			return nil, false
		}
		if node.IsRelevant() {
			return node, true
		}
		prev = node.PreviousItemID
	}
	return nil, true
}

// Drain pops every message that is currently ready, in dispatch order.
func (b *Buffer) Drain() []Message {
	var out []Message
	for {
		msg, ok := b.PopNextReadyMessage()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// Len returns the number of registered items, structural ones included.
func (b *Buffer) Len() int {
	return len(b.items)
}

// Pending returns the number of relevant items not yet dispatched.
func (b *Buffer) Pending() int {
	n := 0
	for _, item := range b.items {
		if item.IsRelevant() && !item.Dispatched {
			n++
		}
	}
	return n
}

// Item returns a copy of the registered item with the given ID.
func (b *Buffer) Item(itemID string) (ConversationItem, bool) {
	item, ok := b.items[itemID]
	if !ok {
		return ConversationItem{}, false
	}
	return item.clone(), true
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
