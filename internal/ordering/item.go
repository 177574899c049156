// ABOUTME: Per-turn state record tracked by the ordering buffer
// ABOUTME: Holds predecessor link, role, accumulated transcript and dispatch state

package ordering

// Role identifies who produced a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsRelevant reports whether items with this role are dispatched.
// Every other role (system, tool markers, empty) is structural.
func (r Role) IsRelevant() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationItem is the buffer's view of a single turn.
type ConversationItem struct {
	ItemID         string
	PreviousItemID *string // nil for the first item in a conversation
	Role           Role

	TranscriptionText     string
	TranscriptionComplete bool

	Dispatched  bool
	DispatchSeq *int // set only on relevant items, at dispatch time
}

// IsRelevant reports whether the item will ever be dispatched.
func (c *ConversationItem) IsRelevant() bool {
	return c.Role.IsRelevant()
}

// clone returns a copy that shares no pointers with c.
func (c *ConversationItem) clone() ConversationItem {
	out := *c
	if c.PreviousItemID != nil {
		prev := *c.PreviousItemID
		out.PreviousItemID = &prev
	}
	if c.DispatchSeq != nil {
		seq := *c.DispatchSeq
		out.DispatchSeq = &seq
	}
	return out
}
