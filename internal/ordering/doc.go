// Package ordering reassembles realtime conversation turns into causal order.
//
// # Overview
//
// A realtime voice session reports three kinds of events per turn: the turn
// exists (with a link to its predecessor), a partial transcript arrived, and
// the transcript is final. The transport delivers them in no useful order.
// Buffer collects those events and hands out completed turns one at a time,
// each only after every user/assistant turn before it has been handed out.
//
//	buf := ordering.New(logger)
//	buf.RegisterConversationItem("item_2", &prev, ordering.RoleAssistant)
//	buf.RegisterTranscriptionDelta("item_2", "Hel", ordering.RoleAssistant)
//	buf.RegisterTranscription("item_2", nil, ordering.RoleAssistant)
//	for _, msg := range buf.Drain() {
//		persist(msg)
//	}
//
// # Item States
//
//	unknown -> registered -> transcribed -> dispatched
//
// Only user and assistant items reach dispatched. Any other role is a
// structural node: it keeps the predecessor chain intact and is skipped when
// looking for the turn an item has to wait on.
//
// # Sequence Numbers
//
// Each dispatched message carries Seq, a decimal string drawn from a counter
// owned by the buffer. Values start at "0" and increase by one per dispatch,
// across roles.
//
// # Dropped Events
//
// Transcript events for an item that was never registered, or without an
// item ID, are logged at warn level and discarded. Nothing in this package
// returns an error.
//
// # Concurrency
//
// Buffer has no internal locking. realtime.Session wraps it with a mutex.
package ordering
