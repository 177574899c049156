// Package realtime adapts a realtime voice transport to the ordering buffer.
//
// # Events
//
// Decode reads the handful of fields the buffer needs from each transport
// event (item ids, predecessors, roles, transcript text) with gjson and maps
// the event type to one of three buffer operations:
//
//   - conversation.item.added / created registers an item
//   - *.delta appends a transcript fragment
//   - *.completed / *.done / *.failed finalizes a transcript
//
// Anything else decodes as KindIgnored.
//
// # Sessions
//
// A Session owns one ordering.Buffer. Every event is applied under the
// session lock, retransmitted events are dropped by event_id, and each
// turn that becomes ready is delivered to the Sink before the lock is
// released, so a Sink sees turns in dispatch order:
//
//	mgr := realtime.NewManager(sink, dedupe.New(5*time.Minute, 10000, time.Minute), logger)
//	sess, _ := mgr.Open(sessionID, threadID)
//	res, err := sess.Handle(ctx, raw)
//
// Sink errors are logged and never stop the session.
package realtime
