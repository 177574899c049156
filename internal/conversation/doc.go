// Package conversation turns dispatched realtime turns into durable transcripts.
//
// # Service
//
// Service implements realtime.Sink. Each turn the ordering buffer releases
// is saved as a store.Turn and then published to live subscribers:
//
//	svc := conversation.New(store, conversation.NewEventBroadcaster(logger), logger)
//	mgr := realtime.NewManager(svc, seen, logger)
//
// Saves use their own timeout context so a client that disconnects
// mid-session does not lose turns that were already dispatched. A turn
// whose item was already recorded for the thread is skipped, not
// republished.
//
// # Threads
//
// Threads link a frontend conversation to the assistant answering it:
//
//   - Thread ID: Unique identifier (UUID unless the caller supplies one)
//   - Frontend Name: "classroom", "web", "phone", etc.
//   - External ID: Frontend-specific ID (room ID, call ID)
//   - Assistant ID: The realtime assistant configuration in use
//
// StartThread looks a thread up by ID or by frontend + external ID and
// creates it when missing, tolerating concurrent creators.
//
// # Transcripts
//
// Transcript returns turns in dispatch order. MarkdownTranscript and
// RenderTranscript format them for export; RenderTranscript converts the
// Markdown with goldmark, which omits raw HTML found in turn text.
//
// # Event Broadcasting
//
// EventBroadcaster fans saved turns out to subscribers of a thread.
// Publishing never blocks: a subscriber whose buffer is full misses turns
// and can reload the transcript.
package conversation
