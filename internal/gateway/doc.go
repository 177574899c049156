// Package gateway orchestrates the tutor-realtime server components.
//
// # Overview
//
// The gateway owns the store, the conversation service, the realtime
// session registry, and the HTTP server. Realtime clients open a session,
// push provider events into it, and read back turns in causal order.
//
// # HTTP API
//
// All /api routes sit behind bearer-token auth when auth.jwt_secret is set:
//
//   - POST /api/sessions - Open a session on a new or existing thread
//   - GET /api/sessions - List open sessions
//   - DELETE /api/sessions/{id} - Close a session
//   - POST /api/sessions/{id}/events - Ingest one event, or NDJSON
//   - GET /api/sessions/{id}/ws - WebSocket event relay
//   - GET /api/sessions/{id}/stream - SSE stream of persisted turns
//   - GET /api/sessions/{id}/transcript - Transcript of the session's thread
//   - GET /api/threads - List threads
//   - GET /api/threads/{id}/transcript - Transcript of a thread
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// Transcripts default to JSON; ?format=markdown and ?format=html render
// the same turns as a document.
//
// # WebSocket
//
// Each text frame is one provider event. Turns released by that event are
// written back on the same socket:
//
//	{"type":"turn.dispatched","item_id":"item_1","role":"user","text":"...","seq":"0"}
//
// Malformed events produce an {"type":"error"} frame and the socket stays open.
//
// # SSE Streaming
//
// The stream endpoint writes a "started" event and then one "turn" event
// per persisted turn on the session's thread, from any session.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is cancelled, then shuts down
//
// Shutdown ends open streams, stops HTTP, closes every session, then
// releases the store.
package gateway
