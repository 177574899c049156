// ABOUTME: HTTP API handlers for realtime sessions, event ingestion, and transcripts
// ABOUTME: JSON in, JSON out; dispatched turns stream to clients over SSE

package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tutor-realtime/internal/auth"
	"github.com/2389/tutor-realtime/internal/conversation"
	"github.com/2389/tutor-realtime/internal/realtime"
	"github.com/2389/tutor-realtime/internal/store"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ThreadID    string `json:"thread_id,omitempty"`
	Frontend    string `json:"frontend,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
	AssistantID string `json:"assistant_id"`
}

// SessionResponse describes an open realtime session.
type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	ThreadID     string    `json:"thread_id"`
	Items        int       `json:"items"`
	Pending      int       `json:"pending"`
	LastActivity time.Time `json:"last_activity"`
}

// EventsResponse reports what happened to a batch of ingested events.
type EventsResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
	Dispatched int `json:"dispatched"`
}

// TurnResponse is the wire form of a persisted turn.
type TurnResponse struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	SessionID string    `json:"session_id"`
	ItemID    string    `json:"item_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptResponse is the JSON body of the transcript endpoints.
type TranscriptResponse struct {
	ThreadID string         `json:"thread_id"`
	Turns    []TurnResponse `json:"turns"`
}

// ThreadResponse is the wire form of a thread.
type ThreadResponse struct {
	ID           string    `json:"id"`
	FrontendName string    `json:"frontend,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	AssistantID  string    `json:"assistant_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toTurnResponse(t *store.Turn) TurnResponse {
	return TurnResponse{
		ID:        t.ID,
		ThreadID:  t.ThreadID,
		SessionID: t.SessionID,
		ItemID:    t.ItemID,
		Role:      t.Role,
		Text:      t.Text,
		Seq:       t.Seq,
		CreatedAt: t.CreatedAt,
	}
}

func toThreadResponse(t *store.Thread) ThreadResponse {
	return ThreadResponse{
		ID:           t.ID,
		FrontendName: t.FrontendName,
		ExternalID:   t.ExternalID,
		AssistantID:  t.AssistantID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func toSessionResponse(s *realtime.Session) SessionResponse {
	st := s.Stats()
	return SessionResponse{
		SessionID:    s.ID(),
		ThreadID:     s.ThreadID(),
		Items:        st.Items,
		Pending:      st.Pending,
		LastActivity: st.LastActivity,
	}
}

// handleCreateSession resolves the thread and opens a realtime session on it.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AssistantID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "assistant_id is required")
		return
	}

	if p := auth.FromContext(r.Context()); p != nil && p.ThreadID != "" {
		if req.ThreadID == "" {
			req.ThreadID = p.ThreadID
		}
		if !p.CanAccessThread(req.ThreadID) {
			g.sendJSONError(w, http.StatusForbidden, "token is not valid for this thread")
			return
		}
	}

	thread, err := g.conversation.StartThread(r.Context(), &conversation.StartRequest{
		ThreadID:     req.ThreadID,
		FrontendName: req.Frontend,
		ExternalID:   req.ExternalID,
		AssistantID:  req.AssistantID,
	})
	if err != nil {
		g.logger.Error("failed to resolve thread", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to resolve thread")
		return
	}

	sess, err := g.sessions.Open(uuid.New().String(), thread.ID)
	if err != nil {
		g.logger.Error("failed to open session", "error", err, "thread_id", thread.ID)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	g.writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// handleListSessions lists open sessions visible to the caller.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	out := []SessionResponse{}
	for _, s := range g.sessions.List() {
		if p != nil && !p.CanAccessThread(s.ThreadID()) {
			continue
		}
		out = append(out, toSessionResponse(s))
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// sessionFromPath looks up the {id} session and checks the caller may use
// it. It writes the error response itself and returns nil on failure.
func (g *Gateway) sessionFromPath(w http.ResponseWriter, r *http.Request) *realtime.Session {
	sess, err := g.sessions.Get(r.PathValue("id"))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if p := auth.FromContext(r.Context()); p != nil && !p.CanAccessThread(sess.ThreadID()) {
		g.sendJSONError(w, http.StatusForbidden, "token is not valid for this thread")
		return nil
	}
	return sess
}

// handleCloseSession ends a session. Turns that were never completed are discarded.
func (g *Gateway) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sess := g.sessionFromPath(w, r)
	if sess == nil {
		return
	}
	if err := g.sessions.Close(sess.ID()); err != nil {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isNDJSON reports whether the request body carries one event per line.
func isNDJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/x-ndjson", "application/ndjson", "application/jsonl":
		return true
	}
	return false
}

// handleSessionEvents ingests one JSON event, or many as NDJSON.
// Malformed events are counted as dropped and never fail the batch.
func (g *Gateway) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess := g.sessionFromPath(w, r)
	if sess == nil {
		return
	}
	maxBytes := g.config.Realtime.MaxEventBytes

	var resp EventsResponse
	apply := func(raw []byte) error {
		res, err := sess.Handle(r.Context(), raw)
		switch {
		case errors.Is(err, realtime.ErrMalformedEvent):
			resp.Dropped++
			return nil
		case err != nil:
			return err
		case res.Duplicate:
			resp.Duplicates++
		default:
			resp.Accepted++
		}
		resp.Dispatched += len(res.Dispatched)
		return nil
	}

	var err error
	if isNDJSON(r) {
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), int(maxBytes))
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if err = apply(line); err != nil {
				break
			}
		}
		if scanErr := scanner.Err(); err == nil && scanErr != nil {
			if errors.Is(scanErr, bufio.ErrTooLong) {
				g.sendJSONError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("event exceeds %d bytes (%d applied before it)", maxBytes, resp.Accepted))
				return
			}
			g.logger.Warn("event stream read failed", "error", scanErr, "session_id", sess.ID(), "applied", resp.Accepted)
			g.sendJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("reading event stream (%d applied before the error)", resp.Accepted))
			return
		}
	} else {
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		var tooLarge *http.MaxBytesError
		if errors.As(readErr, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("event exceeds %d bytes", maxBytes))
			return
		}
		if readErr != nil {
			g.sendJSONError(w, http.StatusBadRequest, "reading event body")
			return
		}
		err = apply(body)
	}

	if errors.Is(err, realtime.ErrSessionClosed) {
		g.sendJSONError(w, http.StatusNotFound, "session closed")
		return
	}
	if err != nil {
		g.logger.Error("failed to apply events", "error", err, "session_id", sess.ID())
		g.sendJSONError(w, http.StatusInternalServerError, "failed to apply events")
		return
	}

	g.writeJSON(w, http.StatusAccepted, resp)
}

// handleSessionStream streams the session's thread as SSE, one "turn"
// event per persisted turn.
func (g *Gateway) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sess := g.sessionFromPath(w, r)
	if sess == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turns, err := g.conversation.Subscribe(r.Context(), sess.ThreadID())
	if err != nil {
		g.logger.Error("failed to subscribe to thread", "error", err, "thread_id", sess.ThreadID())
		g.sendJSONError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "started", map[string]string{
		"session_id": sess.ID(),
		"thread_id":  sess.ThreadID(),
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case turn, ok := <-turns:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "turn", toTurnResponse(turn))
			flusher.Flush()
		}
	}
}

// handleSessionTranscript returns the transcript of the session's thread.
func (g *Gateway) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	sess := g.sessionFromPath(w, r)
	if sess == nil {
		return
	}
	g.writeTranscript(w, r, sess.ThreadID())
}

// handleThreadTranscript returns a thread's transcript, whether or not a
// session is still open on it.
func (g *Gateway) handleThreadTranscript(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if p := auth.FromContext(r.Context()); p != nil && !p.CanAccessThread(threadID) {
		g.sendJSONError(w, http.StatusForbidden, "token is not valid for this thread")
		return
	}
	g.writeTranscript(w, r, threadID)
}

// writeTranscript renders a thread as JSON (default), Markdown, or HTML
// depending on ?format=.
func (g *Gateway) writeTranscript(w http.ResponseWriter, r *http.Request, threadID string) {
	ctx := r.Context()
	format := r.URL.Query().Get("format")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	switch format {
	case "html":
		html, err := g.conversation.RenderTranscript(ctx, threadID)
		if g.transcriptError(w, err, threadID) {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, html)

	case "markdown", "md":
		thread, err := g.conversation.GetThread(ctx, threadID)
		if g.transcriptError(w, err, threadID) {
			return
		}
		turns, err := g.conversation.Transcript(ctx, threadID, limit)
		if g.transcriptError(w, err, threadID) {
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, conversation.MarkdownTranscript(thread, turns))

	case "", "json":
		turns, err := g.conversation.Transcript(ctx, threadID, limit)
		if g.transcriptError(w, err, threadID) {
			return
		}
		resp := TranscriptResponse{ThreadID: threadID, Turns: make([]TurnResponse, 0, len(turns))}
		for _, t := range turns {
			resp.Turns = append(resp.Turns, toTurnResponse(t))
		}
		g.writeJSON(w, http.StatusOK, resp)

	default:
		g.sendJSONError(w, http.StatusBadRequest, "format must be json, markdown, or html")
	}
}

// transcriptError writes the response for a failed transcript lookup and
// reports whether it did.
func (g *Gateway) transcriptError(w http.ResponseWriter, err error, threadID string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "thread not found")
		return true
	}
	g.logger.Error("failed to load transcript", "error", err, "thread_id", threadID)
	g.sendJSONError(w, http.StatusInternalServerError, "failed to load transcript")
	return true
}

// handleListThreads lists recent threads. Thread-scoped tokens only see their own.
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := []ThreadResponse{}

	if p := auth.FromContext(ctx); p != nil && p.ThreadID != "" {
		thread, err := g.conversation.GetThread(ctx, p.ThreadID)
		if err == nil {
			out = append(out, toThreadResponse(thread))
		} else if !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("failed to load thread", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to list threads")
			return
		}
		g.writeJSON(w, http.StatusOK, map[string]any{"threads": out})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	threads, err := g.conversation.ListThreads(ctx, limit)
	if err != nil {
		g.logger.Error("failed to list threads", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	for _, t := range threads {
		out = append(out, toThreadResponse(t))
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write JSON response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
