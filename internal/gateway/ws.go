// ABOUTME: WebSocket transport for realtime sessions
// ABOUTME: Reads provider events frame by frame and pushes dispatched turns back on the same socket

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/sjson"

	"github.com/2389/tutor-realtime/internal/ordering"
	"github.com/2389/tutor-realtime/internal/realtime"
)

const wsWriteTimeout = 5 * time.Second

// handleSessionWebSocket upgrades the request and relays events into the
// session. Each text frame carries one provider event; every turn it
// releases is written back as a "turn.dispatched" frame.
func (g *Gateway) handleSessionWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := g.sessionFromPath(w, r)
	if sess == nil {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err, "session_id", sess.ID())
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(g.config.Realtime.MaxEventBytes)

	logger := g.logger.With("session_id", sess.ID(), "transport", "websocket")
	logger.Info("websocket connected")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Info("websocket closed by client")
			} else {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			if err := g.writeFrame(ctx, conn, errorFrame("binary frames are not supported")); err != nil {
				return
			}
			continue
		}

		res, err := sess.Handle(ctx, data)
		switch {
		case errors.Is(err, realtime.ErrMalformedEvent):
			if err := g.writeFrame(ctx, conn, errorFrame("malformed event")); err != nil {
				return
			}
			continue
		case errors.Is(err, realtime.ErrSessionClosed):
			_ = conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		case err != nil:
			logger.Error("failed to apply event", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "failed to apply event")
			return
		}

		for _, msg := range res.Dispatched {
			if err := g.writeFrame(ctx, conn, turnFrame(msg)); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// writeFrame sends one text frame with a bounded write timeout.
func (g *Gateway) writeFrame(ctx context.Context, conn *websocket.Conn, frame string) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, []byte(frame))
}

// turnFrame encodes a dispatched turn.
func turnFrame(msg ordering.Message) string {
	frame := `{"type":"turn.dispatched"}`
	frame, _ = sjson.Set(frame, "item_id", msg.ItemID)
	frame, _ = sjson.Set(frame, "role", string(msg.Role))
	frame, _ = sjson.Set(frame, "text", msg.Text)
	frame, _ = sjson.Set(frame, "seq", msg.Seq)
	return frame
}

// errorFrame encodes a non-fatal error report.
func errorFrame(message string) string {
	frame, _ := sjson.Set(`{"type":"error"}`, "error.message", message)
	return frame
}
