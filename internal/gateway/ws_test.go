// ABOUTME: Tests for the realtime WebSocket transport
// ABOUTME: Dials a live httptest server and checks dispatched turn frames

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2389/tutor-realtime/internal/ordering"
)

func dialSession(t *testing.T, ctx context.Context, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func writeText(t *testing.T, ctx context.Context, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) gjson.Result {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	return gjson.ParseBytes(data)
}

func TestWebSocket_DispatchesInCausalOrder(t *testing.T) {
	gw := newTestGateway(t)
	sess := createSession(t, gw, `{"assistant_id":"tutor"}`, "")

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialSession(t, ctx, srv, sess.SessionID)

	writeText(t, ctx, conn, itemAddedJSON("e1", "u1", "", "user"))
	writeText(t, ctx, conn, itemAddedJSON("e2", "a1", "u1", "assistant"))
	writeText(t, ctx, conn, assistantDoneJSON("e3", "a1", "Sure, let's start with fractions."))
	writeText(t, ctx, conn, userDoneJSON("e4", "u1", "Can you help with fractions?"))

	first := readFrame(t, ctx, conn)
	assert.Equal(t, "turn.dispatched", first.Get("type").String())
	assert.Equal(t, "u1", first.Get("item_id").String())
	assert.Equal(t, "user", first.Get("role").String())
	assert.Equal(t, "0", first.Get("seq").String())

	second := readFrame(t, ctx, conn)
	assert.Equal(t, "a1", second.Get("item_id").String())
	assert.Equal(t, "Sure, let's start with fractions.", second.Get("text").String())
	assert.Equal(t, "1", second.Get("seq").String())
}

func TestWebSocket_MalformedEventKeepsConnection(t *testing.T) {
	gw := newTestGateway(t)
	sess := createSession(t, gw, `{"assistant_id":"tutor"}`, "")

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialSession(t, ctx, srv, sess.SessionID)

	writeText(t, ctx, conn, `{"no_type":true}`)
	errFrame := readFrame(t, ctx, conn)
	assert.Equal(t, "error", errFrame.Get("type").String())
	assert.Equal(t, "malformed event", errFrame.Get("error.message").String())

	writeText(t, ctx, conn, itemAddedJSON("e1", "u1", "", "user"))
	writeText(t, ctx, conn, userDoneJSON("e2", "u1", "still here"))
	frame := readFrame(t, ctx, conn)
	assert.Equal(t, "still here", frame.Get("text").String())
}

func TestWebSocket_SessionClosed(t *testing.T) {
	gw := newTestGateway(t)
	sess := createSession(t, gw, `{"assistant_id":"tutor"}`, "")

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialSession(t, ctx, srv, sess.SessionID)

	require.NoError(t, gw.Sessions().Close(sess.SessionID))
	writeText(t, ctx, conn, itemAddedJSON("e1", "u1", "", "user"))

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWebSocket_UnknownSession(t *testing.T) {
	gw := newTestGateway(t)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/missing/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTurnFrame_EscapesText(t *testing.T) {
	frame := turnFrame(ordering.Message{ItemID: "i1", Role: ordering.RoleAssistant, Text: `say "hi"` + "\n", Seq: "3"})

	parsed := gjson.Parse(frame)
	assert.True(t, gjson.Valid(frame))
	assert.Equal(t, `say "hi"`+"\n", parsed.Get("text").String())
	assert.Equal(t, "3", parsed.Get("seq").String())
}
