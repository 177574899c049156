// ABOUTME: Tests for tutor-realtime command helpers
// ABOUTME: Covers token flag validation, offline replay, the color log handler, and the starter config

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tutor-realtime/internal/config"
)

func TestRunToken_Validation(t *testing.T) {
	assert.ErrorContains(t, runToken(nil), "--sub flag is required")
	assert.ErrorContains(t, runToken([]string{"--sub", "a", "--ttl", "soon"}), "invalid argument")
	assert.ErrorContains(t, runToken([]string{"--sub", "a", "--ttl", "-1h"}), "must be positive")
	assert.ErrorContains(t, runToken([]string{"--sub", "a", "stray"}), "unexpected argument")
}

const replayLog = `
{"event_id":"e1","type":"conversation.item.added","previous_item_id":null,"item":{"id":"u1","type":"message","role":"user"}}
{"event_id":"e2","type":"conversation.item.added","previous_item_id":"u1","item":{"id":"a1","type":"message","role":"assistant"}}
{"event_id":"e3","type":"response.output_audio_transcript.done","item_id":"a1","transcript":"Water boils at 100C."}
{"event_id":"e3","type":"response.output_audio_transcript.done","item_id":"a1","transcript":"Water boils at 100C."}
garbage
{"event_id":"e4","type":"conversation.item.input_audio_transcription.completed","item_id":"u1","transcript":"When does water boil?"}
{"event_id":"e5","type":"conversation.item.added","previous_item_id":"a1","item":{"id":"u2","type":"message","role":"user"}}
`

func TestReplay(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stats, err := replay(context.Background(), strings.NewReader(replayLog), &out, logger)
	require.NoError(t, err)

	assert.Equal(t, replayStats{Lines: 7, Dropped: 1, Duplicates: 1, Turns: 2, Pending: 1}, stats)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[0] student When does water boil?", lines[0])
	assert.Equal(t, "[1] tutor   Water boils at 100C.", lines[1])
}

func TestReplay_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := replay(ctx, strings.NewReader(replayLog), io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	logger := slog.New(&colorHandler{out: &out, mu: &sync.Mutex{}, level: slog.LevelInfo})

	logger.Debug("hidden")
	logger.With("component", "realtime").WithGroup("ev").Info("dropped", "type", "x")

	got := out.String()
	assert.NotContains(t, got, "hidden")
	assert.Contains(t, got, "INF dropped component=realtime ev.type=x")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestStarterConfigLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	secret := strings.Repeat("s", 44)
	require.NoError(t, os.WriteFile(path, []byte(starterConfig(filepath.Join(dir, "tutor.db"), secret)), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, config.DefaultDedupeTTL, cfg.Realtime.DedupeTTL)
	assert.Equal(t, config.DefaultSessionIdleTimeout, cfg.Realtime.SessionIdleTimeout)
	assert.EqualValues(t, config.DefaultMaxEventBytes, cfg.Realtime.MaxEventBytes)
}

func TestServerURL(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HTTPAddr: "localhost:9000"}}
	assert.Equal(t, "http://localhost:9000", serverURL(cfg))

	cfg.Tailscale = config.TailscaleConfig{Enabled: true, Hostname: "tutor", HTTPS: true}
	assert.Equal(t, "https://tutor", serverURL(cfg))
}
