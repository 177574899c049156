// ABOUTME: Entry point for the tutor-realtime server and its operator commands
// ABOUTME: Orders realtime voice/chat turns and records causal transcripts

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/tutor-realtime/internal/auth"
	"github.com/2389/tutor-realtime/internal/config"
	"github.com/2389/tutor-realtime/internal/gateway"
	"github.com/2389/tutor-realtime/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _         _                                _ _   _
| |_ _   _| |_ ___  _ __      _ __ ___  __ _| | |_(_)_ __ ___   ___
| __| | | | __/ _ \| '__|____| '__/ _ \/ _' | | __| | '_ ' _ \ / _ \
| |_| |_| | || (_) | | |_____| | |  __/ (_| | | |_| | | | | | |  __/
 \__|\__,_|\__\___/|_|       |_|  \___|\__,_|_|\__|_|_| |_| |_|\___|
`

// getDataPath returns the path to the tutor-realtime data directory.
// Priority: XDG_DATA_HOME/tutor-realtime > ~/.local/share/tutor-realtime
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "tutor-realtime")
}

func usage() {
	fmt.Println("Usage: tutor-realtime <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the server")
	fmt.Println("  init                           Write a config file with a fresh JWT secret")
	fmt.Println("  token --sub NAME [--thread ID] [--ttl 720h]")
	fmt.Println("                                 Issue an API token")
	fmt.Println("  replay FILE.jsonl              Order a recorded event log and print the turns")
	fmt.Println("  health                         Check server health")
	fmt.Println("  sessions                       Show open session count")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "replay":
		err = runReplay(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "sessions":
		err = runSessions(ctx)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Auth:      ")
	if cfg.Auth.JWTSecret != "" {
		fmt.Println("bearer tokens")
	} else {
		yellow.Println("disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		switch {
		case cfg.Tailscale.Funnel:
			yellow.Print(" [funnel]")
		case cfg.Tailscale.HTTPS:
			gray.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting tutor-realtime",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"dedupe_ttl", cfg.Realtime.DedupeTTL,
		"session_idle_timeout", cfg.Realtime.SessionIdleTimeout,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{
			out:   os.Stdout,
			mu:    &sync.Mutex{},
			level: level,
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// colorHandler provides colorized log output with thread-safe writes.
// Handlers derived through WithAttrs share the parent's mutex.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// serverURL returns the base URL of the locally configured server.
func serverURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			scheme = "https"
		}
		return scheme + "://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

func getURL(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	status, _, err := getURL(ctx, serverURL(cfg)+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runSessions(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	_, body, err := getURL(ctx, serverURL(cfg)+"/health/ready")
	if err != nil {
		return fmt.Errorf("sessions check failed: %w", err)
	}

	fmt.Println(body)
	return nil
}

// runToken issues a bearer token signed with the configured secret.
func runToken(args []string) error {
	var subject, threadID string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.StringVar(&subject, "sub", "", "token subject (who the token is for)")
	flagSet.StringVar(&threadID, "thread", "", "restrict the token to one thread")
	flagSet.DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(auth.Principal{ID: subject, ThreadID: threadID}, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runInit writes a starter config with a random JWT secret and creates the
// database.
func runInit(ctx context.Context) error {
	configPath := config.DefaultPath()
	dbPath := filepath.Join(getDataPath(), "tutor.db")

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(starterConfig(dbPath, jwtSecret)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	green.Printf("  ✓ Created config: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if _, err := s.ListThreads(ctx, 1); err != nil {
		return fmt.Errorf("checking database: %w", err)
	}
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    tutor-realtime serve                 # start the server")
	fmt.Println("    tutor-realtime token --sub frontend  # issue an API token")
	fmt.Println()
	return nil
}

func starterConfig(dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# tutor-realtime configuration
# Generated by tutor-realtime init

server:
  http_addr: "localhost:8080"

database:
  driver: "sqlite"
  path: "%s"

auth:
  jwt_secret: "%s"

realtime:
  dedupe_ttl: "%s"
  dedupe_max_entries: %d
  session_idle_timeout: "%s"
  max_event_bytes: %d

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret,
		config.DefaultDedupeTTL, config.DefaultDedupeMaxEntries,
		config.DefaultSessionIdleTimeout, config.DefaultMaxEventBytes)
}
