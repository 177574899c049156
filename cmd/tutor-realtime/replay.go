// ABOUTME: replay command orders a recorded realtime event log offline
// ABOUTME: Prints turns in causal order and reports dropped, duplicate, and stranded items

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/tutor-realtime/internal/dedupe"
	"github.com/2389/tutor-realtime/internal/ordering"
	"github.com/2389/tutor-realtime/internal/realtime"
)

// replayStats summarises one replay run.
type replayStats struct {
	Lines      int
	Dropped    int // malformed lines
	Duplicates int
	Turns      int
	Pending    int // items still waiting when the log ended
}

// maxReplayLine bounds a single event line.
const maxReplayLine = 4 << 20

func runReplay(ctx context.Context, args []string) error {
	var logLevel string
	flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level for dropped and stranded events")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: tutor-realtime replay [--log-level L] FILE.jsonl")
	}

	f, err := os.Open(flagSet.Arg(0))
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	logger := slog.New(&colorHandler{out: os.Stderr, mu: &sync.Mutex{}, level: parseLevel(logLevel)})

	stats, err := replay(ctx, f, os.Stdout, logger)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("\n%d lines, %d turns, %d duplicates, %d dropped, %d pending\n",
		stats.Lines, stats.Turns, stats.Duplicates, stats.Dropped, stats.Pending)
	return nil
}

// replay feeds every line of r through a fresh session and writes each
// dispatched turn to w.
func replay(ctx context.Context, r io.Reader, w io.Writer, logger *slog.Logger) (replayStats, error) {
	var stats replayStats

	user := color.New(color.FgGreen, color.Bold)
	assistant := color.New(color.FgCyan, color.Bold)

	sink := realtime.SinkFunc(func(_ context.Context, d realtime.Dispatch) error {
		label := assistant.Sprint("tutor  ")
		if d.Message.Role == ordering.RoleUser {
			label = user.Sprint("student")
		}
		_, err := fmt.Fprintf(w, "[%s] %s %s\n", d.Message.Seq, label, d.Message.Text)
		return err
	})

	seen := dedupe.New(time.Hour, 1<<20, 0)
	defer seen.Close()

	sess := realtime.NewSession(realtime.SessionConfig{
		ID:       "replay",
		ThreadID: "replay",
		Sink:     sink,
		Seen:     seen,
		Logger:   logger,
	})
	defer sess.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		res, err := sess.Handle(ctx, line)
		if errors.Is(err, realtime.ErrMalformedEvent) {
			stats.Dropped++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		if res.Duplicate {
			stats.Duplicates++
		}
		stats.Turns += len(res.Dispatched)
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading event log: %w", err)
	}

	stats.Pending = sess.Stats().Pending
	return stats, nil
}
