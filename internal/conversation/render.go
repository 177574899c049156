// ABOUTME: Renders thread transcripts as Markdown and HTML
// ABOUTME: HTML goes through goldmark with raw HTML in turn text suppressed

package conversation

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/tutor-realtime/internal/store"
)

// MarkdownTranscript formats turns as a Markdown document, one section per turn.
func MarkdownTranscript(thread *store.Thread, turns []*store.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Transcript %s\n\n", thread.ID)
	if thread.AssistantID != "" {
		fmt.Fprintf(&b, "Assistant: `%s`\n\n", thread.AssistantID)
	}
	for _, turn := range turns {
		fmt.Fprintf(&b, "## %s\n\n", speakerLabel(turn.Role))
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			text = "_(no transcript)_"
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// RenderTranscript returns the thread transcript as an HTML fragment.
func (s *Service) RenderTranscript(ctx context.Context, threadID string) (string, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	turns, err := s.store.ListTurns(ctx, threadID, 0)
	if err != nil {
		return "", err
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(MarkdownTranscript(thread, turns)), &htmlBuf); err != nil {
		return "", fmt.Errorf("rendering transcript: %w", err)
	}
	return htmlBuf.String(), nil
}
