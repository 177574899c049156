// ABOUTME: Decodes realtime transport events into the three buffer operations
// ABOUTME: Reads only the fields it needs from each JSON payload using gjson

package realtime

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/2389/tutor-realtime/internal/ordering"
)

// ErrMalformedEvent is returned for payloads that are not JSON objects with a type.
var ErrMalformedEvent = errors.New("malformed realtime event")

// Server event types consumed from the realtime transport.
const (
	TypeItemAdded   = "conversation.item.added"
	TypeItemCreated = "conversation.item.created"

	TypeInputTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeInputTranscriptFailed    = "conversation.item.input_audio_transcription.failed"

	TypeOutputAudioTranscriptDelta = "response.output_audio_transcript.delta"
	TypeOutputAudioTranscriptDone  = "response.output_audio_transcript.done"
	TypeAudioTranscriptDelta       = "response.audio_transcript.delta"
	TypeAudioTranscriptDone        = "response.audio_transcript.done"
	TypeOutputTextDelta            = "response.output_text.delta"
	TypeOutputTextDone             = "response.output_text.done"
)

// Kind says which buffer operation an event maps to.
type Kind int

const (
	KindIgnored Kind = iota
	KindItemAdded
	KindTranscriptDelta
	KindTranscriptFinal
)

func (k Kind) String() string {
	switch k {
	case KindItemAdded:
		return "item_added"
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindTranscriptFinal:
		return "transcript_final"
	default:
		return "ignored"
	}
}

// Event is the decoded form of one transport event.
type Event struct {
	EventID string // transport-assigned, used for de-duplication
	Type    string
	Kind    Kind

	ItemID         string
	PreviousItemID *string
	Role           ordering.Role

	Delta      string  // KindTranscriptDelta
	Transcript *string // KindTranscriptFinal; nil means "keep accumulated deltas"
}

// Decode parses a raw transport event. Unknown event types decode
// successfully with KindIgnored.
func Decode(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return Event{}, ErrMalformedEvent
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return Event{}, ErrMalformedEvent
	}

	ev := Event{
		EventID: r.Get("event_id").String(),
		Type:    r.Get("type").String(),
	}
	if ev.Type == "" {
		return Event{}, ErrMalformedEvent
	}

	switch ev.Type {
	case TypeItemAdded, TypeItemCreated:
		item := r.Get("item")
		ev.Kind = KindItemAdded
		ev.ItemID = item.Get("id").String()
		ev.PreviousItemID = optionalString(r.Get("previous_item_id"))
		if ev.PreviousItemID == nil {
			ev.PreviousItemID = optionalString(item.Get("previous_item_id"))
		}
		// Only message items carry a speaker. Function calls and their
		// outputs stay in the chain as structural nodes.
		if itemType := item.Get("type").String(); itemType == "message" || itemType == "" {
			ev.Role = ordering.Role(item.Get("role").String())
		} else {
			ev.Role = ordering.Role(itemType)
		}

	case TypeInputTranscriptDelta:
		ev.Kind = KindTranscriptDelta
		ev.ItemID = r.Get("item_id").String()
		ev.Role = ordering.RoleUser
		ev.Delta = r.Get("delta").String()

	case TypeInputTranscriptCompleted:
		ev.Kind = KindTranscriptFinal
		ev.ItemID = r.Get("item_id").String()
		ev.Role = ordering.RoleUser
		ev.Transcript = optionalString(r.Get("transcript"))

	case TypeInputTranscriptFailed:
		// A failed transcription still has to release the turn, otherwise
		// every later turn would wait on it forever.
		ev.Kind = KindTranscriptFinal
		ev.ItemID = r.Get("item_id").String()
		ev.Role = ordering.RoleUser

	case TypeOutputAudioTranscriptDelta, TypeAudioTranscriptDelta, TypeOutputTextDelta:
		ev.Kind = KindTranscriptDelta
		ev.ItemID = r.Get("item_id").String()
		ev.Role = ordering.RoleAssistant
		ev.Delta = r.Get("delta").String()

	case TypeOutputAudioTranscriptDone, TypeAudioTranscriptDone:
		ev.Kind = KindTranscriptFinal
		ev.ItemID = r.Get("item_id").String()
		ev.Role = ordering.RoleAssistant
		ev.Transcript = optionalString(r.Get("transcript"))

	case TypeOutputTextDone:
		ev.Kind = KindTranscriptFinal
		ev.ItemID = r.Get("item_id").String()
		ev.Role = ordering.RoleAssistant
		ev.Transcript = optionalString(r.Get("text"))
	}

	return ev, nil
}

// optionalString returns nil for a missing or JSON null field.
func optionalString(v gjson.Result) *string {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	s := v.String()
	return &s
}
