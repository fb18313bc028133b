// Package transcript builds well-formed conversation transcripts for
// stateless chat-completion calls.
//
// A completion provider with no dedicated system-role slot requires a
// strictly alternating two-party conversation that ends on a user turn.
// Clients, however, send whatever they have: histories that echo back old
// context prompts, consecutive turns from the same party, or malformed
// entries. This package reconciles those inputs into a transcript the
// provider will accept:
//
//  1. The fresh per-request context prompt always heads the transcript.
//     It is authoritative over anything the client echoes back.
//  2. Context and user turns share the same outward role (the "system
//     prompt as first user turn" workaround, kept explicit so a transport
//     with real system-role support can map SpeakerContext directly).
//  3. Adjacent turns with the same outward role are coalesced into one
//     turn, joined by a newline, to satisfy strict alternation.
//  4. The transcript always ends on an outward user turn.
//
// Normalize is a pure function: no I/O, no hidden state, byte-identical
// output for identical inputs. It is safe to call concurrently.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Speaker identifies who authored a turn within the gateway.
type Speaker int

const (
	// SpeakerContext is the per-request context/system prompt.
	SpeakerContext Speaker = iota

	// SpeakerUser is the human customer.
	SpeakerUser

	// SpeakerAgent is the assistant.
	SpeakerAgent
)

// String returns the speaker name for logging.
func (s Speaker) String() string {
	switch s {
	case SpeakerContext:
		return "context"
	case SpeakerUser:
		return "user"
	case SpeakerAgent:
		return "agent"
	default:
		return fmt.Sprintf("speaker(%d)", int(s))
	}
}

// Role is the outward, two-party role scheme required by the completion
// transport. Context and user both map to RoleUser.
type Role string

const (
	// RoleUser is the outward user-like role.
	RoleUser Role = "user"

	// RoleAgent is the outward assistant-like role.
	RoleAgent Role = "assistant"
)

// Role returns the outward role for a speaker. SpeakerContext maps to
// RoleUser because the transport has no first-class system-role channel.
func (s Speaker) Role() Role {
	if s == SpeakerAgent {
		return RoleAgent
	}
	return RoleUser
}

// Turn is one utterance attributed to a speaker.
type Turn struct {
	Speaker Speaker
	Text    string
}

// Transcript is an ordered, role-alternating sequence of turns ready for
// submission to a completion call.
type Transcript []Turn

// Message is the outward role/content pair submitted to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Messages renders the transcript in the outward two-party role scheme.
func (t Transcript) Messages() []Message {
	msgs := make([]Message, len(t))
	for i, turn := range t {
		msgs[i] = Message{Role: turn.Speaker.Role(), Content: turn.Text}
	}
	return msgs
}

// ClientTurn is a client-supplied history entry. Clients are not trusted
// to send well-formed entries; decoding tolerates content as a plain
// string, a list of strings, or a list of {"text": ...} fragments (the
// shape some chat SDKs emit as "parts"). Entries that cannot be salvaged
// decode to an empty Text and are dropped with a reason by Normalize
// rather than failing the request.
type ClientTurn struct {
	Role string
	Text string
}

// clientTurnJSON mirrors the accepted wire shapes for a history entry.
type clientTurnJSON struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Parts   json.RawMessage `json:"parts"`
}

// UnmarshalJSON decodes a history entry, normalizing the content shape.
// Shape problems are not errors here; they surface as empty Text so that
// Normalize can report the drop instead of aborting the whole request.
func (c *ClientTurn) UnmarshalJSON(data []byte) error {
	var raw clientTurnJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Role = raw.Role
	c.Text = decodeContent(raw.Content)
	if c.Text == "" {
		c.Text = decodeContent(raw.Parts)
	}
	return nil
}

// MarshalJSON renders the canonical {role, content} shape.
func (c ClientTurn) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: c.Role, Content: c.Text})
}

// decodeContent flattens the tolerated content shapes into a single string.
// Fragment lists are joined by newlines in order.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return ""
	}

	parts := make([]string, 0, len(list))
	for _, item := range list {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			if text != "" {
				parts = append(parts, text)
			}
			continue
		}
		var frag struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(item, &frag); err == nil && frag.Text != "" {
			parts = append(parts, frag.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseSpeaker maps a client role tag to a speaker. Assistant-side tags
// vary across client SDKs, so several aliases are accepted.
func parseSpeaker(role string) (Speaker, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return SpeakerUser, true
	case "agent", "assistant", "model", "bot":
		return SpeakerAgent, true
	default:
		return 0, false
	}
}

// Drop reports a source history entry that was removed or folded during
// normalization. Index refers to the position in the client history.
type Drop struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

var (
	// ErrEmptyMessage indicates the new user message was missing or blank.
	ErrEmptyMessage = errors.New("transcript: new user message must not be empty")

	// ErrEmptyContext indicates the caller supplied no context prompt.
	// The context is computed server-side, so this is a caller bug, not
	// client input.
	ErrEmptyContext = errors.New("transcript: context text must not be empty")

	// ErrNotUserTerminated indicates the normalized transcript did not end
	// on an outward user turn. Unreachable given the construction in
	// Normalize; treated as an internal consistency defect, never
	// silently recovered.
	ErrNotUserTerminated = errors.New("transcript: normalized transcript does not end on a user turn")
)

// Normalize builds the transcript for one completion call from the fresh
// context prompt, the client-supplied history, and the new user message.
//
// History entries are filtered, not trusted: entries with unknown roles or
// empty content are dropped with a reason, and user-tagged entries whose
// text is byte-for-byte equal to the current context prompt are dropped as
// stale context echoes (agent-authored turns are never dropped by that
// rule; matching is exact, never fuzzy, and only against the current
// context). The surviving sequence is coalesced into strict alternation
// and verified to end on an outward user turn.
//
// The returned drops list every removed or folded history entry for
// observability. Normalize never partially succeeds: on error the
// transcript is nil.
func Normalize(contextText string, history []ClientTurn, userMessage string) (Transcript, []Drop, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, nil, ErrEmptyMessage
	}
	if strings.TrimSpace(contextText) == "" {
		return nil, nil, ErrEmptyContext
	}

	type sourced struct {
		turn Turn
		src  int // index into history, or -1 for synthesized turns
	}

	raw := make([]sourced, 0, len(history)+2)
	raw = append(raw, sourced{turn: Turn{Speaker: SpeakerContext, Text: contextText}, src: -1})

	var drops []Drop
	for i, entry := range history {
		speaker, ok := parseSpeaker(entry.Role)
		if !ok {
			drops = append(drops, Drop{Index: i, Reason: fmt.Sprintf("unrecognized role %q", entry.Role)})
			continue
		}
		if strings.TrimSpace(entry.Text) == "" {
			drops = append(drops, Drop{Index: i, Reason: "empty content"})
			continue
		}
		if speaker == SpeakerUser && entry.Text == contextText {
			drops = append(drops, Drop{Index: i, Reason: "stale context prompt echoed by client"})
			continue
		}
		raw = append(raw, sourced{turn: Turn{Speaker: speaker, Text: entry.Text}, src: i})
	}

	raw = append(raw, sourced{turn: Turn{Speaker: SpeakerUser, Text: userMessage}, src: -1})

	// Fold into strict alternation: adjacent turns with the same outward
	// role merge into one turn, texts joined by a single newline.
	out := make(Transcript, 0, len(raw))
	for _, s := range raw {
		if n := len(out); n > 0 && out[n-1].Speaker.Role() == s.turn.Speaker.Role() {
			out[n-1].Text = out[n-1].Text + "\n" + s.turn.Text
			if s.src >= 0 {
				drops = append(drops, Drop{Index: s.src, Reason: "merged into adjacent turn of same role"})
			}
			continue
		}
		out = append(out, s.turn)
	}

	if len(out) == 0 || out[len(out)-1].Speaker.Role() != RoleUser {
		return nil, drops, ErrNotUserTerminated
	}

	return out, drops, nil
}
