// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// TURNS
// =============================================================================

// TurnKind distinguishes the two turn variants.
type TurnKind string

const (
	TurnUser      TurnKind = "user"
	TurnAssistant TurnKind = "assistant"
)

// Turn is one entry in the History. Turns are immutable once appended.
type Turn interface {
	Kind() TurnKind
	// WireMessages returns the turn's contribution to the next request.
	WireMessages() []Message
	// CreatedAt is when the turn was resolved.
	CreatedAt() time.Time
}

// UserTurn holds the literal text the user submitted.
type UserTurn struct {
	content string
	created time.Time
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) *UserTurn {
	return &UserTurn{content: content, created: time.Now()}
}

// Content returns the submitted text.
func (t *UserTurn) Content() string { return t.content }

// Kind implements Turn.
func (t *UserTurn) Kind() TurnKind { return TurnUser }

// CreatedAt implements Turn.
func (t *UserTurn) CreatedAt() time.Time { return t.created }

// WireMessages implements Turn.
func (t *UserTurn) WireMessages() []Message {
	return []Message{NewUserMessage(t.content)}
}

// AssistantTurn holds the resolved logical messages of one response and the
// endpoint request id used for feedback.
type AssistantTurn struct {
	messages  []Message
	requestID string
	created   time.Time
}

// NewAssistantTurn creates an assistant turn. The messages are copied.
func NewAssistantTurn(messages []Message, requestID string) *AssistantTurn {
	return &AssistantTurn{
		messages:  CloneMessages(messages),
		requestID: requestID,
		created:   time.Now(),
	}
}

// Messages returns a copy of the turn's messages.
func (t *AssistantTurn) Messages() []Message { return CloneMessages(t.messages) }

// RequestID returns the endpoint request id, or "" if none was reported.
func (t *AssistantTurn) RequestID() string { return t.requestID }

// Kind implements Turn.
func (t *AssistantTurn) Kind() TurnKind { return TurnAssistant }

// CreatedAt implements Turn.
func (t *AssistantTurn) CreatedAt() time.Time { return t.created }

// WireMessages implements Turn.
func (t *AssistantTurn) WireMessages() []Message { return CloneMessages(t.messages) }

// Text concatenates the content of the turn's assistant messages.
func (t *AssistantTurn) Text() string {
	var out string
	for _, m := range t.messages {
		if m.Role != RoleAssistant || m.Content == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

// =============================================================================
// HISTORY
// =============================================================================

// History is the ordered, append-only log of turns for one session.
// It is owned by a single session and is not safe for concurrent use.
type History struct {
	turns []Turn
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{turns: make([]Turn, 0)}
}

// Append adds a turn at the end. Nil turns are ignored.
func (h *History) Append(turn Turn) {
	if turn == nil {
		return
	}
	h.turns = append(h.turns, turn)
}

// Flatten concatenates every turn's wire messages in turn order.
func (h *History) Flatten() []Message {
	out := make([]Message, 0, len(h.turns))
	for _, turn := range h.turns {
		out = append(out, turn.WireMessages()...)
	}
	return out
}

// Clear removes every turn.
func (h *History) Clear() {
	h.turns = make([]Turn, 0)
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns the turns in order. The slice is a copy; turns are shared
// but immutable.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// LastAssistant returns the most recent assistant turn, or nil.
func (h *History) LastAssistant() *AssistantTurn {
	for i := len(h.turns) - 1; i >= 0; i-- {
		if at, ok := h.turns[i].(*AssistantTurn); ok {
			return at
		}
	}
	return nil
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// ErrUnknownTurnKind is returned when decoding a record of an unknown kind.
var ErrUnknownTurnKind = errors.New("unknown turn kind")

// TurnRecord is the storage form of a turn.
type TurnRecord struct {
	Kind      TurnKind  `json:"kind"`
	Content   string    `json:"content,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordOf converts a turn to its storage form.
func RecordOf(turn Turn) TurnRecord {
	rec := TurnRecord{Kind: turn.Kind(), CreatedAt: turn.CreatedAt()}
	switch t := turn.(type) {
	case *UserTurn:
		rec.Content = t.content
	case *AssistantTurn:
		rec.Messages = t.Messages()
		rec.RequestID = t.requestID
	}
	return rec
}

// Turn rebuilds the turn described by the record.
func (r TurnRecord) Turn() (Turn, error) {
	switch r.Kind {
	case TurnUser:
		return &UserTurn{content: r.Content, created: r.CreatedAt}, nil
	case TurnAssistant:
		return &AssistantTurn{messages: CloneMessages(r.Messages), requestID: r.RequestID, created: r.CreatedAt}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTurnKind, r.Kind)
	}
}

// MarshalJSON encodes the history as a list of turn records.
func (h *History) MarshalJSON() ([]byte, error) {
	recs := make([]TurnRecord, 0, len(h.turns))
	for _, t := range h.turns {
		recs = append(recs, RecordOf(t))
	}
	return json.Marshal(recs)
}

// UnmarshalJSON replaces the history with the decoded turn records.
func (h *History) UnmarshalJSON(data []byte) error {
	var recs []TurnRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}
	turns := make([]Turn, 0, len(recs))
	for _, rec := range recs {
		t, err := rec.Turn()
		if err != nil {
			return err
		}
		turns = append(turns, t)
	}
	h.turns = turns
	return nil
}
