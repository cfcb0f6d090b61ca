// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"strings"
	"time"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/report"
	"github.com/jeranaias/servechat/internal/util"
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

var (
	ErrNilTranscript   = errors.New("transcript is nil")
	ErrEmptyTranscript = errors.New("transcript has no turns")
)

const titleMaxRunes = 60

// Transcript is a session history plus the metadata shown in exports.
type Transcript struct {
	SessionID string
	Title     string
	Endpoint  string
	CreatedAt time.Time
	UpdatedAt time.Time
	History   *model.History
}

// NewTranscript wraps a history. The title comes from the first user turn
// and the time range from the first and last turns.
func NewTranscript(sessionID, endpoint string, h *model.History) *Transcript {
	t := &Transcript{SessionID: sessionID, Endpoint: endpoint, History: h, Title: "Chat session"}
	if h == nil {
		return t
	}
	turns := h.Turns()
	for _, turn := range turns {
		if ut, ok := turn.(*model.UserTurn); ok {
			t.Title = util.TruncateRunes(strings.Join(strings.Fields(ut.Content()), " "), titleMaxRunes)
			break
		}
	}
	if len(turns) > 0 {
		t.CreatedAt = turns[0].CreatedAt()
		t.UpdatedAt = turns[len(turns)-1].CreatedAt()
	}
	return t
}

func (t *Transcript) validate() error {
	if t == nil || t.History == nil {
		return ErrNilTranscript
	}
	if t.History.Len() == 0 {
		return ErrEmptyTranscript
	}
	return nil
}

// =============================================================================
// ENTRIES
// =============================================================================

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryToolCall
	entryToolOutput
)

// entry is one displayable block of a transcript.
type entry struct {
	kind      entryKind
	content   string
	toolName  string
	callID    string
	requestID string
	at        time.Time

	// structured is set when a structured data block was stripped.
	structured bool
}

// entries flattens the transcript into display blocks. Tool calls become
// one block each; structured data is removed from assistant text.
func (t *Transcript) entries() []entry {
	var out []entry
	for _, turn := range t.History.Turns() {
		switch tt := turn.(type) {
		case *model.UserTurn:
			out = append(out, entry{kind: entryUser, content: tt.Content(), at: tt.CreatedAt()})
		case *model.AssistantTurn:
			for _, msg := range tt.Messages() {
				for _, call := range msg.ToolCalls {
					out = append(out, entry{
						kind:     entryToolCall,
						toolName: call.Function.Name,
						callID:   call.ID,
						content:  call.Function.Arguments,
						at:       tt.CreatedAt(),
					})
				}
				switch {
				case msg.Role == model.RoleTool:
					out = append(out, entry{kind: entryToolOutput, callID: msg.ToolCallID, content: msg.Content, at: tt.CreatedAt()})
				case msg.Content != "":
					text, found := report.StripStructuredData(msg.Content)
					out = append(out, entry{
						kind:       entryAssistant,
						content:    text,
						structured: found,
						requestID:  tt.RequestID(),
						at:         tt.CreatedAt(),
					})
				}
			}
		}
	}
	return out
}

func (k entryKind) label() string {
	switch k {
	case entryUser:
		return "You"
	case entryToolCall:
		return "Tool call"
	case entryToolOutput:
		return "Tool output"
	default:
		return "Assistant"
	}
}

func (k entryKind) class() string {
	switch k {
	case entryUser:
		return "user"
	case entryToolCall, entryToolOutput:
		return "tool"
	default:
		return "assistant"
	}
}
