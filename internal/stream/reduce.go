// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"

	"github.com/jeranaias/servechat/internal/model"
)

// =============================================================================
// REDUCER
// =============================================================================

// Reducer folds the deltas of one logical message incrementally.
// The zero value is ready to use. Malformed or missing fields never
// produce an error; they default to "".
type Reducer struct {
	started    bool
	role       model.Role
	toolCallID string
	content    strings.Builder

	// Tool calls keyed by id in first-seen order.
	calls  []model.ToolCall
	byID   map[string]int
	lastID string
	count  int
}

// Add folds one delta into the message.
func (r *Reducer) Add(d model.Delta) {
	r.count++
	if !r.started {
		r.started = true
		r.role = d.Role
	} else if r.role == "" && d.Role != "" {
		r.role = d.Role
	}
	r.content.WriteString(d.Content)
	if d.ToolCallID != "" {
		r.toolCallID = d.ToolCallID
	}
	for _, tc := range d.ToolCalls {
		r.addToolCall(tc)
	}
}

// addToolCall upserts one tool-call fragment. A fragment with no id
// continues the most recent call, and is dropped when there is none.
func (r *Reducer) addToolCall(tc model.ToolCallDelta) {
	id := tc.ID
	if id == "" {
		id = r.lastID
	}
	if id == "" {
		return
	}
	if r.byID == nil {
		r.byID = make(map[string]int)
	}

	idx, ok := r.byID[id]
	if !ok {
		typ := tc.Type
		if typ == "" {
			typ = model.DefaultToolCallType
		}
		r.calls = append(r.calls, model.ToolCall{ID: id, Type: typ})
		idx = len(r.calls) - 1
		r.byID[id] = idx
	}
	r.lastID = id

	if tc.Function == nil {
		return
	}
	call := &r.calls[idx]
	call.Function.Arguments += tc.Function.Arguments
	if tc.Function.Name != "" {
		call.Function.Name = tc.Function.Name
	}
}

// Len returns the number of deltas folded so far.
func (r *Reducer) Len() int {
	return r.count
}

// Message returns a snapshot of the message reduced so far.
func (r *Reducer) Message() model.Message {
	role := r.role
	if role == "" {
		role = model.RoleAssistant
	}
	msg := model.Message{
		Role:       role,
		Content:    r.content.String(),
		ToolCallID: r.toolCallID,
	}
	if len(r.calls) > 0 {
		msg.ToolCalls = make([]model.ToolCall, len(r.calls))
		copy(msg.ToolCalls, r.calls)
	}
	return msg
}

// Reduce folds an ordered delta sequence for one logical message into
// the complete message.
func Reduce(deltas []model.Delta) model.Message {
	var r Reducer
	for _, d := range deltas {
		r.Add(d)
	}
	return r.Message()
}
