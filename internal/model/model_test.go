// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_JSONShape(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "user",
			msg:  NewUserMessage("hi"),
			want: `{"role":"user","content":"hi"}`,
		},
		{
			name: "assistant with tool call",
			msg: Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
				ID: "c1", Type: "function", Function: FunctionCall{Name: "lookup", Arguments: "{}"},
			}}},
			want: `{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"lookup","arguments":"{}"}}]}`,
		},
		{
			name: "tool result",
			msg:  NewToolMessage("c1", "42"),
			want: `{"role":"tool","content":"42","tool_call_id":"c1"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestMessage_CloneDoesNotShareToolCalls(t *testing.T) {
	orig := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}}}
	clone := orig.Clone()
	clone.ToolCalls[0].ID = "changed"

	assert.Equal(t, "c1", orig.ToolCalls[0].ID)
	assert.False(t, orig.Equal(clone))
}

func TestMessage_Preview(t *testing.T) {
	m := NewAssistantMessage("héllo wörld")
	assert.Equal(t, "héllo wörld", m.Preview(20))
	assert.Equal(t, "héll...", m.Preview(7))
}

func TestRole_DisplayName(t *testing.T) {
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "Tool", RoleTool.DisplayName())
	assert.Equal(t, "custom", Role("custom").DisplayName())
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_FlattenUserThenAssistant(t *testing.T) {
	h := NewHistory()
	h.Append(NewUserTurn("find risky suppliers"))
	h.Append(NewAssistantTurn([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Type: "function", Function: FunctionCall{Name: "search"}}}},
		NewToolMessage("c1", "results"),
		NewAssistantMessage("Acme Pty Ltd is at risk."),
	}, "req-1"))

	got := h.Flatten()
	require.Len(t, got, 4)
	assert.Equal(t, NewUserMessage("find risky suppliers"), got[0])
	assert.Equal(t, RoleAssistant, got[1].Role)
	assert.Equal(t, "c1", got[1].ToolCalls[0].ID)
	assert.Equal(t, RoleTool, got[2].Role)
	assert.Equal(t, "Acme Pty Ltd is at risk.", got[3].Content)
}

func TestHistory_TurnsAreNotMutatedThroughFlatten(t *testing.T) {
	h := NewHistory()
	h.Append(NewAssistantTurn([]Message{{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}}}}, ""))

	flat := h.Flatten()
	flat[0].ToolCalls[0].ID = "mutated"
	flat[0].Content = "mutated"

	again := h.Flatten()
	assert.Equal(t, "c1", again[0].ToolCalls[0].ID)
	assert.Equal(t, "", again[0].Content)
}

func TestHistory_ClearAndLastAssistant(t *testing.T) {
	h := NewHistory()
	assert.Nil(t, h.LastAssistant())

	h.Append(NewUserTurn("a"))
	h.Append(NewAssistantTurn([]Message{NewAssistantMessage("b")}, "r1"))
	h.Append(NewUserTurn("c"))
	h.Append(nil)

	require.Equal(t, 3, h.Len())
	require.NotNil(t, h.LastAssistant())
	assert.Equal(t, "r1", h.LastAssistant().RequestID())

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Flatten())
}

func TestHistory_JSONRoundTrip(t *testing.T) {
	h := NewHistory()
	h.Append(NewUserTurn("hello"))
	h.Append(NewAssistantTurn([]Message{NewAssistantMessage("hi there")}, "req-9"))

	data, err := json.Marshal(h)
	require.NoError(t, err)

	restored := NewHistory()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, h.Flatten(), restored.Flatten())
	assert.Equal(t, "req-9", restored.LastAssistant().RequestID())
}

func TestTurnRecord_UnknownKind(t *testing.T) {
	_, err := TurnRecord{Kind: "system"}.Turn()
	assert.True(t, errors.Is(err, ErrUnknownTurnKind))
}

func TestAssistantTurn_Text(t *testing.T) {
	turn := NewAssistantTurn([]Message{
		NewAssistantMessage("first"),
		NewToolMessage("c1", "ignored"),
		{Role: RoleAssistant},
		NewAssistantMessage("second"),
	}, "")
	assert.Equal(t, "first\n\nsecond", turn.Text())
}
