// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/report"
)

func plain() *Renderer {
	return New(Options{Width: 60})
}

// =============================================================================
// RENDERER TESTS
// =============================================================================

func TestMessage_HidesStructuredData(t *testing.T) {
	msg := model.NewAssistantMessage("Acme is at risk.\n\n---STRUCTURED_DATA---\n{\"suppliers\":[]}\n---END_STRUCTURED_DATA---")

	out := plain().Message(msg)
	assert.Contains(t, out, "Acme is at risk.")
	assert.Contains(t, out, StructuredCaption)
	assert.NotContains(t, out, "STRUCTURED_DATA")
	assert.NotContains(t, out, "suppliers")
}

func TestMessage_NoCaptionWithoutBlock(t *testing.T) {
	out := plain().Message(model.NewAssistantMessage("hello"))
	assert.NotContains(t, out, StructuredCaption)
}

func TestMessage_ToolCallPrettyPrinted(t *testing.T) {
	msg := model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{
		ID: "c1", Type: "function",
		Function: model.FunctionCall{Name: "lookup_supplier", Arguments: `{"name":"Acme","limit":3}`},
	}}}

	out := plain().Message(msg)
	assert.Contains(t, out, "lookup_supplier")
	assert.Contains(t, out, `"name": "Acme"`)
	assert.Contains(t, out, "c1")
}

func TestMessage_ToolOutputTruncated(t *testing.T) {
	long := strings.Repeat("x", 1500)
	out := plain().Message(model.NewToolMessage("c1", long))

	assert.Contains(t, out, "1,500 characters")
	assert.NotContains(t, out, strings.Repeat("x", 1100))
}

func TestMessage_ShortToolOutputNoCaption(t *testing.T) {
	out := plain().Message(model.NewToolMessage("c1", "42"))
	assert.Contains(t, out, "42")
	assert.NotContains(t, out, "characters")
}

func TestTruncateToolOutput(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		max       int
		truncated bool
	}{
		{"short", "ok", 10, false},
		{"trailing newline", "ok\n", 2, false},
		{"runes", strings.Repeat("é", 20), 10, true},
		{"lines", strings.Repeat("a\n", 30), 1000, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, got := TruncateToolOutput(tc.in, tc.max)
			assert.Equal(t, tc.truncated, got)
		})
	}
}

func TestPlaceholder_StripsEmphasis(t *testing.T) {
	out := plain().Placeholder("_Thinking..._")
	assert.Contains(t, out, "Thinking...")
	assert.NotContains(t, out, "_")
}

func TestOptionsFrom(t *testing.T) {
	ui := config.UIConfig{Markdown: true, Theme: "dark"}
	opts := OptionsFrom(ui, 100)
	assert.Equal(t, 100, opts.Width)

	ui.WordWrap = 72
	assert.Equal(t, 72, OptionsFrom(ui, 100).Width)
}

func TestNew_MarkdownRenders(t *testing.T) {
	r := New(Options{Markdown: true, Theme: "dark", Width: 60})
	out := r.Message(model.NewAssistantMessage("# Title\n\nbody text"))
	assert.NotEqual(t, ansi.Strip(out), out, "glamour styles the output")
	text := ansi.Strip(out)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "body text")
}

// =============================================================================
// DISPLAY TESTS
// =============================================================================

func TestTerminalDisplay_RedrawsInPlace(t *testing.T) {
	var buf bytes.Buffer
	d := NewTerminalDisplay(&buf, plain())

	d.Placeholder("_Thinking..._")
	d.Update("a", model.NewAssistantMessage("Hel"))
	d.Update("a", model.NewAssistantMessage("Hello"))
	d.Replace([]model.Message{model.NewAssistantMessage("Hello world")})

	out := buf.String()
	assert.Contains(t, out, "Thinking...")
	assert.Contains(t, out, "Hello world")
	assert.GreaterOrEqual(t, strings.Count(out, "\x1b[2K"), 3, "each redraw clears the previous area")
	require.Equal(t, 0, d.lines)
}

func TestPlainDisplay_FinalOnly(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplay(&buf, plain())

	d.Placeholder("_Thinking..._")
	d.Update("a", model.NewAssistantMessage("partial"))
	assert.Empty(t, buf.String())

	d.Replace([]model.Message{model.NewAssistantMessage("done")})
	assert.Equal(t, "done\n", buf.String())
}

// =============================================================================
// REPORT TESTS
// =============================================================================

func TestReport_Empty(t *testing.T) {
	out := plain().Report(report.Report{TotalMessages: 2}, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	assert.Contains(t, out, "2025-03-01 09:00:00")
	assert.Contains(t, out, EmptyReportText)
}

func TestReport_GroupsActionsByPriority(t *testing.T) {
	rep := report.Report{
		Suppliers: []report.Supplier{{Name: "Acme", RiskType: "Sanctions", Severity: "High", Details: []string{"listed 2024"}}},
		Actions: []report.Action{
			{Action: "Review contracts", Category: "Legal", Priority: "Low"},
			{Action: "Freeze payments", Category: "Finance", Priority: "High", Rationale: "sanctioned entity"},
		},
		TotalMessages: 4,
	}

	out := plain().Report(rep, time.Now())
	assert.Contains(t, out, "Suppliers at Risk (1)")
	assert.Contains(t, out, "Acme")
	assert.Contains(t, out, "listed 2024")
	assert.Contains(t, out, "sanctioned entity")

	high := strings.Index(out, "High priority")
	low := strings.Index(out, "Low priority")
	require.NotEqual(t, -1, high)
	require.NotEqual(t, -1, low)
	assert.Less(t, high, low)
	assert.NotContains(t, out, "Medium priority")
}

func TestHistory_LabelsTurns(t *testing.T) {
	h := model.NewHistory()
	h.Append(model.NewUserTurn("which suppliers?"))
	h.Append(model.NewAssistantTurn([]model.Message{model.NewAssistantMessage("Acme")}, "r1"))

	out := plain().History(h)
	assert.Contains(t, out, "You")
	assert.Contains(t, out, "which suppliers?")
	assert.Contains(t, out, "Assistant")
	assert.Less(t, strings.Index(out, "which suppliers?"), strings.Index(out, "Acme"))
}
