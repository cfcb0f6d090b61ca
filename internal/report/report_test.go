// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/servechat/internal/model"
)

func block(payload string) string {
	return "Here is what I found.\n\n" + BlockStart + "\n" + payload + "\n" + BlockEnd + "\n"
}

func historyOf(answers ...string) *model.History {
	h := model.NewHistory()
	for i, a := range answers {
		h.Append(model.NewUserTurn(fmt.Sprintf("question %d", i)))
		h.Append(model.NewAssistantTurn([]model.Message{model.NewAssistantMessage(a)}, fmt.Sprintf("req-%d", i)))
	}
	return h
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

// =============================================================================
// EXTRACTION TESTS
// =============================================================================

func TestExtract_SuppliersAndActions(t *testing.T) {
	h := historyOf(block(`{
		"suppliers_at_risk": [
			{"supplier_name": " Acme Pty Ltd ", "risk_type": "Sanctions", "severity": "High",
			 "summary": "Listed entity", "evidence": "OFAC list"},
			{"supplier_name": "Globex", "summary": "Late filings", "evidence": "ASIC"}
		],
		"compliance_actions": [
			{"action": "Suspend orders with Acme", "category": "Procurement", "priority": "High", "rationale": "Sanctions"},
			{"action": "Review Globex filings"},
			{"action": ""}
		]
	}`))

	r := Extract(h, quietLogger(&bytes.Buffer{}))

	require.Len(t, r.Suppliers, 2)
	assert.Equal(t, Supplier{
		Name: "Acme Pty Ltd", RiskType: "Sanctions", Severity: "High",
		Details: []string{"Listed entity Evidence: OFAC list"},
	}, r.Suppliers[0])
	assert.Equal(t, DefaultRiskType, r.Suppliers[1].RiskType)
	assert.Equal(t, DefaultSeverity, r.Suppliers[1].Severity)

	require.Len(t, r.Actions, 2)
	assert.Equal(t, Action{Action: "Review Globex filings", Category: DefaultCategory, Priority: DefaultPriority}, r.Actions[1])
	assert.Equal(t, 2, r.TotalMessages, "turns, not wire messages")
}

func TestExtract_RejectsGenericAndBadLengthNames(t *testing.T) {
	long := strings.Repeat("x", maxSupplierName+1)
	h := historyOf(block(`{"suppliers_at_risk": [
		{"supplier_name": "Vendor"},
		{"supplier_name": "PROCUREMENT"},
		{"supplier_name": "AB"},
		{"supplier_name": "   "},
		{"supplier_name": "` + long + `"},
		{"supplier_name": "ABC"}
	]}`))

	r := Extract(h, nil)
	require.Len(t, r.Suppliers, 1)
	assert.Equal(t, "ABC", r.Suppliers[0].Name)
}

func TestExtract_MergesSuppliersCaseInsensitively(t *testing.T) {
	h := historyOf(
		block(`{"suppliers_at_risk": [{"supplier_name": "Acme Corp", "severity": "High", "summary": "One", "evidence": "a"}]}`),
		block(`{"suppliers_at_risk": [
			{"supplier_name": "ACME CORP", "severity": "Low", "summary": "Two", "evidence": "b"},
			{"supplier_name": "acme corp", "summary": "one", "evidence": "A"},
			{"supplier_name": "Acme Corp", "summary": "Three", "evidence": "c"},
			{"supplier_name": "Acme Corp", "summary": "Four", "evidence": "d"}
		]}`),
	)

	r := Extract(h, nil)
	require.Len(t, r.Suppliers, 1)
	sup := r.Suppliers[0]
	assert.Equal(t, "Acme Corp", sup.Name, "first spelling kept")
	assert.Equal(t, "High", sup.Severity, "first occurrence wins")
	assert.Equal(t, []string{
		"One Evidence: a",
		"Two Evidence: b",
		"Three Evidence: c",
	}, sup.Details)
}

func TestExtract_Limits(t *testing.T) {
	var suppliers, actions []string
	for i := 0; i < MaxSuppliers+5; i++ {
		suppliers = append(suppliers, fmt.Sprintf(`{"supplier_name": "Supplier %02d"}`, i))
	}
	for i := 0; i < MaxActions+5; i++ {
		actions = append(actions, fmt.Sprintf(`{"action": "Action %02d"}`, i))
	}
	// Duplicate by prefix, differs only after the dedupe window.
	prefix := strings.Repeat("a", actionKeyLen)
	actions = append([]string{
		`{"action": "` + prefix + ` one"}`,
		`{"action": "` + strings.ToUpper(prefix) + ` two"}`,
	}, actions...)

	h := historyOf(block(`{"suppliers_at_risk": [` + strings.Join(suppliers, ",") +
		`], "compliance_actions": [` + strings.Join(actions, ",") + `]}`))

	r := Extract(h, nil)
	assert.Len(t, r.Suppliers, MaxSuppliers)
	assert.Equal(t, "Supplier 00", r.Suppliers[0].Name)
	require.Len(t, r.Actions, MaxActions)
	assert.Equal(t, prefix+" one", r.Actions[0].Action)
	assert.Equal(t, "Action 00", r.Actions[1].Action)
}

func TestExtract_SkipsToolAndToolCallMessages(t *testing.T) {
	payload := block(`{"compliance_actions": [{"action": "Should not appear"}]}`)
	h := model.NewHistory()
	h.Append(model.NewAssistantTurn([]model.Message{
		{Role: model.RoleAssistant, Content: payload, ToolCalls: []model.ToolCall{{ID: "c1", Type: "function"}}},
		model.NewToolMessage("c1", payload),
		model.NewAssistantMessage("No structured data here."),
	}, "req-1"))

	r := Extract(h, nil)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 1, r.TotalMessages)
}

func TestExtract_InvalidBlockIsLoggedAndSkipped(t *testing.T) {
	var logs bytes.Buffer
	h := historyOf(
		block(`{"suppliers_at_risk": [{"supplier_name": "Broken"`+"}"),
		block(`{"compliance_actions": [{"action": "Keep this"}]}`),
	)

	r := Extract(h, quietLogger(&logs))
	require.Len(t, r.Actions, 1)
	assert.Equal(t, "Keep this", r.Actions[0].Action)
	assert.Contains(t, logs.String(), "failed to parse structured data")
	assert.Contains(t, logs.String(), "req-0")
}

func TestExtract_NormalizesWrappedJSON(t *testing.T) {
	h := historyOf(block("{\"compliance_actions\": [{\"action\": \"Audit\r\n\tsupplier\"}]}"))

	r := Extract(h, nil)
	require.Len(t, r.Actions, 1)
	assert.Equal(t, "Audit supplier", r.Actions[0].Action)
}

// =============================================================================
// STRIP TESTS
// =============================================================================

func TestStripStructuredData(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		found bool
	}{
		{"no block", "Plain answer.", "Plain answer.", false},
		{"trailing block", block(`{"a": 1}`), "Here is what I found.", true},
		{
			"block in the middle",
			"Top.\n\n\n" + BlockStart + "{}" + BlockEnd + "\n\n\n\nBottom.",
			"Top.Bottom.",
			true,
		},
		{
			"blank runs collapsed",
			"One.\n\n\n\nTwo.\n" + BlockStart + "{}" + BlockEnd,
			"One.\n\nTwo.",
			true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, found := StripStructuredData(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.found, found)
		})
	}
}

// =============================================================================
// EXPORT TESTS
// =============================================================================

func TestBuild_WriteJSON(t *testing.T) {
	generated := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	exp := Build(Report{TotalMessages: 4, Actions: []Action{{Action: "Audit", Category: "Review", Priority: "Low"}}}, generated)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, exp))
	assert.Contains(t, buf.String(), "\n  \"report_metadata\"", "two-space indent")
	assert.JSONEq(t, `{
		"report_metadata": {
			"generated_timestamp": "2025-03-01 09:30:00",
			"total_messages_analyzed": 4,
			"suppliers_at_risk_count": 0,
			"compliance_actions_count": 1
		},
		"suppliers_at_risk": [],
		"compliance_actions": [{"action": "Audit", "category": "Review", "priority": "Low", "rationale": ""}]
	}`, buf.String())
}

func TestWriteYAML(t *testing.T) {
	exp := Build(Report{Suppliers: []Supplier{{Name: "Acme", RiskType: "General Risk", Severity: "High", Details: []string{"x"}}}}, time.Unix(0, 0).UTC())

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, exp, "yaml"))

	var decoded Export
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, exp.Metadata, decoded.Metadata)
	assert.Equal(t, exp.Suppliers, decoded.Suppliers)
	assert.Empty(t, decoded.Actions)
	assert.Contains(t, buf.String(), "supplier_name: Acme")
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, Export{}, "xml")
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "compliance_report_2025-03-01_09-30-05.json", FileName(ts, ""))
	assert.Equal(t, "compliance_report_2025-03-01_09-30-05.yaml", FileName(ts, ".yaml"))
}

func TestByPriority(t *testing.T) {
	actions := []Action{
		{Action: "a", Priority: "Low"},
		{Action: "b", Priority: "Urgent"},
		{Action: "c", Priority: "High"},
		{Action: "d", Priority: "Low"},
	}

	groups := ByPriority(actions)
	require.Len(t, groups, 3)
	assert.Equal(t, "High", groups[0].Priority)
	assert.Equal(t, "Low", groups[1].Priority)
	assert.Len(t, groups[1].Actions, 2)
	assert.Equal(t, "Urgent", groups[2].Priority)
}

func TestExport_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Supplier{Name: "Acme"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"supplier_name":"Acme"`)
}
