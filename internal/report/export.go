// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimestampFormat is the layout of generated_timestamp.
const TimestampFormat = "2006-01-02 15:04:05"

// Priorities in display order.
var Priorities = []string{"High", "Medium", "Low"}

// Metadata summarizes an exported report.
type Metadata struct {
	GeneratedTimestamp     string `json:"generated_timestamp" yaml:"generated_timestamp"`
	TotalMessagesAnalyzed  int    `json:"total_messages_analyzed" yaml:"total_messages_analyzed"`
	SuppliersAtRiskCount   int    `json:"suppliers_at_risk_count" yaml:"suppliers_at_risk_count"`
	ComplianceActionsCount int    `json:"compliance_actions_count" yaml:"compliance_actions_count"`
}

// Export is the downloadable form of a Report.
type Export struct {
	Metadata  Metadata   `json:"report_metadata" yaml:"report_metadata"`
	Suppliers []Supplier `json:"suppliers_at_risk" yaml:"suppliers_at_risk"`
	Actions   []Action   `json:"compliance_actions" yaml:"compliance_actions"`
}

// Build stamps a report with its generation time.
func Build(r Report, generated time.Time) Export {
	suppliers := r.Suppliers
	if suppliers == nil {
		suppliers = []Supplier{}
	}
	actions := r.Actions
	if actions == nil {
		actions = []Action{}
	}
	return Export{
		Metadata: Metadata{
			GeneratedTimestamp:     generated.Format(TimestampFormat),
			TotalMessagesAnalyzed:  r.TotalMessages,
			SuppliersAtRiskCount:   len(suppliers),
			ComplianceActionsCount: len(actions),
		},
		Suppliers: suppliers,
		Actions:   actions,
	}
}

// WriteJSON writes the export as indented JSON.
func WriteJSON(w io.Writer, e Export) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteYAML writes the export as YAML.
func WriteYAML(w io.Writer, e Export) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// Write encodes the export in the named format ("json" or "yaml").
func Write(w io.Writer, e Export, format string) error {
	switch strings.ToLower(format) {
	case "", "json":
		return WriteJSON(w, e)
	case "yaml", "yml":
		return WriteYAML(w, e)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// FileName returns the download name for a report generated at t.
func FileName(t time.Time, ext string) string {
	if ext == "" {
		ext = "json"
	}
	return "compliance_report_" + t.Format("2006-01-02_15-04-05") + "." + strings.TrimPrefix(ext, ".")
}

// PriorityGroup is the set of actions sharing a priority.
type PriorityGroup struct {
	Priority string
	Actions  []Action
}

// ByPriority groups actions High, Medium, Low, followed by any other
// priority in first-seen order. Empty groups are omitted.
func ByPriority(actions []Action) []PriorityGroup {
	index := make(map[string]int)
	groups := make([]PriorityGroup, 0, len(Priorities))
	for _, p := range Priorities {
		index[p] = len(groups)
		groups = append(groups, PriorityGroup{Priority: p})
	}
	for _, a := range actions {
		i, ok := index[a.Priority]
		if !ok {
			i = len(groups)
			index[a.Priority] = i
			groups = append(groups, PriorityGroup{Priority: a.Priority})
		}
		groups[i].Actions = append(groups[i].Actions, a)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Actions) > 0 {
			out = append(out, g)
		}
	}
	return out
}
