// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/jeranaias/servechat/internal/model"
)

// Structured data block markers emitted by the agent.
const (
	BlockStart = "---STRUCTURED_DATA---"
	BlockEnd   = "---END_STRUCTURED_DATA---"
)

// Limits applied to the extracted report.
const (
	MaxSuppliers          = 15
	MaxDetailsPerSupplier = 3
	MaxActions            = 25

	minSupplierName = 3
	maxSupplierName = 100

	detailKeyLen = 100
	actionKeyLen = 80
)

// Defaults for fields the agent left out.
const (
	DefaultRiskType = "General Risk"
	DefaultSeverity = "Medium"
	DefaultCategory = "General Action"
	DefaultPriority = "Medium"
)

var (
	blockRe    = regexp.MustCompile(`(?s)` + BlockStart + `\s*(\{.*?\})\s*` + BlockEnd)
	stripRe    = regexp.MustCompile(`(?s)\s*` + BlockStart + `.*?` + BlockEnd + `\s*`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// genericNames are words an agent sometimes puts in supplier_name that do
// not name a supplier.
var genericNames = map[string]bool{
	"compliance":  true,
	"policy":      true,
	"procurement": true,
	"government":  true,
	"supplier":    true,
	"vendor":      true,
}

// =============================================================================
// TYPES
// =============================================================================

// Supplier is one supplier at risk.
type Supplier struct {
	Name     string   `json:"supplier_name" yaml:"supplier_name"`
	RiskType string   `json:"risk_type" yaml:"risk_type"`
	Severity string   `json:"severity" yaml:"severity"`
	Details  []string `json:"details" yaml:"details"`
}

// Action is one recommended compliance action.
type Action struct {
	Action    string `json:"action" yaml:"action"`
	Category  string `json:"category" yaml:"category"`
	Priority  string `json:"priority" yaml:"priority"`
	Rationale string `json:"rationale" yaml:"rationale"`
}

// Report is the compliance data derived from a conversation.
type Report struct {
	Suppliers     []Supplier
	Actions       []Action
	TotalMessages int
}

// IsEmpty reports whether nothing was extracted.
func (r Report) IsEmpty() bool {
	return len(r.Suppliers) == 0 && len(r.Actions) == 0
}

type structuredSupplier struct {
	Name     string `json:"supplier_name"`
	RiskType string `json:"risk_type"`
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
	Evidence string `json:"evidence"`
}

type structuredAction struct {
	Action    string `json:"action"`
	Category  string `json:"category"`
	Priority  string `json:"priority"`
	Rationale string `json:"rationale"`
}

type structuredBlock struct {
	Suppliers []structuredSupplier `json:"suppliers_at_risk"`
	Actions   []structuredAction   `json:"compliance_actions"`
}

// =============================================================================
// EXTRACTION
// =============================================================================

// HasStructuredData reports whether content carries a structured block.
func HasStructuredData(content string) bool {
	return strings.Contains(content, BlockStart)
}

// StripStructuredData removes structured blocks for display. It reports
// whether any block was present.
func StripStructuredData(content string) (string, bool) {
	if !HasStructuredData(content) {
		return content, false
	}
	cleaned := stripRe.ReplaceAllString(content, "")
	cleaned = blankRunRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned), true
}

// parseBlock decodes the first structured block in content. Whitespace is
// collapsed first since agents often wrap long JSON lines.
func parseBlock(content string) (*structuredBlock, error) {
	m := blockRe.FindStringSubmatch(content)
	if m == nil {
		return nil, nil
	}
	raw := strings.Join(strings.Fields(m[1]), " ")

	var block structuredBlock
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// supplierTable accumulates suppliers keyed by case-folded name, keeping
// the first spelling and first-seen order.
type supplierTable struct {
	fold  cases.Caser
	order []string
	byKey map[string]*Supplier
	seen  map[string]map[string]bool
}

func newSupplierTable() *supplierTable {
	return &supplierTable{
		fold:  cases.Fold(),
		byKey: make(map[string]*Supplier),
		seen:  make(map[string]map[string]bool),
	}
}

func (t *supplierTable) add(s structuredSupplier) {
	name := strings.TrimSpace(s.Name)
	key := t.fold.String(name)
	if name == "" || genericNames[key] {
		return
	}
	if n := utf8.RuneCountInString(name); n < minSupplierName || n > maxSupplierName {
		return
	}

	sup, ok := t.byKey[key]
	if !ok {
		sup = &Supplier{
			Name:     name,
			RiskType: orDefault(s.RiskType, DefaultRiskType),
			Severity: orDefault(s.Severity, DefaultSeverity),
			Details:  []string{},
		}
		t.byKey[key] = sup
		t.seen[key] = make(map[string]bool)
		t.order = append(t.order, key)
	}

	detail := strings.TrimSpace(s.Summary + " Evidence: " + s.Evidence)
	dk := t.fold.String(prefixRunes(detail, detailKeyLen))
	if t.seen[key][dk] || len(sup.Details) >= MaxDetailsPerSupplier {
		return
	}
	t.seen[key][dk] = true
	sup.Details = append(sup.Details, detail)
}

func (t *supplierTable) list() []Supplier {
	out := make([]Supplier, 0, min(len(t.order), MaxSuppliers))
	for _, key := range t.order {
		if len(out) == MaxSuppliers {
			break
		}
		out = append(out, *t.byKey[key])
	}
	return out
}

// Extract derives the compliance report from the assistant messages in
// history. Tool messages and tool-call messages are skipped. An invalid
// block is logged and skipped.
func Extract(history *model.History, logger *slog.Logger) Report {
	if logger == nil {
		logger = slog.Default()
	}

	suppliers := newSupplierTable()
	actions := make([]Action, 0)
	seenActions := make(map[string]bool)

	for _, turn := range history.Turns() {
		at, ok := turn.(*model.AssistantTurn)
		if !ok {
			continue
		}
		for _, msg := range at.Messages() {
			if msg.Role == model.RoleTool || msg.HasToolCalls() || msg.Content == "" {
				continue
			}
			block, err := parseBlock(msg.Content)
			if err != nil {
				logger.Warn("failed to parse structured data", "request_id", at.RequestID(), "error", err)
				continue
			}
			if block == nil {
				continue
			}

			for _, s := range block.Suppliers {
				suppliers.add(s)
			}
			for _, a := range block.Actions {
				if a.Action == "" {
					continue
				}
				key := suppliers.fold.String(prefixRunes(a.Action, actionKeyLen))
				if seenActions[key] {
					continue
				}
				seenActions[key] = true
				actions = append(actions, Action{
					Action:    a.Action,
					Category:  orDefault(a.Category, DefaultCategory),
					Priority:  orDefault(a.Priority, DefaultPriority),
					Rationale: a.Rationale,
				})
			}
		}
	}

	if len(actions) > MaxActions {
		actions = actions[:MaxActions]
	}
	return Report{
		Suppliers:     suppliers.list(),
		Actions:       actions,
		TotalMessages: history.Len(),
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
