// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/servechat/internal/report"
)

// EmptyReportText is shown when no structured data was captured.
const EmptyReportText = "No compliance data captured yet. Ask about supplier risk to build the report."

// Report renders the compliance report page: suppliers at risk, then
// actions grouped by priority.
func (r *Renderer) Report(rep report.Report, generated time.Time) string {
	var sb strings.Builder

	sb.WriteString(TitleStyle.Render("Compliance Report") + "\n")
	sb.WriteString(DimStyle.Render(fmt.Sprintf("Generated %s from %d messages",
		generated.Format(report.TimestampFormat), rep.TotalMessages)) + "\n\n")

	if rep.IsEmpty() {
		sb.WriteString(CaptionStyle.Render(EmptyReportText) + "\n")
		return sb.String()
	}

	width := r.opts.Width - 4

	sb.WriteString(TitleStyle.Render(fmt.Sprintf("Suppliers at Risk (%d)", len(rep.Suppliers))) + "\n")
	if len(rep.Suppliers) == 0 {
		sb.WriteString(DimStyle.Render("  none") + "\n")
	}
	for _, s := range rep.Suppliers {
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n",
			LevelStyle(s.Severity).Render(strings.ToUpper(s.Severity)),
			s.Name,
			DimStyle.Render(s.RiskType)))
		for _, d := range s.Details {
			sb.WriteString(indent(softWrap("- "+d, width), "      ") + "\n")
		}
	}

	sb.WriteString("\n" + TitleStyle.Render(fmt.Sprintf("Compliance Actions (%d)", len(rep.Actions))) + "\n")
	if len(rep.Actions) == 0 {
		sb.WriteString(DimStyle.Render("  none") + "\n")
	}
	for _, g := range report.ByPriority(rep.Actions) {
		sb.WriteString("  " + LevelStyle(g.Priority).Render(g.Priority+" priority") + "\n")
		for _, a := range g.Actions {
			sb.WriteString(indent(softWrap(fmt.Sprintf("- [%s] %s", a.Category, a.Action), width), "    ") + "\n")
			if a.Rationale != "" {
				sb.WriteString(DimStyle.Render(indent(softWrap(a.Rationale, width-2), "      ")) + "\n")
			}
		}
	}
	return sb.String()
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
