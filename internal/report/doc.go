// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package report builds the compliance report from structured data blocks
// the agent embeds in its answers.
//
// An assistant message may carry one block:
//
//	---STRUCTURED_DATA---
//	{"suppliers_at_risk": [...], "compliance_actions": [...]}
//	---END_STRUCTURED_DATA---
//
// # Key Types
//
//   - Report: suppliers and actions extracted from a History
//   - Export: Report plus report_metadata, ready for JSON or YAML
//   - PriorityGroup: actions grouped for display
//
// # Usage
//
//	r := report.Extract(sess.History(), logger)
//	exp := report.Build(r, sess.ReportTime())
//	err := report.WriteJSON(f, exp)
package report
