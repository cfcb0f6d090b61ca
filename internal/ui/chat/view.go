// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"

	"github.com/jeranaias/servechat/internal/render"
	"github.com/jeranaias/servechat/internal/session"
)

// =============================================================================
// MAIN RENDER
// =============================================================================

// View renders the screen: header, transcript or report, status, input
// and key help.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatus(),
		m.input.View(),
		m.help.View(m.keys),
	)
}

func (m Model) renderHeader() string {
	st := m.session.GetStatus()

	page := "chat"
	if st.Page == session.PageReport {
		page = "report"
	}
	parts := []string{m.endpoint, shortID(st.ID), fmt.Sprintf("%d turns", st.Turns), page}
	if st.SupportsFeedback {
		parts = append(parts, "feedback on")
	}

	line := render.TitleStyle.Render("servechat") + " " + render.DimStyle.Render(strings.Join(parts, " · "))
	return truncate.String(line, uint(m.width))
}

func (m Model) renderStatus() string {
	if m.state == StateStreaming {
		return m.spinner.View() + " " + render.PlaceholderStyle.Render("waiting for the endpoint (esc to cancel)")
	}
	if m.status == "" {
		return ""
	}
	text := runewidth.Truncate(m.status, m.width, "…")
	if m.statusErr {
		return render.ErrorStyle.Render(text)
	}
	return render.SuccessStyle.Render(text)
}

// =============================================================================
// HELPERS
// =============================================================================

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
