// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/servechat/internal/render"
)

// init configures the lipgloss color profile from terminal detection,
// honoring NO_COLOR and FORCE_COLOR.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = render.TitleStyle.MarginBottom(1)

	// SectionStyle is used for section headers within commands
	SectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().Foreground(render.Secondary).Width(18)

	// PromptStyle is the REPL prompt
	PromptStyle = render.UserLabelStyle

	SuccessStyle   = render.SuccessStyle
	ErrorStyle     = render.ErrorStyle
	WarningStyle   = render.WarningStyle
	DimStyle       = render.DimStyle
	SeparatorStyle = lipgloss.NewStyle().Foreground(render.Border)
)

// RenderSeparator renders a horizontal rule, 70 columns by default.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderLabel renders a field label with the standard width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderField renders "label value" on one line.
func RenderField(label, value string) string {
	return RenderLabel(label) + value
}
