// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// PALETTE
// =============================================================================

// Colors adapt to light and dark terminals.
var (
	Accent    = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	Assistant = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	Success   = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	Warning   = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	Danger    = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	Muted     = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
	Secondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}
	Border    = lipgloss.AdaptiveColor{Light: "#D4D4D4", Dark: "#45475A"}
)

// =============================================================================
// STYLES
// =============================================================================

var (
	UserLabelStyle      = lipgloss.NewStyle().Foreground(Accent).Bold(true)
	AssistantLabelStyle = lipgloss.NewStyle().Foreground(Assistant).Bold(true)
	ToolLabelStyle      = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	CaptionStyle        = lipgloss.NewStyle().Foreground(Muted).Italic(true)
	PlaceholderStyle    = lipgloss.NewStyle().Foreground(Secondary).Italic(true)
	ErrorStyle          = lipgloss.NewStyle().Foreground(Danger).Bold(true)
	SuccessStyle        = lipgloss.NewStyle().Foreground(Success).Bold(true)
	WarningStyle        = lipgloss.NewStyle().Foreground(Warning)
	DimStyle            = lipgloss.NewStyle().Foreground(Muted)
	TitleStyle          = lipgloss.NewStyle().Foreground(Accent).Bold(true)

	// ToolBoxStyle frames tool-call arguments and tool output.
	ToolBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(Border).
			Padding(0, 1)

	// Severity and priority badges in the compliance report.
	HighStyle   = lipgloss.NewStyle().Foreground(Danger).Bold(true)
	MediumStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	LowStyle    = lipgloss.NewStyle().Foreground(Success).Bold(true)
)

// LevelStyle returns the badge style for a severity or priority.
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "High", "Critical":
		return HighStyle
	case "Low":
		return LowStyle
	default:
		return MediumStyle
	}
}
