// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sous/internal/model"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// SectionStyle is used for section headers within commands
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			MarginTop(1)

	// LabelStyle is used for left-aligned field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for hints and secondary information
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// PromptStyle colors the chat prompt marker
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// tierStyles gives each tier a stable color so answers show where they came from.
var tierStyles = map[model.Tier]lipgloss.Style{
	model.TierCheap: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	model.TierMid:   lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
	model.TierTop:   lipgloss.NewStyle().Foreground(lipgloss.Color("213")),
}

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal separator. Default width is 60.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("-", w))
}

// RenderLabel renders a label followed by a colon at the standard width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label + ":")
}

// RenderField renders one "label: value" line.
func RenderField(label, value string) string {
	return RenderLabel(label) + " " + ValueStyle.Render(value)
}

// RenderTier renders a tier name in its color.
func RenderTier(t model.Tier) string {
	style, ok := tierStyles[t]
	if !ok {
		return t.String()
	}
	return style.Render(t.String())
}

// RenderError renders an error line.
func RenderError(msg string) string {
	return ErrorStyle.Render("Error: ") + msg
}
