// Package cli renders decisions, reports and the interactive review flow for the terminal.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// Ledger palette.
var (
	PrimaryColor = lipgloss.Color("#2E8B57") // ledger green
	SuccessColor = lipgloss.Color("#3CB371")
	WarningColor = lipgloss.Color("#E1B12C")
	ErrorColor   = lipgloss.Color("#D9534F")
	InfoColor    = lipgloss.Color("#5BA4CF")
	SubtleColor  = lipgloss.Color("#7A7A7A")
	BorderColor  = lipgloss.Color("#3C4A3E")
)

// sourceColors tints each classifier's contribution line so a reviewer can tell at a glance
// where a suggestion came from.
var sourceColors = map[model.Source]lipgloss.Color{
	model.SourceRule:        lipgloss.Color("#8FBC8F"),
	model.SourceStatistical: lipgloss.Color("#6495ED"),
	model.SourceLLM:         lipgloss.Color("#BA8FD6"),
}

var (
	// TitleStyle is used for section and box titles.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor).MarginBottom(1)

	// Message styles.
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)
	BoldStyle    = lipgloss.NewStyle().Bold(true)

	// BoxStyle frames a decision or report.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(1, 2)

	// TableHeaderStyle underlines the header row of the evaluation table.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(BorderColor)

	PromptStyle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	LedgerIcon  = "📒"
	ChartIcon   = "📊"
)

// SourceStyle returns the style for a classifier's name and category.
func SourceStyle(source model.Source) lipgloss.Style {
	if c, ok := sourceColors[source]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return SubtleStyle
}

func withIcon(style lipgloss.Style, icon, message string) string {
	return style.Render(icon + " " + message)
}

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string { return withIcon(SuccessStyle, SuccessIcon, message) }

// FormatError formats an error message with icon.
func FormatError(message string) string { return withIcon(ErrorStyle, ErrorIcon, message) }

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string { return withIcon(WarningStyle, WarningIcon, message) }

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string { return withIcon(InfoStyle, InfoIcon, message) }

// FormatTitle formats a title with the ledger icon.
func FormatTitle(title string) string { return withIcon(TitleStyle, LedgerIcon, title) }

// FormatPrompt formats an input prompt.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// RenderBox renders content under a title inside a rounded border.
func RenderBox(title, content string) string {
	heading := TitleStyle.UnsetMargins().Render(title)
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, content))
}
