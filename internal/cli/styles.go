// Package cli renders mailflow's terminal output: decisions, run summaries, rule
// tables, and decision history.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

var (
	accent = lipgloss.Color("#5B8DEF")
	green  = lipgloss.Color("#4ECDC4")
	amber  = lipgloss.Color("#FFE66D")
	red    = lipgloss.Color("#FF6B6B")
	teal   = lipgloss.Color("#95E1D3")
	gray   = lipgloss.Color("#666666")
	border = lipgloss.Color("#333")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	matchStyle  = lipgloss.NewStyle().Foreground(green)
	warnStyle   = lipgloss.NewStyle().Foreground(amber)
	failStyle   = lipgloss.NewStyle().Foreground(red)
	actionStyle = lipgloss.NewStyle().Foreground(teal)
	mutedStyle  = lipgloss.NewStyle().Foreground(gray)
	ruleName    = lipgloss.NewStyle().Bold(true)
	summaryBox  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(1, 2)
	headerStyle = lipgloss.NewStyle().Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(border)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

const (
	matchIcon  = "✓"
	failIcon   = "✗"
	warnIcon   = "⚠️"
	noteIcon   = "ℹ️"
	mailIcon   = "📬"
	modelIcon  = "🤖"
	noRuleIcon = "–"
)

// FormatSuccess renders a completed step.
func FormatSuccess(message string) string {
	return matchStyle.Render(matchIcon + " " + message)
}

// FormatError renders a failure.
func FormatError(message string) string {
	return failStyle.Render(failIcon + " " + message)
}

// FormatWarning renders something the operator should look at.
func FormatWarning(message string) string {
	return warnStyle.Render(warnIcon + " " + message)
}

// FormatInfo renders a neutral note.
func FormatInfo(message string) string {
	return actionStyle.Render(noteIcon + " " + message)
}

// FormatTitle renders a section title.
func FormatTitle(title string) string {
	return titleStyle.Render(mailIcon + " " + title)
}

// FormatStatus colors a decision status: pending work amber, failures red,
// finished decisions green and skips muted.
func FormatStatus(status model.ExecutedRuleStatus) string {
	switch status {
	case model.StatusApplied:
		return matchStyle.Render(string(status))
	case model.StatusPending, model.StatusApplying:
		return warnStyle.Render(string(status))
	case model.StatusError, model.StatusRejected:
		return failStyle.Render(string(status))
	default:
		return mutedStyle.Render(string(status))
	}
}

func renderBox(title, content string) string {
	return summaryBox.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.UnsetMargins().Render(title), content))
}
