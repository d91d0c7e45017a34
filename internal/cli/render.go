package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/the-mail-must-flow/internal/engine"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// FormatDecision renders one message's outcome on a single line, followed by its
// action items.
func FormatDecision(label string, result engine.RunRulesResult) string {
	var b strings.Builder
	switch {
	case result.Rule == nil:
		b.WriteString(mutedStyle.Render(noRuleIcon + " " + label + ": no rule matched"))
	default:
		icon := matchIcon
		if result.Rule.IsAIRule() && !model.HasDeterministicReason(result.MatchReasons) {
			icon = modelIcon
		}
		line := fmt.Sprintf("%s %s: %s", icon, label, ruleName.Render(result.Rule.Name))
		if result.Existing {
			line += mutedStyle.Render(" (already recorded)")
		}
		b.WriteString(matchStyle.Render(line))
	}

	reason := result.Reason
	if described := model.DescribeMatchReasons(result.MatchReasons); described != "" {
		reason = described
	}
	if reason != "" {
		b.WriteString("\n    " + mutedStyle.Render(reason))
	}
	for _, item := range result.ActionItems {
		b.WriteString("\n    " + actionStyle.Render("→ "+FormatActionItem(item)))
	}
	return b.String()
}

// FormatActionItem describes an action item by its type and the fields it uses.
func FormatActionItem(item model.ActionItem) string {
	var fields []string
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, name+"="+value)
		}
	}
	add("label", item.Label)
	add("to", item.To)
	add("subject", item.Subject)
	add("url", item.URL)
	if len(fields) == 0 {
		return string(item.Type)
	}
	return string(item.Type) + " " + strings.Join(fields, " ")
}

// RenderSummary renders bulk run totals.
func RenderSummary(stats service.CompletionStats) string {
	content := strings.Join([]string{
		fmt.Sprintf("Messages:  %d", stats.Total),
		matchStyle.Render(fmt.Sprintf("Matched:   %d", stats.Matched)),
		fmt.Sprintf("No match:  %d", stats.NoMatch),
		mutedStyle.Render(fmt.Sprintf("Existing:  %d", stats.Existing)),
		failedLine(stats.Failed),
		mutedStyle.Render(fmt.Sprintf("Duration:  %s", stats.Duration.Round(time.Millisecond))),
	}, "\n")
	return renderBox("Run complete", content)
}

func failedLine(failed int) string {
	line := fmt.Sprintf("Failed:    %d", failed)
	if failed == 0 {
		return mutedStyle.Render(line)
	}
	return failStyle.Render(line)
}

// RenderRules renders a user's rules in evaluation order.
func RenderRules(rules []model.Rule) string {
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		enabled := matchIcon
		if !r.Enabled {
			enabled = failIcon
		}
		types := make([]string, 0, 3)
		for _, t := range r.ConditionTypes() {
			types = append(types, string(t))
		}
		if r.HasGroup() {
			types = append(types, string(model.ConditionGroup))
		}
		actions := make([]string, 0, len(r.Actions))
		for _, a := range r.Actions {
			actions = append(actions, string(a.Type))
		}
		rows = append(rows, []string{
			fmt.Sprint(r.Position),
			enabled,
			r.Name,
			strings.Join(types, ","),
			string(r.Operator()),
			strings.Join(actions, ","),
		})
	}
	return renderTable([]string{"#", "On", "Name", "Conditions", "Op", "Actions"}, rows)
}

// RenderHistory renders stored decisions, newest first. ruleNames maps rule IDs to names.
func RenderHistory(decisions []model.ExecutedRule, ruleNames map[string]string) string {
	rows := make([][]string, 0, len(decisions))
	for _, d := range decisions {
		rule := "-"
		if d.RuleID != nil {
			rule = *d.RuleID
			if name, ok := ruleNames[rule]; ok {
				rule = name
			}
		}
		rows = append(rows, []string{
			d.CreatedAt.Local().Format("2006-01-02 15:04"),
			d.MessageID,
			rule,
			FormatStatus(d.Status),
			fmt.Sprint(len(d.ActionItems)),
		})
	}
	return renderTable([]string{"When", "Message", "Rule", "Status", "Actions"}, rows)
}

func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	render := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
	}

	lines := []string{render(headers, headerStyle)}
	for _, row := range rows {
		lines = append(lines, render(row, lipgloss.NewStyle()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
