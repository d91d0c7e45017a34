package cli

import (
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/the-mail-must-flow/internal/engine"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

func TestFormatDecision(t *testing.T) {
	rule := &model.Rule{ID: "r1", Name: "Invoices", Subject: "Invoice", Enabled: true}

	tests := []struct {
		name     string
		result   engine.RunRulesResult
		contains []string
		excludes []string
	}{
		{
			name:     "no match",
			result:   engine.RunRulesResult{},
			contains: []string{"msg-1", "no rule matched"},
		},
		{
			name: "static match with items",
			result: engine.RunRulesResult{
				Rule:         rule,
				MatchReasons: []model.MatchReason{{Type: model.ConditionStatic}},
				ActionItems:  []model.ActionItem{{Type: model.ActionLabel, Label: "Finance"}},
			},
			contains: []string{"Invoices", "Matched static conditions", "LABEL label=Finance"},
			excludes: []string{"already recorded"},
		},
		{
			name: "existing decision",
			result: engine.RunRulesResult{
				Rule:     rule,
				Reason:   "stored reason",
				Existing: true,
			},
			contains: []string{"already recorded", "stored reason"},
		},
		{
			name: "model choice",
			result: engine.RunRulesResult{
				Rule:   &model.Rule{ID: "r2", Name: "Needs reply", Instructions: "questions"},
				Reason: "asks a question",
			},
			contains: []string{modelIcon, "Needs reply", "asks a question"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FormatDecision("msg-1", tt.result)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestFormatActionItem(t *testing.T) {
	assert.Equal(t, "ARCHIVE", FormatActionItem(model.ActionItem{Type: model.ActionArchive}))
	assert.Equal(t, "CALL_WEBHOOK url=https://example.com/hook",
		FormatActionItem(model.ActionItem{Type: model.ActionCallWebhook, URL: "https://example.com/hook"}))
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(service.CompletionStats{Total: 5, Matched: 3, NoMatch: 1, Failed: 1, Duration: 1500 * time.Millisecond})
	assert.Contains(t, out, "Run complete")
	assert.Contains(t, out, "Matched:   3")
	assert.Contains(t, out, "Failed:    1")
	assert.Contains(t, out, "1.5s")
}

func TestRenderRules(t *testing.T) {
	groupID := "g1"
	out := RenderRules([]model.Rule{
		{Name: "Invoices", Subject: "Invoice", Enabled: true, Actions: []model.Action{{Type: model.ActionLabel}}},
		{Name: "Vendors", GroupID: &groupID, Position: 1, Actions: []model.Action{{Type: model.ActionArchive}}},
	})
	assert.Contains(t, out, "Invoices")
	assert.Contains(t, out, "Vendors")
	assert.Contains(t, out, string(model.ConditionGroup))
	assert.Contains(t, out, "ARCHIVE")
}

func TestRenderHistory(t *testing.T) {
	ruleID := "r1"
	out := RenderHistory([]model.ExecutedRule{
		{MessageID: "m1", RuleID: &ruleID, Status: model.StatusApplied, CreatedAt: time.Now()},
		{MessageID: "m2", Status: model.StatusSkipped, CreatedAt: time.Now()},
	}, map[string]string{"r1": "Invoices"})
	assert.Contains(t, out, "Invoices")
	assert.Contains(t, out, string(model.StatusSkipped))
	assert.Contains(t, out, "m2")
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		status model.ExecutedRuleStatus
		style  lipgloss.Style
	}{
		{status: model.StatusApplied, style: matchStyle},
		{status: model.StatusPending, style: warnStyle},
		{status: model.StatusApplying, style: warnStyle},
		{status: model.StatusError, style: failStyle},
		{status: model.StatusRejected, style: failStyle},
		{status: model.StatusSkipped, style: mutedStyle},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.style.Render(string(tt.status)), FormatStatus(tt.status))
		})
	}
}

func TestFormatMessages(t *testing.T) {
	assert.Contains(t, FormatWarning("no key"), "no key")
	assert.Contains(t, FormatWarning("no key"), warnIcon)
	assert.Contains(t, FormatInfo("nothing to do"), noteIcon)
	assert.Contains(t, FormatTitle("History"), "History")
	assert.Equal(t, mutedStyle.Render("Failed:    0"), failedLine(0))
	assert.Equal(t, failStyle.Render("Failed:    2"), failedLine(2))
}
