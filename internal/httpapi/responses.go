package httpapi

import (
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/engine"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

type actionItemResponse struct {
	Type    string `json:"type"`
	Label   string `json:"label,omitempty"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Bcc     string `json:"bcc,omitempty"`
	URL     string `json:"url,omitempty"`
}

type decisionResponse struct {
	ExecutedRuleID string               `json:"executed_rule_id,omitempty"`
	RuleID         string               `json:"rule_id,omitempty"`
	RuleName       string               `json:"rule_name,omitempty"`
	Status         string               `json:"status,omitempty"`
	Reason         string               `json:"reason"`
	MatchReasons   string               `json:"match_reasons,omitempty"`
	ActionItems    []actionItemResponse `json:"action_items"`
	Matched        bool                 `json:"matched"`
	Existing       bool                 `json:"existing"`
}

type executedRuleResponse struct {
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	RuleID      *string              `json:"rule_id"`
	ID          string               `json:"id"`
	ThreadID    string               `json:"thread_id"`
	MessageID   string               `json:"message_id"`
	Status      string               `json:"status"`
	Reason      string               `json:"reason"`
	ActionItems []actionItemResponse `json:"action_items"`
	Automated   bool                 `json:"automated"`
}

func newActionItems(items []model.ActionItem) []actionItemResponse {
	out := make([]actionItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, actionItemResponse{
			Type:    string(item.Type),
			Label:   item.Label,
			Subject: item.Subject,
			Content: item.Content,
			To:      item.To,
			Cc:      item.Cc,
			Bcc:     item.Bcc,
			URL:     item.URL,
		})
	}
	return out
}

func newDecisionResponse(result engine.RunRulesResult) decisionResponse {
	resp := decisionResponse{
		Reason:       result.Reason,
		MatchReasons: model.DescribeMatchReasons(result.MatchReasons),
		ActionItems:  newActionItems(result.ActionItems),
		Matched:      result.Rule != nil,
		Existing:     result.Existing,
	}
	if result.Rule != nil {
		resp.RuleID = result.Rule.ID
		resp.RuleName = result.Rule.Name
	}
	if result.ExecutedRule != nil {
		resp.ExecutedRuleID = result.ExecutedRule.ID
		resp.Status = string(result.ExecutedRule.Status)
	}
	return resp
}

func newExecutedRuleResponse(rec model.ExecutedRule) executedRuleResponse {
	return executedRuleResponse{
		ID:          rec.ID,
		ThreadID:    rec.ThreadID,
		MessageID:   rec.MessageID,
		RuleID:      rec.RuleID,
		Status:      string(rec.Status),
		Reason:      rec.Reason,
		Automated:   rec.Automated,
		ActionItems: newActionItems(rec.ActionItems),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}
