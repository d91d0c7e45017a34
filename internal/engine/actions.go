package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// TemplateArgumentGenerator copies a rule's action templates into action items as-is.
// Placeholders are left in place for a downstream generator to fill.
type TemplateArgumentGenerator struct {
	logger *slog.Logger
}

// NewTemplateArgumentGenerator creates a generator that does not call a model.
func NewTemplateArgumentGenerator() *TemplateArgumentGenerator {
	return &TemplateArgumentGenerator{logger: slog.Default().With("component", "action-args")}
}

// Resolve returns one item per action, in rule order.
func (g *TemplateArgumentGenerator) Resolve(_ context.Context, rule model.Rule, msg model.Message, _ model.User) ([]model.ActionItem, error) {
	items := make([]model.ActionItem, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		if action.HasDynamicFields() {
			g.logger.Debug("Action has unresolved placeholders",
				"rule_id", rule.ID,
				"message_id", msg.ID,
				"action_type", action.Type)
		}
		items = append(items, model.ActionItem{
			Type:    action.Type,
			Label:   action.Label,
			Subject: action.Subject,
			Content: action.Content,
			To:      action.To,
			Cc:      action.Cc,
			Bcc:     action.Bcc,
			URL:     action.URL,
		})
	}
	return items, nil
}

// LoggingExecutor records what would be done to the mailbox without touching it.
type LoggingExecutor struct {
	logger *slog.Logger
}

// NewLoggingExecutor creates an executor that only logs.
func NewLoggingExecutor() *LoggingExecutor {
	return &LoggingExecutor{logger: slog.Default().With("component", "executor")}
}

// Execute logs each action item of the decision.
func (e *LoggingExecutor) Execute(_ context.Context, executed *model.ExecutedRule, msg model.Message, user model.User) error {
	for _, item := range executed.ActionItems {
		e.logger.Info("Executing action",
			"user_id", user.ID,
			"message_id", msg.ID,
			"executed_rule_id", executed.ID,
			"action_type", item.Type,
			"label", item.Label)
	}
	return nil
}

func sanitizeActionItems(items []model.ActionItem) []model.ActionItem {
	out := make([]model.ActionItem, 0, len(items))
	for _, item := range items {
		clean := item.Sanitize()
		if clean.ID == "" {
			clean.ID = uuid.NewString()
		}
		out = append(out, clean)
	}
	return out
}
