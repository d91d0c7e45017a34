// Package engine implements the rule matching and execution engine for mailbox messages.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/metrics"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// RunRequest describes one message to evaluate.
type RunRequest struct {
	User    model.User
	Message model.Message
	Rules   []model.Rule
	// IsTest evaluates without persisting or executing anything.
	IsTest bool
	// Rerun re-evaluates a message that already has a decision and overwrites it.
	Rerun bool
}

// RunRulesResult is the decision for one message.
type RunRulesResult struct {
	Rule         *model.Rule
	ExecutedRule *model.ExecutedRule
	Reason       string
	ActionItems  []model.ActionItem
	MatchReasons []model.MatchReason
	// Existing is true when a decision for the message was already stored.
	Existing bool
}

// Runner turns matches into persisted decisions and triggers action execution.
type Runner struct {
	matcher   *Matcher
	decisions service.DecisionStore
	generator service.ActionArgumentGenerator
	executor  service.ActionExecutor
	scheduler service.SenderPatternScheduler
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewRunner creates a runner. The executor and scheduler may be nil.
func NewRunner(
	matcher *Matcher,
	decisions service.DecisionStore,
	generator service.ActionArgumentGenerator,
	executor service.ActionExecutor,
	scheduler service.SenderPatternScheduler,
) *Runner {
	return &Runner{
		matcher:   matcher,
		decisions: decisions,
		generator: generator,
		executor:  executor,
		scheduler: scheduler,
		logger:    slog.Default().With("component", "runner"),
	}
}

// RunRules matches the message and records the decision exactly once per
// (user, thread, message).
func (r *Runner) RunRules(ctx context.Context, req RunRequest) (RunRulesResult, error) {
	msg := req.Message
	if msg.ID == "" {
		return RunRulesResult{}, fmt.Errorf("%w: message id is required", common.ErrInvalidMsg)
	}
	if msg.ThreadID == "" {
		msg.ThreadID = msg.ID
	}
	logger := r.logger.With("user_id", req.User.ID, "message_id", msg.ID, "thread_id", msg.ThreadID)

	if !req.IsTest && !req.Rerun {
		existing, err := r.decisions.GetExecutedRule(ctx, decisionKey(req.User, msg))
		switch {
		case err == nil:
			logger.Debug("Decision already recorded", "executed_rule_id", existing.ID)
			return existingResult(existing, req.Rules), nil
		case !errors.Is(err, common.ErrNotFound):
			return RunRulesResult{}, fmt.Errorf("failed to check existing decision: %w", err)
		}
	}

	match, err := r.matcher.FindMatchingRule(ctx, req.Rules, msg, req.User)
	if err != nil {
		return RunRulesResult{}, fmt.Errorf("failed to match rules: %w", err)
	}

	if match.Rule == nil {
		return r.saveSkipped(ctx, req, msg, match)
	}

	logger.Debug("Matched rule", "rule_id", match.Rule.ID, "reason", match.Reason)
	return r.executeMatchedRule(ctx, req, msg, match, logger)
}

// Wait blocks until background sender analysis requests have been handed off.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) executeMatchedRule(ctx context.Context, req RunRequest, msg model.Message, match MatchResult, logger *slog.Logger) (RunRulesResult, error) {
	rule := match.Rule

	items, err := r.generator.Resolve(ctx, *rule, msg, req.User)
	if err != nil {
		return RunRulesResult{}, fmt.Errorf("failed to resolve action items for rule %q: %w", rule.Name, err)
	}
	items = sanitizeActionItems(items)

	result := RunRulesResult{
		Rule:         rule,
		ActionItems:  items,
		Reason:       match.Reason,
		MatchReasons: match.MatchReasons,
	}
	if req.IsTest {
		return result, nil
	}

	ruleID := rule.ID
	record := &model.ExecutedRule{
		ID:          uuid.NewString(),
		UserID:      req.User.ID,
		ThreadID:    msg.ThreadID,
		MessageID:   msg.ID,
		RuleID:      &ruleID,
		Reason:      match.Reason,
		Status:      model.StatusPending,
		ActionItems: items,
		Automated:   rule.Automate,
	}

	stored, created, err := r.decisions.UpsertExecutedRule(context.WithoutCancel(ctx), record, req.Rerun)
	if err != nil {
		return RunRulesResult{}, fmt.Errorf("failed to save executed rule: %w", err)
	}
	metrics.RecordDecision(string(model.StatusPending), created)
	result.ExecutedRule = stored
	result.Existing = !created
	if !created && !req.Rerun {
		logger.Debug("Concurrent delivery already recorded a decision", "executed_rule_id", stored.ID)
		result.ActionItems = stored.ActionItems
		result.Reason = stored.Reason
	}

	fresh := created || req.Rerun
	if fresh && !model.HasDeterministicReason(match.MatchReasons) {
		r.scheduleSenderAnalysis(ctx, req.User.ID, msg)
	}

	if fresh && rule.Automate && r.executor != nil {
		if err := r.executor.Execute(ctx, stored, msg, req.User); err != nil {
			logger.Error("Failed to execute actions",
				"executed_rule_id", stored.ID,
				"error", err)
			return result, fmt.Errorf("failed to execute actions for rule %q: %w", rule.Name, err)
		}
	}

	return result, nil
}

func (r *Runner) saveSkipped(ctx context.Context, req RunRequest, msg model.Message, match MatchResult) (RunRulesResult, error) {
	result := RunRulesResult{Reason: match.Reason}
	if req.IsTest {
		return result, nil
	}

	record := &model.ExecutedRule{
		ID:        uuid.NewString(),
		UserID:    req.User.ID,
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		Reason:    match.Reason,
		Status:    model.StatusSkipped,
		Automated: true,
	}

	stored, created, err := r.decisions.UpsertExecutedRule(context.WithoutCancel(ctx), record, req.Rerun)
	if err != nil {
		return RunRulesResult{}, fmt.Errorf("failed to save skipped rule: %w", err)
	}
	metrics.RecordDecision(string(model.StatusSkipped), created)

	result.ExecutedRule = stored
	result.Existing = !created
	return result, nil
}

// scheduleSenderAnalysis hands the sender to the learning job without blocking the caller.
func (r *Runner) scheduleSenderAnalysis(ctx context.Context, userID string, msg model.Message) {
	if r.scheduler == nil {
		return
	}
	sender := msg.SenderEmail()
	if sender == "" {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.scheduler.Schedule(context.WithoutCancel(ctx), userID, sender); err != nil {
			r.logger.Error("Failed to schedule sender pattern analysis",
				"user_id", userID,
				"sender", sender,
				"error", err)
		}
	}()
}

func decisionKey(user model.User, msg model.Message) model.DecisionKey {
	return model.DecisionKey{UserID: user.ID, ThreadID: msg.ThreadID, MessageID: msg.ID}
}

func existingResult(existing *model.ExecutedRule, rules []model.Rule) RunRulesResult {
	result := RunRulesResult{
		ExecutedRule: existing,
		Reason:       existing.Reason,
		ActionItems:  existing.ActionItems,
		Existing:     true,
	}
	if existing.RuleID != nil {
		for i := range rules {
			if rules[i].ID == *existing.RuleID {
				result.Rule = &rules[i]
				break
			}
		}
	}
	return result
}
