// Package inbound turns raw messages into rule decisions for a stored user.
// The CLI, the HTTP webhook and the queue consumer all go through Processor.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/engine"
	"github.com/Veraticus/the-mail-must-flow/internal/mail"
	"github.com/Veraticus/the-mail-must-flow/internal/metrics"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/queue"
)

// UserRuleStore loads the user and the rules to evaluate.
type UserRuleStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetActiveRules(ctx context.Context, userID string) ([]model.Rule, error)
}

// Options controls a single Process call.
type Options struct {
	// Source labels metrics, e.g. "cli", "http" or "queue".
	Source string
	IsTest bool
	Rerun  bool
}

// Processor parses raw messages and runs the user's rules over them.
type Processor struct {
	store   UserRuleStore
	runner  *engine.Runner
	replies *engine.ReplyTracker
	logger  *slog.Logger
}

// NewProcessor creates a processor. replies may be nil to disable reply tracking.
func NewProcessor(store UserRuleStore, runner *engine.Runner, replies *engine.ReplyTracker) *Processor {
	return &Processor{
		store:   store,
		runner:  runner,
		replies: replies,
		logger:  slog.Default().With("component", "inbound"),
	}
}

// Process evaluates one raw RFC 5322 message for userID.
func (p *Processor) Process(ctx context.Context, userID string, raw []byte, opts Options) (engine.RunRulesResult, error) {
	source := opts.Source
	if source == "" {
		source = "direct"
	}

	result, err := p.process(ctx, userID, raw, opts)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case result.Existing:
		status = "existing"
	case result.Rule == nil:
		status = "no_match"
	}
	metrics.RecordMessageProcessed(source, status)
	return result, err
}

func (p *Processor) process(ctx context.Context, userID string, raw []byte, opts Options) (engine.RunRulesResult, error) {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return engine.RunRulesResult{}, fmt.Errorf("%w: %s", common.ErrUnknownUser, userID)
		}
		return engine.RunRulesResult{}, fmt.Errorf("failed to load user: %w", err)
	}

	msg, err := mail.Parse(raw)
	if err != nil {
		return engine.RunRulesResult{}, err
	}

	rules, err := p.store.GetActiveRules(ctx, user.ID)
	if err != nil {
		return engine.RunRulesResult{}, fmt.Errorf("failed to load rules: %w", err)
	}

	logger := p.logger.With("user_id", user.ID, "message_id", msg.ID)

	result, err := p.runner.RunRules(ctx, engine.RunRequest{
		User:    *user,
		Message: msg,
		Rules:   rules,
		IsTest:  opts.IsTest,
		Rerun:   opts.Rerun,
	})
	if err != nil {
		return result, err
	}

	// A redelivered message already went through reply tracking with its first decision.
	if p.replies != nil && !opts.IsTest && msg.IsReplyInThread() && (!result.Existing || opts.Rerun) {
		marked, err := p.replies.HandleInboundReply(ctx, *user, msg, rules)
		if err != nil {
			logger.Error("Reply tracking failed", "error", err)
		} else if marked {
			logger.Debug("Thread marked as needing reply", "thread_id", msg.ThreadID)
		}
	}

	if result.Rule != nil {
		logger.Info("Rule matched", "rule", result.Rule.Name, "reason", result.Reason, "existing", result.Existing)
	} else {
		logger.Info("No rule matched", "reason", result.Reason)
	}
	return result, nil
}

// HandleQueueMessage is a queue.MessageHandler for queue.RoutingMessageReceived.
// Malformed payloads, unparseable messages and unknown users are not retried.
func (p *Processor) HandleQueueMessage(ctx context.Context, body []byte) error {
	var payload queue.MessageReceived
	if err := json.Unmarshal(body, &payload); err != nil {
		return common.Permanent(fmt.Errorf("%w: bad payload: %w", common.ErrInvalidMsg, err))
	}
	if payload.UserID == "" || len(payload.RawMessage) == 0 {
		return common.Permanent(fmt.Errorf("%w: payload needs user_id and raw_message", common.ErrInvalidMsg))
	}

	_, err := p.Process(ctx, payload.UserID, payload.RawMessage, Options{Source: "queue", IsTest: payload.IsTest})
	if err != nil && (errors.Is(err, common.ErrInvalidMsg) || errors.Is(err, common.ErrUnknownUser)) {
		return common.Permanent(err)
	}
	return err
}
