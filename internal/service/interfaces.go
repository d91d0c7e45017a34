// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// ExecutedRuleFilter defines filtering options for decision history queries.
type ExecutedRuleFilter struct {
	Since    *time.Time
	ThreadID string
	Limit    int
	Offset   int
}

// RuleStore provides the read side the matcher needs.
type RuleStore interface {
	GetActiveRules(ctx context.Context, userID string) ([]model.Rule, error)
	GetGroupsWithRules(ctx context.Context, userID string) ([]model.Group, error)
	// GetSender returns common.ErrNotFound when the sender has never been categorized.
	GetSender(ctx context.Context, userID, email string) (*model.Sender, error)
}

// DecisionStore persists exactly one decision per (user, thread, message).
type DecisionStore interface {
	// UpsertExecutedRule creates the record for rule.Key() and reports whether it was
	// created. An existing record is returned unchanged with created=false unless
	// overwrite is set, in which case it is replaced in place and keeps its ID.
	UpsertExecutedRule(ctx context.Context, rule *model.ExecutedRule, overwrite bool) (stored *model.ExecutedRule, created bool, err error)
	GetExecutedRule(ctx context.Context, key model.DecisionKey) (*model.ExecutedRule, error)
	ListExecutedRules(ctx context.Context, userID string, filter ExecutedRuleFilter) ([]model.ExecutedRule, error)
}

// ThreadTrackerStore records which threads need or await a reply.
type ThreadTrackerStore interface {
	UpsertThreadTracker(ctx context.Context, tracker *model.ThreadTracker) error
	ResolveThreadTrackers(ctx context.Context, userID, threadID string, trackerType model.ThreadTrackerType) (int64, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	RuleStore
	DecisionStore
	ThreadTrackerStore

	// User operations
	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Rule operations
	SaveRule(ctx context.Context, rule *model.Rule) error
	GetRules(ctx context.Context, userID string) ([]model.Rule, error)
	DeleteRule(ctx context.Context, userID, ruleID string) error

	// Category and sender operations
	SaveCategory(ctx context.Context, category *model.Category) error
	GetCategories(ctx context.Context, userID string) ([]model.Category, error)
	SaveSender(ctx context.Context, sender *model.Sender) error

	// Group operations
	SaveGroup(ctx context.Context, group *model.Group) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// ReplyHistory summarizes the correspondence between the user and one sender.
type ReplyHistory struct {
	ReceivedCount int
	HasReplied    bool
}

// MailboxClient provides the mailbox lookups the engine needs.
type MailboxClient interface {
	// ReplyHistory counts messages received from sender, stopping at threshold, and
	// reports whether the user has ever written to them.
	ReplyHistory(ctx context.Context, sender string, threshold int) (ReplyHistory, error)
}

// ActionArgumentGenerator turns a matched rule's action templates into concrete items.
type ActionArgumentGenerator interface {
	Resolve(ctx context.Context, rule model.Rule, message model.Message, user model.User) ([]model.ActionItem, error)
}

// ActionExecutor applies a stored decision to the mailbox.
type ActionExecutor interface {
	Execute(ctx context.Context, executed *model.ExecutedRule, message model.Message, user model.User) error
}

// SenderPatternScheduler requests background analysis of a sender's mail.
type SenderPatternScheduler interface {
	Schedule(ctx context.Context, userID, sender string) error
}

// RuleChoice is a model's pick among AI rules. A nil Rule means no rule applied.
type RuleChoice struct {
	Rule   *model.Rule
	Reason string
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// CompletionStats shows the results of a bulk run.
type CompletionStats struct {
	Total    int
	Matched  int
	NoMatch  int
	Existing int
	Failed   int
	Duration time.Duration
}
