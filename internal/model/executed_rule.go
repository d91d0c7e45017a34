package model

import "time"

// ExecutedRuleStatus tracks the lifecycle of a decision record.
type ExecutedRuleStatus string

// Executed rule status constants. The rule engine writes PENDING and SKIPPED;
// the remaining states belong to action execution.
const (
	StatusApplied  ExecutedRuleStatus = "APPLIED"
	StatusApplying ExecutedRuleStatus = "APPLYING"
	StatusRejected ExecutedRuleStatus = "REJECTED"
	StatusPending  ExecutedRuleStatus = "PENDING"
	StatusSkipped  ExecutedRuleStatus = "SKIPPED"
	StatusError    ExecutedRuleStatus = "ERROR"
)

// ExecutedRule is the persisted decision for exactly one (user, thread, message).
type ExecutedRule struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RuleID      *string
	ID          string
	UserID      string
	ThreadID    string
	MessageID   string
	Reason      string
	Status      ExecutedRuleStatus
	ActionItems []ActionItem
	Automated   bool
}

// DecisionKey identifies the single decision record allowed per message.
type DecisionKey struct {
	UserID    string
	ThreadID  string
	MessageID string
}

// Key returns the record's uniqueness key.
func (e ExecutedRule) Key() DecisionKey {
	return DecisionKey{UserID: e.UserID, ThreadID: e.ThreadID, MessageID: e.MessageID}
}
