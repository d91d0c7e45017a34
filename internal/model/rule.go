// Package model defines the core data structures for mailbox rule evaluation.
package model

import (
	"strings"
	"time"
)

// LogicalOperator combines the condition types present on a rule.
type LogicalOperator string

// Logical operator constants.
const (
	LogicalOperatorAnd LogicalOperator = "AND"
	LogicalOperatorOr  LogicalOperator = "OR"
)

// SystemType tags a rule as a built-in preset.
type SystemType string

// System type constants.
const (
	SystemTypeCalendar   SystemType = "CALENDAR"
	SystemTypeToReply    SystemType = "TO_REPLY"
	SystemTypeNewsletter SystemType = "NEWSLETTER"
	SystemTypeMarketing  SystemType = "MARKETING"
	SystemTypeReceipt    SystemType = "RECEIPT"
	SystemTypeColdEmail  SystemType = "COLD_EMAIL"
)

// CategoryFilterType decides how a rule's category list is applied to the sender's category.
type CategoryFilterType string

// Category filter constants.
const (
	CategoryFilterInclude CategoryFilterType = "INCLUDE"
	CategoryFilterExclude CategoryFilterType = "EXCLUDE"
)

// ConditionType names one kind of criterion a rule may carry.
type ConditionType string

// Condition type constants. PRESET is only ever a match reason, never a rule condition.
const (
	ConditionStatic   ConditionType = "STATIC"
	ConditionGroup    ConditionType = "GROUP"
	ConditionCategory ConditionType = "CATEGORY"
	ConditionAI       ConditionType = "AI"
	ConditionPreset   ConditionType = "PRESET"
)

// Rule is a user-defined condition set with the actions to take when it matches.
type Rule struct {
	CreatedAt           time.Time
	UpdatedAt           time.Time
	GroupID             *string
	ID                  string
	UserID              string
	Name                string
	From                string
	To                  string
	Subject             string
	Body                string
	Instructions        string
	ConditionalOperator LogicalOperator
	CategoryFilterType  CategoryFilterType
	SystemType          SystemType
	CategoryFilters     []Category
	Actions             []Action
	Position            int
	RunOnThreads        bool
	Automate            bool
	Enabled             bool
}

// HasStaticConditions reports whether any of the from/to/subject/body patterns are set.
func (r Rule) HasStaticConditions() bool {
	return r.From != "" || r.To != "" || r.Subject != "" || r.Body != ""
}

// HasCategoryFilter reports whether the rule filters on the sender's category.
func (r Rule) HasCategoryFilter() bool {
	return r.CategoryFilterType != "" && len(r.CategoryFilters) > 0
}

// IsAIRule reports whether the rule carries free-text instructions that only a model can judge.
func (r Rule) IsAIRule() bool {
	return strings.TrimSpace(r.Instructions) != ""
}

// HasGroup reports whether the rule is bound to a group.
func (r Rule) HasGroup() bool {
	return r.GroupID != nil && *r.GroupID != ""
}

// ConditionTypes returns the condition types evaluated under the rule's logical operator,
// in evaluation order. Groups are matched separately and never appear here.
func (r Rule) ConditionTypes() []ConditionType {
	var types []ConditionType
	if r.HasStaticConditions() {
		types = append(types, ConditionStatic)
	}
	if r.HasCategoryFilter() {
		types = append(types, ConditionCategory)
	}
	if r.IsAIRule() {
		types = append(types, ConditionAI)
	}
	return types
}

// Operator returns the rule's logical operator, treating an unset value as AND.
func (r Rule) Operator() LogicalOperator {
	if r.ConditionalOperator == LogicalOperatorOr {
		return LogicalOperatorOr
	}
	return LogicalOperatorAnd
}

// HasActionType reports whether any of the rule's actions has the given type.
func (r Rule) HasActionType(t ActionType) bool {
	for _, a := range r.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}
