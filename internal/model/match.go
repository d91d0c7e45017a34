package model

import (
	"fmt"
	"strings"
)

// MatchReason explains why a rule was judged to match. Type selects which payload is set.
type MatchReason struct {
	GroupItem  *GroupItem
	Group      *Group
	Category   *Category
	Type       ConditionType
	SystemType SystemType
}

// Describe renders a human-readable explanation of the reason.
func (r MatchReason) Describe() string {
	switch r.Type {
	case ConditionStatic:
		return "Matched static conditions"
	case ConditionGroup:
		if r.GroupItem == nil {
			return "Matched group item"
		}
		return fmt.Sprintf("Matched group item: %q", string(r.GroupItem.Type)+": "+r.GroupItem.Value)
	case ConditionCategory:
		if r.Category == nil {
			return "Matched category"
		}
		return fmt.Sprintf("Matched category: %q", r.Category.Name)
	case ConditionPreset:
		return "Matched a system preset"
	default:
		return ""
	}
}

// DescribeMatchReasons joins the descriptions of every reason, in order.
func DescribeMatchReasons(reasons []MatchReason) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if d := r.Describe(); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, ", ")
}

// HasDeterministicReason reports whether any reason came from a static, group or category condition.
func HasDeterministicReason(reasons []MatchReason) bool {
	for _, r := range reasons {
		switch r.Type {
		case ConditionStatic, ConditionGroup, ConditionCategory:
			return true
		}
	}
	return false
}
