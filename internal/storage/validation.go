// Package storage provides the data persistence layer for mailflow.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrInvalidStatus       = errors.New("invalid executed rule status")
	ErrInvalidExecutedRule = errors.New("invalid executed rule")
	ErrInvalidGroup        = errors.New("invalid group")
	ErrInvalidTracker      = errors.New("invalid thread tracker")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// ValidateUser checks the fields every stored user needs.
func ValidateUser(user *model.User) error {
	if user == nil {
		return fmt.Errorf("%w: user", ErrNilParameter)
	}
	if err := validateString(user.ID, "user.ID"); err != nil {
		return err
	}
	return validateString(user.Email, "user.Email")
}

// ValidateRule checks the structural fields of a rule. Pattern syntax is checked by
// the pattern validator before import.
func ValidateRule(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.UserID) == "" {
		return fmt.Errorf("%w: missing user ID", common.ErrInvalidRule)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: missing name", common.ErrInvalidRule)
	}
	switch rule.ConditionalOperator {
	case "", model.LogicalOperatorAnd, model.LogicalOperatorOr:
	default:
		return fmt.Errorf("%w: unknown operator %q", common.ErrInvalidRule, rule.ConditionalOperator)
	}
	switch rule.CategoryFilterType {
	case "", model.CategoryFilterInclude, model.CategoryFilterExclude:
	default:
		return fmt.Errorf("%w: unknown category filter type %q", common.ErrInvalidRule, rule.CategoryFilterType)
	}
	for i, c := range rule.CategoryFilters {
		if c.ID == "" {
			return fmt.Errorf("%w: category filter %d has no ID", common.ErrInvalidRule, i)
		}
	}
	for i, a := range rule.Actions {
		if !isValidActionType(a.Type) {
			return fmt.Errorf("%w: action %d has unknown type %q", common.ErrInvalidRule, i, a.Type)
		}
	}
	return nil
}

func isValidActionType(t model.ActionType) bool {
	for _, valid := range model.ValidActionTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// ValidateExecutedRule checks a decision before it is stored.
func ValidateExecutedRule(rule *model.ExecutedRule) error {
	if rule == nil {
		return fmt.Errorf("%w: executed rule", ErrNilParameter)
	}
	if rule.UserID == "" || rule.ThreadID == "" || rule.MessageID == "" {
		return fmt.Errorf("%w: user, thread and message IDs are required", ErrInvalidExecutedRule)
	}
	switch rule.Status {
	case model.StatusApplied, model.StatusApplying, model.StatusRejected,
		model.StatusPending, model.StatusSkipped, model.StatusError:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, rule.Status)
	}
	return nil
}

// ValidateGroup checks a group and its items.
func ValidateGroup(group *model.Group) error {
	if group == nil {
		return fmt.Errorf("%w: group", ErrNilParameter)
	}
	if group.UserID == "" || strings.TrimSpace(group.Name) == "" {
		return fmt.Errorf("%w: user ID and name are required", ErrInvalidGroup)
	}
	for i, item := range group.Items {
		switch item.Type {
		case model.GroupItemFrom, model.GroupItemSubject, model.GroupItemBody:
		default:
			return fmt.Errorf("%w: item %d has unknown type %q", ErrInvalidGroup, i, item.Type)
		}
		if strings.TrimSpace(item.Value) == "" {
			return fmt.Errorf("%w: item %d has no value", ErrInvalidGroup, i)
		}
	}
	return nil
}

// ValidateThreadTracker checks a tracker before it is stored.
func ValidateThreadTracker(tracker *model.ThreadTracker) error {
	if tracker == nil {
		return fmt.Errorf("%w: thread tracker", ErrNilParameter)
	}
	if tracker.UserID == "" || tracker.ThreadID == "" || tracker.MessageID == "" {
		return fmt.Errorf("%w: user, thread and message IDs are required", ErrInvalidTracker)
	}
	switch tracker.Type {
	case model.TrackerAwaiting, model.TrackerNeedsReply, model.TrackerNeedsAction:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTracker, tracker.Type)
	}
	return nil
}
