package pattern

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// Validator checks rule sets before they are stored.
type Validator struct{}

// NewValidator creates a new rule validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePattern reports whether a static pattern compiles.
func (v *Validator) ValidatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if _, err := common.CompilePattern(pattern); err != nil {
		return fmt.Errorf("%w: pattern %q does not compile: %v", common.ErrInvalidRule, pattern, err)
	}
	return nil
}

// ValidateRule checks a single rule in isolation.
func (v *Validator) ValidateRule(rule model.Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: name is required", common.ErrInvalidRule)
	}

	switch rule.ConditionalOperator {
	case "", model.LogicalOperatorAnd, model.LogicalOperatorOr:
	default:
		return fmt.Errorf("%w: rule %q has unknown operator %q", common.ErrInvalidRule, rule.Name, rule.ConditionalOperator)
	}

	switch rule.CategoryFilterType {
	case "", model.CategoryFilterInclude, model.CategoryFilterExclude:
	default:
		return fmt.Errorf("%w: rule %q has unknown category filter %q", common.ErrInvalidRule, rule.Name, rule.CategoryFilterType)
	}

	for _, p := range []string{rule.From, rule.To, rule.Subject, rule.Body} {
		if err := v.ValidatePattern(p); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}

	for _, action := range rule.Actions {
		if !slices.Contains(model.ValidActionTypes, action.Type) {
			return fmt.Errorf("%w: rule %q has unknown action type %q", common.ErrInvalidRule, rule.Name, action.Type)
		}
	}

	return nil
}

// ValidateRules checks every rule and requires names to be unique per user, ignoring case,
// since the model picks rules by name.
func (v *Validator) ValidateRules(rules []model.Rule) error {
	seen := make(map[string]struct{}, len(rules))
	var errs []error
	for _, rule := range rules {
		if err := v.ValidateRule(rule); err != nil {
			errs = append(errs, err)
			continue
		}
		key := rule.UserID + "\x00" + strings.ToLower(strings.TrimSpace(rule.Name))
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate rule name %q", common.ErrInvalidRule, rule.Name))
			continue
		}
		seen[key] = struct{}{}
	}
	return errors.Join(errs...)
}

// ValidateGroup checks that every /regex/ item compiles.
func (v *Validator) ValidateGroup(group model.Group) error {
	if strings.TrimSpace(group.Name) == "" {
		return fmt.Errorf("%w: group name is required", common.ErrInvalidRule)
	}
	for _, item := range group.Items {
		switch item.Type {
		case model.GroupItemFrom, model.GroupItemSubject, model.GroupItemBody:
		default:
			return fmt.Errorf("%w: group %q has unknown item type %q", common.ErrInvalidRule, group.Name, item.Type)
		}
		value := item.Value
		if len(value) > 2 && strings.HasPrefix(value, "/") && strings.HasSuffix(value, "/") {
			if _, err := common.CompilePattern(value[1 : len(value)-1]); err != nil {
				return fmt.Errorf("%w: group %q item %q does not compile: %v", common.ErrInvalidRule, group.Name, value, err)
			}
		}
	}
	return nil
}
