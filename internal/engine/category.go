package engine

import "github.com/Veraticus/the-mail-must-flow/internal/model"

// matchesCategory evaluates the rule's sender-category filter. A rule without a filter is
// vacuously satisfied. The category is only returned for INCLUDE matches.
func matchesCategory(rule model.Rule, sender *model.Sender) (*model.Category, bool) {
	if !rule.HasCategoryFilter() {
		return nil, true
	}
	if sender == nil {
		return nil, false
	}

	var found *model.Category
	if sender.CategoryID != nil {
		for i := range rule.CategoryFilters {
			if rule.CategoryFilters[i].ID == *sender.CategoryID {
				found = &rule.CategoryFilters[i]
				break
			}
		}
	}

	switch rule.CategoryFilterType {
	case model.CategoryFilterInclude:
		return found, found != nil
	case model.CategoryFilterExclude:
		return nil, found == nil
	default:
		return nil, false
	}
}
