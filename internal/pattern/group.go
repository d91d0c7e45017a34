package pattern

import (
	"regexp"
	"strings"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

var (
	subjectIDPattern  = regexp.MustCompile(`#\d+|\([^)]*\d[^)]*\)|\b\w*\d\w*\b`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// FindGroupForRule returns the group bound to the rule, or nil.
func FindGroupForRule(rule model.Rule, groups []model.Group) *model.Group {
	if !rule.HasGroup() {
		return nil
	}
	for i := range groups {
		g := &groups[i]
		if g.ID == *rule.GroupID || (g.RuleID != nil && *g.RuleID == rule.ID) {
			return g
		}
	}
	return nil
}

// FindMatchingGroupItem returns the first item of the group that matches the message, or nil.
func FindMatchingGroupItem(group model.Group, msg model.Message) *model.GroupItem {
	for i := range group.Items {
		item := &group.Items[i]
		if item.Value == "" {
			continue
		}

		var matched bool
		switch item.Type {
		case model.GroupItemFrom:
			matched = matchesFromItem(item.Value, msg.Headers.From)
		case model.GroupItemSubject:
			matched = matchesSubjectItem(item.Value, msg.Headers.Subject)
		case model.GroupItemBody:
			matched = matchesItemValue(item.Value, msg.TextPlain)
		}
		if matched {
			return item
		}
	}
	return nil
}

func matchesFromItem(value, from string) bool {
	if matchesItemValue(value, from) {
		return true
	}
	addr := model.ExtractEmailAddress(from)
	if addr == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(value), addr) || matchesItemValue(value, addr)
}

func matchesSubjectItem(value, subject string) bool {
	if matchesItemValue(value, subject) {
		return true
	}
	generalized := GeneralizeSubject(value)
	if generalized == "" {
		return false
	}
	return strings.Contains(strings.ToLower(GeneralizeSubject(subject)), strings.ToLower(generalized))
}

// matchesItemValue compares case-insensitively, treating /.../ values as regular expressions.
func matchesItemValue(value, text string) bool {
	if len(value) > 2 && strings.HasPrefix(value, "/") && strings.HasSuffix(value, "/") {
		re, err := regexp.Compile("(?i)" + value[1:len(value)-1])
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(value))
}

// GeneralizeSubject strips order numbers and other id-like tokens so that
// "Order #123" and "Order #456" compare equal.
func GeneralizeSubject(subject string) string {
	s := subjectIDPattern.ReplaceAllString(subject, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
