// Package pattern evaluates the deterministic, pattern-based rule conditions.
package pattern

import (
	"log/slog"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// MatchesStatic reports whether the message satisfies every static pattern set on the rule.
// A rule with no static patterns never matches.
func MatchesStatic(rule model.Rule, msg model.Message) bool {
	if !rule.HasStaticConditions() {
		return false
	}

	return matchField(rule.From, msg.Headers.From) &&
		matchField(rule.To, msg.Headers.To) &&
		matchField(rule.Subject, msg.Headers.Subject) &&
		matchField(rule.Body, msg.TextPlain)
}

// matchField treats an unset pattern as satisfied and an invalid one as a miss.
func matchField(pattern, text string) bool {
	if pattern == "" {
		return true
	}

	matched, err := common.MatchRegex(pattern, text)
	if err != nil {
		slog.Error("Invalid regex pattern", "pattern", pattern, "error", err)
		return false
	}
	return matched
}
