package engine

import (
	"context"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// Chooser defines the contract for picking among rules that only a model can judge.
type Chooser interface {
	// ChooseRule returns the chosen rule, or a choice with a nil Rule when nothing applies.
	// With no rules it returns a "No rules" choice without calling the model.
	ChooseRule(ctx context.Context, msg model.Message, rules []model.Rule, user model.User) (service.RuleChoice, error)
}
