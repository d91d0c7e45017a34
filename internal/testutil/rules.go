package testutil

import "github.com/Veraticus/the-mail-must-flow/internal/model"

// RuleBuilder builds enabled rules for DefaultUserID unless told otherwise.
type RuleBuilder struct {
	rule model.Rule
}

// NewRule starts an enabled rule with the given name.
func NewRule(name string) *RuleBuilder {
	return &RuleBuilder{rule: model.Rule{UserID: DefaultUserID, Name: name, Enabled: true}}
}

// ForUser sets the owner.
func (b *RuleBuilder) ForUser(userID string) *RuleBuilder {
	b.rule.UserID = userID
	return b
}

// At sets the evaluation position.
func (b *RuleBuilder) At(position int) *RuleBuilder {
	b.rule.Position = position
	return b
}

// WithFrom sets the from pattern.
func (b *RuleBuilder) WithFrom(pattern string) *RuleBuilder {
	b.rule.From = pattern
	return b
}

// WithSubject sets the subject pattern.
func (b *RuleBuilder) WithSubject(pattern string) *RuleBuilder {
	b.rule.Subject = pattern
	return b
}

// WithInstructions makes the rule an AI rule.
func (b *RuleBuilder) WithInstructions(instructions string) *RuleBuilder {
	b.rule.Instructions = instructions
	return b
}

// WithLabel adds a LABEL action.
func (b *RuleBuilder) WithLabel(label string) *RuleBuilder {
	return b.WithAction(model.Action{Type: model.ActionLabel, Label: label})
}

// WithAction adds an action template.
func (b *RuleBuilder) WithAction(action model.Action) *RuleBuilder {
	b.rule.Actions = append(b.rule.Actions, action)
	return b
}

// Or combines conditions with OR.
func (b *RuleBuilder) Or() *RuleBuilder {
	b.rule.ConditionalOperator = model.LogicalOperatorOr
	return b
}

// Automated runs the rule's actions without review.
func (b *RuleBuilder) Automated() *RuleBuilder {
	b.rule.Automate = true
	return b
}

// OnThreads lets the rule match replies within a thread.
func (b *RuleBuilder) OnThreads() *RuleBuilder {
	b.rule.RunOnThreads = true
	return b
}

// Disabled turns the rule off.
func (b *RuleBuilder) Disabled() *RuleBuilder {
	b.rule.Enabled = false
	return b
}

// Build returns a copy of the rule.
func (b *RuleBuilder) Build() model.Rule {
	rule := b.rule
	rule.Actions = append([]model.Action(nil), b.rule.Actions...)
	return rule
}
