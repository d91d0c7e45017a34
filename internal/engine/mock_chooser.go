package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// MockChooser is a test implementation of the Chooser interface.
// It picks the rule named RuleName, or reports no match when RuleName is empty.
type MockChooser struct {
	Err      error
	RuleName string
	Reason   string
	calls    []MockChooserCall
	mu       sync.Mutex
}

// MockChooserCall records the candidates offered to the chooser.
type MockChooserCall struct {
	Message model.Message
	Rules   []model.Rule
}

// NewMockChooser creates a chooser that picks the named rule.
func NewMockChooser(ruleName, reason string) *MockChooser {
	return &MockChooser{RuleName: ruleName, Reason: reason}
}

// ChooseRule records the call and returns the scripted choice.
func (m *MockChooser) ChooseRule(_ context.Context, msg model.Message, rules []model.Rule, _ model.User) (service.RuleChoice, error) {
	if len(rules) == 0 {
		return service.RuleChoice{Reason: "No rules"}, nil
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockChooserCall{Message: msg, Rules: append([]model.Rule(nil), rules...)})
	m.mu.Unlock()

	if m.Err != nil {
		return service.RuleChoice{}, m.Err
	}
	if m.RuleName == "" {
		return service.RuleChoice{Reason: "No match found"}, nil
	}
	for i := range rules {
		if strings.EqualFold(rules[i].Name, m.RuleName) {
			return service.RuleChoice{Rule: &rules[i], Reason: m.Reason}, nil
		}
	}
	return service.RuleChoice{Reason: m.Reason}, nil
}

// GetCalls returns all recorded calls.
func (m *MockChooser) GetCalls() []MockChooserCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockChooserCall(nil), m.calls...)
}

// CallCount returns the number of calls that reached the model.
func (m *MockChooser) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
