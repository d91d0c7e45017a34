package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/metrics"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/pattern"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// MatchResult is the outcome of matching one message against a rule list.
// Rule is nil when nothing matched.
type MatchResult struct {
	Rule         *model.Rule
	Reason       string
	MatchReasons []model.MatchReason
}

// Matcher finds the rule that applies to a message.
type Matcher struct {
	store   service.RuleStore
	mailbox service.MailboxClient
	chooser Chooser
	logger  *slog.Logger
}

// NewMatcher creates a matcher. The mailbox may be nil, in which case the TO_REPLY
// preset filter is skipped.
func NewMatcher(store service.RuleStore, mailbox service.MailboxClient, chooser Chooser) *Matcher {
	return &Matcher{
		store:   store,
		mailbox: mailbox,
		chooser: chooser,
		logger:  slog.Default().With("component", "matcher"),
	}
}

type ruleOutcome int

const (
	ruleRejected ruleOutcome = iota
	ruleMatched
	ruleCandidate
)

// FindMatchingRule evaluates rules in list order. Deterministic matches return immediately;
// rules whose outcome depends on free-text instructions are collected and handed to the
// chooser once the list is exhausted.
func (m *Matcher) FindMatchingRule(ctx context.Context, rules []model.Rule, msg model.Message, user model.User) (MatchResult, error) {
	isThread := msg.IsReplyInThread()

	if msg.HasCalendarInvite() {
		if rule := findCalendarRule(rules); rule != nil {
			m.logger.Info("Found matching calendar rule",
				"rule_id", rule.ID,
				"message_id", msg.ID)
			metrics.RecordMatch("preset")
			return newMatchResult(rule, []model.MatchReason{
				{Type: model.ConditionPreset, SystemType: model.SystemTypeCalendar},
			}), nil
		}
	}

	scope := newMatchScope(m.store, user, msg)

	var candidates []model.Rule
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if isThread && !rule.RunOnThreads {
			continue
		}

		outcome, reasons, err := m.evaluateRule(ctx, scope, rule, msg)
		if err != nil {
			return MatchResult{}, err
		}

		switch outcome {
		case ruleMatched:
			metrics.RecordMatch(strings.ToLower(string(reasons[len(reasons)-1].Type)))
			return newMatchResult(rule, reasons), nil
		case ruleCandidate:
			candidates = append(candidates, *rule)
		}
	}

	candidates = m.filterToReplyPreset(ctx, candidates, msg)
	if len(candidates) == 0 {
		metrics.RecordMatch("none")
		return MatchResult{}, nil
	}

	if m.chooser == nil {
		return MatchResult{}, fmt.Errorf("%w: no rule chooser for %d AI rules", common.ErrMissingConfig, len(candidates))
	}

	choice, err := m.chooser.ChooseRule(ctx, msg, candidates, user)
	if err != nil {
		return MatchResult{}, fmt.Errorf("failed to choose rule: %w", err)
	}

	if choice.Rule == nil {
		metrics.RecordMatch("none")
	} else {
		metrics.RecordMatch("ai")
	}
	return MatchResult{Rule: choice.Rule, Reason: choice.Reason}, nil
}

// evaluateRule applies the rule's logical operator across its condition types.
// A group match is definitive regardless of the operator.
func (m *Matcher) evaluateRule(ctx context.Context, scope *matchScope, rule *model.Rule, msg model.Message) (ruleOutcome, []model.MatchReason, error) {
	var reasons []model.MatchReason

	if rule.HasGroup() {
		groups, err := scope.getGroups(ctx)
		if err != nil {
			return ruleRejected, nil, err
		}
		if group := pattern.FindGroupForRule(*rule, groups); group != nil {
			if item := pattern.FindMatchingGroupItem(*group, msg); item != nil {
				reasons = append(reasons, model.MatchReason{
					Type:      model.ConditionGroup,
					GroupItem: item,
					Group:     group,
				})
				return ruleMatched, reasons, nil
			}
		}
	}

	conditions := rule.ConditionTypes()
	unmatched := make(map[model.ConditionType]struct{}, len(conditions))
	for _, c := range conditions {
		unmatched[c] = struct{}{}
	}
	operator := rule.Operator()

	// settled reports whether the rule is decided after one condition matched.
	settled := func(c model.ConditionType) bool {
		delete(unmatched, c)
		return operator == model.LogicalOperatorOr || len(unmatched) == 0
	}

	if _, ok := unmatched[model.ConditionStatic]; ok {
		if pattern.MatchesStatic(*rule, msg) {
			reasons = append(reasons, model.MatchReason{Type: model.ConditionStatic})
			if settled(model.ConditionStatic) {
				return ruleMatched, reasons, nil
			}
		} else if operator == model.LogicalOperatorAnd {
			return ruleRejected, nil, nil
		}
	}

	if _, ok := unmatched[model.ConditionCategory]; ok {
		sender, err := scope.getSender(ctx)
		if err != nil {
			return ruleRejected, nil, err
		}
		if category, ok := matchesCategory(*rule, sender); ok {
			if category != nil {
				reasons = append(reasons, model.MatchReason{Type: model.ConditionCategory, Category: category})
			}
			if settled(model.ConditionCategory) {
				if len(reasons) == 0 {
					reasons = append(reasons, model.MatchReason{Type: model.ConditionCategory})
				}
				return ruleMatched, reasons, nil
			}
		} else if operator == model.LogicalOperatorAnd {
			return ruleRejected, nil, nil
		}
	}

	if _, ok := unmatched[model.ConditionAI]; ok {
		return ruleCandidate, nil, nil
	}

	return ruleRejected, nil, nil
}

func newMatchResult(rule *model.Rule, reasons []model.MatchReason) MatchResult {
	return MatchResult{
		Rule:         rule,
		MatchReasons: reasons,
		Reason:       model.DescribeMatchReasons(reasons),
	}
}

// matchScope memoizes the per-user lookups of a single FindMatchingRule call.
type matchScope struct {
	store        service.RuleStore
	sender       *model.Sender
	userID       string
	senderEmail  string
	groups       []model.Group
	groupsLoaded bool
	senderLoaded bool
}

func newMatchScope(store service.RuleStore, user model.User, msg model.Message) *matchScope {
	return &matchScope{
		store:       store,
		userID:      user.ID,
		senderEmail: msg.SenderEmail(),
	}
}

func (s *matchScope) getGroups(ctx context.Context) ([]model.Group, error) {
	if s.groupsLoaded {
		return s.groups, nil
	}
	if s.store == nil {
		s.groupsLoaded = true
		return nil, nil
	}

	groups, err := s.store.GetGroupsWithRules(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	s.groups = groups
	s.groupsLoaded = true
	return groups, nil
}

func (s *matchScope) getSender(ctx context.Context) (*model.Sender, error) {
	if s.senderLoaded {
		return s.sender, nil
	}
	s.senderLoaded = true
	if s.store == nil || s.senderEmail == "" {
		return nil, nil
	}

	sender, err := s.store.GetSender(ctx, s.userID, s.senderEmail)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.senderLoaded = false
		return nil, fmt.Errorf("failed to load sender: %w", err)
	}
	s.sender = sender
	return sender, nil
}
