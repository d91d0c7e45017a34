package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

type fakeStore struct {
	senders     map[string]*model.Sender
	decisions   map[model.DecisionKey]*model.ExecutedRule
	upsertErr   error
	trackerErr  error
	groups      []model.Group
	trackers    []model.ThreadTracker
	groupCalls  int
	senderCalls int
	upserts     int
	resolved    int
	mu          sync.Mutex
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		senders:   make(map[string]*model.Sender),
		decisions: make(map[model.DecisionKey]*model.ExecutedRule),
	}
}

func (s *fakeStore) GetActiveRules(context.Context, string) ([]model.Rule, error) {
	return nil, nil
}

func (s *fakeStore) GetGroupsWithRules(context.Context, string) ([]model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupCalls++
	return s.groups, nil
}

func (s *fakeStore) GetSender(_ context.Context, _ string, email string) (*model.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderCalls++
	sender, ok := s.senders[strings.ToLower(email)]
	if !ok {
		return nil, common.ErrNotFound
	}
	return sender, nil
}

func (s *fakeStore) UpsertExecutedRule(_ context.Context, rule *model.ExecutedRule, overwrite bool) (*model.ExecutedRule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return nil, false, s.upsertErr
	}

	now := time.Now()
	if existing, ok := s.decisions[rule.Key()]; ok {
		if !overwrite {
			stored := *existing
			return &stored, false, nil
		}
		existing.Status = rule.Status
		existing.RuleID = rule.RuleID
		existing.Reason = rule.Reason
		existing.ActionItems = rule.ActionItems
		existing.Automated = rule.Automated
		existing.UpdatedAt = now
		stored := *existing
		return &stored, false, nil
	}

	stored := *rule
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.decisions[rule.Key()] = &stored
	out := stored
	return &out, true, nil
}

func (s *fakeStore) GetExecutedRule(_ context.Context, key model.DecisionKey) (*model.ExecutedRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.decisions[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *existing
	return &out, nil
}

func (s *fakeStore) ListExecutedRules(context.Context, string, service.ExecutedRuleFilter) ([]model.ExecutedRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ExecutedRule, 0, len(s.decisions))
	for _, d := range s.decisions {
		out = append(out, *d)
	}
	return out, nil
}

func (s *fakeStore) UpsertThreadTracker(_ context.Context, tracker *model.ThreadTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackerErr != nil {
		return s.trackerErr
	}
	s.trackers = append(s.trackers, *tracker)
	return nil
}

func (s *fakeStore) ResolveThreadTrackers(context.Context, string, string, model.ThreadTrackerType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved++
	return 1, nil
}

func (s *fakeStore) decisionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

type fakeMailbox struct {
	err     error
	history service.ReplyHistory
	calls   int
}

func (f *fakeMailbox) ReplyHistory(context.Context, string, int) (service.ReplyHistory, error) {
	f.calls++
	return f.history, f.err
}

type fakeGenerator struct {
	err error
}

func (g *fakeGenerator) Resolve(ctx context.Context, rule model.Rule, msg model.Message, user model.User) ([]model.ActionItem, error) {
	if g.err != nil {
		return nil, g.err
	}
	return NewTemplateArgumentGenerator().Resolve(ctx, rule, msg, user)
}

type fakeExecutor struct {
	err   error
	calls []string
	mu    sync.Mutex
}

func (e *fakeExecutor) Execute(_ context.Context, executed *model.ExecutedRule, _ model.Message, _ model.User) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, executed.ID)
	return e.err
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type fakeScheduler struct {
	err     error
	senders []string
	mu      sync.Mutex
}

func (s *fakeScheduler) Schedule(_ context.Context, _ string, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders = append(s.senders, sender)
	return s.err
}

func (s *fakeScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.senders...)
}

var errBoom = errors.New("boom")

func testUser() model.User {
	return model.User{ID: "user-1", Email: "me@example.com"}
}

func testMessage(id, from, subject, body string) model.Message {
	return model.Message{
		ID:       id,
		ThreadID: id,
		Headers: model.Headers{
			From:    from,
			To:      "me@example.com",
			Subject: subject,
		},
		TextPlain: body,
	}
}

func staticRule(id, name, subject string) model.Rule {
	return model.Rule{
		ID:      id,
		UserID:  "user-1",
		Name:    name,
		Subject: subject,
		Enabled: true,
		Actions: []model.Action{{Type: model.ActionLabel, Label: name}},
	}
}

func aiRule(id, name, instructions string) model.Rule {
	return model.Rule{
		ID:           id,
		UserID:       "user-1",
		Name:         name,
		Instructions: instructions,
		Enabled:      true,
		Actions:      []model.Action{{Type: model.ActionLabel, Label: name}},
	}
}

func strPtr(s string) *string { return &s }
