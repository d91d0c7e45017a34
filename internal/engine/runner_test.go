package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

type runnerFixture struct {
	store     *fakeStore
	chooser   *MockChooser
	generator *fakeGenerator
	executor  *fakeExecutor
	scheduler *fakeScheduler
	runner    *Runner
}

func newRunnerFixture() *runnerFixture {
	f := &runnerFixture{
		store:     newFakeStore(),
		chooser:   NewMockChooser("", ""),
		generator: &fakeGenerator{},
		executor:  &fakeExecutor{},
		scheduler: &fakeScheduler{},
	}
	matcher := NewMatcher(f.store, nil, f.chooser)
	f.runner = NewRunner(matcher, f.store, f.generator, f.executor, f.scheduler)
	return f
}

func TestRunner_RunRules_MatchPersistsPending(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()

	rule := staticRule("r1", "Receipts", "receipt")
	rule.Automate = true
	rule.Actions = []model.Action{
		{Type: model.ActionLabel, Label: " Receipts ", URL: "ignored"},
		{Type: model.ActionArchive},
	}

	result, err := f.runner.RunRules(ctx, RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "shop@store.com", "Your receipt", ""),
		Rules:   []model.Rule{rule},
	})
	require.NoError(t, err)
	f.runner.Wait()

	require.NotNil(t, result.Rule)
	assert.Equal(t, "r1", result.Rule.ID)
	assert.False(t, result.Existing)
	require.NotNil(t, result.ExecutedRule)
	assert.Equal(t, model.StatusPending, result.ExecutedRule.Status)
	assert.Equal(t, "Matched static conditions", result.ExecutedRule.Reason)
	assert.True(t, result.ExecutedRule.Automated)
	require.NotNil(t, result.ExecutedRule.RuleID)
	assert.Equal(t, "r1", *result.ExecutedRule.RuleID)

	require.Len(t, result.ExecutedRule.ActionItems, 2)
	label := result.ExecutedRule.ActionItems[0]
	assert.Equal(t, "Receipts", label.Label)
	assert.Empty(t, label.URL)
	assert.NotEmpty(t, label.ID)

	assert.Equal(t, 1, f.executor.count())
	assert.Empty(t, f.scheduler.scheduled(), "static matches do not trigger sender analysis")
}

func TestRunner_RunRules_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()

	rule := staticRule("r1", "Receipts", "receipt")
	rule.Automate = true
	req := RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "shop@store.com", "Your receipt", ""),
		Rules:   []model.Rule{rule},
	}

	first, err := f.runner.RunRules(ctx, req)
	require.NoError(t, err)
	second, err := f.runner.RunRules(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.decisionCount())
	assert.Equal(t, 1, f.executor.count())
	assert.True(t, second.Existing)
	assert.Equal(t, first.ExecutedRule.ID, second.ExecutedRule.ID)
	assert.Equal(t, first.ExecutedRule.Reason, second.ExecutedRule.Reason)
	require.NotNil(t, second.Rule)
	assert.Equal(t, "r1", second.Rule.ID)
	assert.Equal(t, 1, f.store.upserts, "second call does not write")
}

func TestRunner_RunRules_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()

	rule := staticRule("r1", "Receipts", "receipt")
	rule.Automate = true
	req := RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "shop@store.com", "Your receipt", ""),
		Rules:   []model.Rule{rule},
	}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.runner.RunRules(ctx, req)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.store.decisionCount())
	assert.Equal(t, 1, f.executor.count())
}

func TestRunner_RunRules_Rerun(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()

	rule := staticRule("r1", "Receipts", "receipt")
	rule.Automate = true
	req := RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "shop@store.com", "Your receipt", ""),
		Rules:   []model.Rule{rule},
	}

	_, err := f.runner.RunRules(ctx, req)
	require.NoError(t, err)

	req.Rerun = true
	result, err := f.runner.RunRules(ctx, req)
	require.NoError(t, err)

	assert.True(t, result.Existing)
	assert.Equal(t, 1, f.store.decisionCount())
	assert.Equal(t, 2, f.executor.count())
}

func TestRunner_RunRules_NoMatchPersistsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()

	result, err := f.runner.RunRules(ctx, RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "a@b.com", "hello", ""),
		Rules:   []model.Rule{staticRule("r1", "Receipts", "receipt")},
	})
	require.NoError(t, err)

	assert.Nil(t, result.Rule)
	require.NotNil(t, result.ExecutedRule)
	assert.Equal(t, model.StatusSkipped, result.ExecutedRule.Status)
	assert.Nil(t, result.ExecutedRule.RuleID)
	assert.Equal(t, 0, f.executor.count())
}

func TestRunner_RunRules_AIMatchSchedulesSenderAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()
	f.chooser.RuleName = "Newsletter"
	f.chooser.Reason = "It is a newsletter"

	result, err := f.runner.RunRules(ctx, RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "News <news@letters.com>", "Weekly", ""),
		Rules:   []model.Rule{aiRule("r1", "Newsletter", "Newsletters")},
	})
	require.NoError(t, err)
	f.runner.Wait()

	require.NotNil(t, result.Rule)
	assert.Equal(t, "It is a newsletter", result.ExecutedRule.Reason)
	assert.Equal(t, []string{"news@letters.com"}, f.scheduler.scheduled())
	assert.Equal(t, 0, f.executor.count(), "rule is not automated")
}

func TestRunner_RunRules_SchedulerFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()
	f.chooser.RuleName = "Newsletter"
	f.scheduler.err = errBoom

	_, err := f.runner.RunRules(ctx, RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "news@letters.com", "Weekly", ""),
		Rules:   []model.Rule{aiRule("r1", "Newsletter", "Newsletters")},
	})
	require.NoError(t, err)
	f.runner.Wait()
	assert.Len(t, f.scheduler.scheduled(), 1)
}

func TestRunner_RunRules_TestModeWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()
	f.chooser.RuleName = "Newsletter"

	rule := aiRule("r1", "Newsletter", "Newsletters")
	rule.Automate = true

	result, err := f.runner.RunRules(ctx, RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "news@letters.com", "Weekly", ""),
		Rules:   []model.Rule{rule},
		IsTest:  true,
	})
	require.NoError(t, err)
	f.runner.Wait()

	require.NotNil(t, result.Rule)
	assert.Nil(t, result.ExecutedRule)
	assert.Len(t, result.ActionItems, 1)
	assert.Equal(t, 0, f.store.upserts)
	assert.Equal(t, 0, f.executor.count())
	assert.Empty(t, f.scheduler.scheduled())

	// No match in test mode is not persisted either.
	result, err = f.runner.RunRules(ctx, RunRequest{
		User:    testUser(),
		Message: testMessage("m2", "a@b.com", "hello", ""),
		Rules:   []model.Rule{staticRule("r2", "Nope", "nope")},
		IsTest:  true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.ExecutedRule)
	assert.Equal(t, 0, f.store.upserts)
}

func TestRunner_RunRules_ErrorsWriteNothing(t *testing.T) {
	ctx := context.Background()

	t.Run("generator", func(t *testing.T) {
		f := newRunnerFixture()
		f.generator.err = errBoom

		_, err := f.runner.RunRules(ctx, RunRequest{
			User:    testUser(),
			Message: testMessage("m1", "a@b.com", "receipt", ""),
			Rules:   []model.Rule{staticRule("r1", "Receipts", "receipt")},
		})
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, 0, f.store.decisionCount())
	})

	t.Run("chooser", func(t *testing.T) {
		f := newRunnerFixture()
		f.chooser.Err = errBoom

		_, err := f.runner.RunRules(ctx, RunRequest{
			User:    testUser(),
			Message: testMessage("m1", "a@b.com", "hello", ""),
			Rules:   []model.Rule{aiRule("r1", "Any", "anything")},
			IsTest:  true,
		})
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, 0, f.store.upserts)
	})

	t.Run("store", func(t *testing.T) {
		f := newRunnerFixture()
		f.store.upsertErr = errBoom

		_, err := f.runner.RunRules(ctx, RunRequest{
			User:    testUser(),
			Message: testMessage("m1", "a@b.com", "receipt", ""),
			Rules:   []model.Rule{staticRule("r1", "Receipts", "receipt")},
		})
		require.ErrorIs(t, err, errBoom)
	})
}

func TestRunner_RunRules_ExecutorFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()
	f.executor.err = errBoom

	rule := staticRule("r1", "Receipts", "receipt")
	rule.Automate = true

	result, err := f.runner.RunRules(ctx, RunRequest{
		User:    testUser(),
		Message: testMessage("m1", "a@b.com", "receipt", ""),
		Rules:   []model.Rule{rule},
	})
	require.ErrorIs(t, err, errBoom)
	require.NotNil(t, result.ExecutedRule)

	stored, getErr := f.store.GetExecutedRule(ctx, result.ExecutedRule.Key())
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestRunner_RunRules_RequiresMessageID(t *testing.T) {
	f := newRunnerFixture()
	_, err := f.runner.RunRules(context.Background(), RunRequest{User: testUser()})
	require.Error(t, err)
}
