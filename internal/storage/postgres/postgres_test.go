package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// newTestStorage connects to MAILFLOW_TEST_POSTGRES_DSN and seeds a fresh user.
func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	dsn := os.Getenv("MAILFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MAILFLOW_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	userID := "user-" + uuid.NewString()
	require.NoError(t, store.SaveUser(ctx, &model.User{ID: userID, Email: userID + "@example.com"}))
	return store, userID
}

func TestNew_MissingDSN(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestMigrate_Idempotent(t *testing.T) {
	store, _ := newTestStorage(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestRulesRoundTrip(t *testing.T) {
	store, userID := newTestStorage(t)
	ctx := context.Background()

	category := &model.Category{UserID: userID, Name: "Newsletter"}
	require.NoError(t, store.SaveCategory(ctx, category))

	group := &model.Group{UserID: userID, Name: "Vendors", Items: []model.GroupItem{
		{Type: model.GroupItemFrom, Value: "@stripe.com"},
		{Type: model.GroupItemSubject, Value: "invoice"},
	}}
	require.NoError(t, store.SaveGroup(ctx, group))

	second := &model.Rule{UserID: userID, Name: "Second", Position: 2, Enabled: true,
		Actions: []model.Action{{Type: model.ActionArchive}}}
	first := &model.Rule{UserID: userID, Name: "First", Position: 1, Enabled: true, GroupID: &group.ID,
		CategoryFilterType: model.CategoryFilterInclude, CategoryFilters: []model.Category{*category},
		Actions: []model.Action{{Type: model.ActionLabel, Label: "Vendor"}, {Type: model.ActionMarkRead}}}
	disabled := &model.Rule{UserID: userID, Name: "Off", Enabled: false}
	for _, r := range []*model.Rule{second, first, disabled} {
		require.NoError(t, store.SaveRule(ctx, r))
	}

	err := store.SaveRule(ctx, &model.Rule{UserID: userID, Name: "FIRST", Enabled: true})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	rules, err := store.GetActiveRules(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "First", rules[0].Name)
	require.Len(t, rules[0].Actions, 2)
	assert.Equal(t, model.ActionMarkRead, rules[0].Actions[1].Type)
	require.Len(t, rules[0].CategoryFilters, 1)
	require.NotNil(t, rules[0].GroupID)

	groups, err := store.GetGroupsWithRules(ctx, userID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Items, 2)
	assert.Equal(t, "@stripe.com", groups[0].Items[0].Value)

	require.NoError(t, store.SaveSender(ctx, &model.Sender{UserID: userID, Email: "News@X.com", CategoryID: &category.ID}))
	sender, err := store.GetSender(ctx, userID, "news@x.com")
	require.NoError(t, err)
	require.NotNil(t, sender.CategoryID)
	assert.Equal(t, category.ID, *sender.CategoryID)

	require.NoError(t, store.DeleteRule(ctx, userID, disabled.ID))
	assert.ErrorIs(t, store.DeleteRule(ctx, userID, disabled.ID), common.ErrNotFound)
}

func TestUpsertExecutedRule_OnePerMessage(t *testing.T) {
	store, userID := newTestStorage(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.UpsertExecutedRule(ctx, &model.ExecutedRule{
				UserID: userID, ThreadID: "t1", MessageID: "m1", Status: model.StatusSkipped,
				ActionItems: []model.ActionItem{{Type: model.ActionArchive}},
			}, false)
			if !assert.NoError(t, err) {
				return
			}
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, creates)

	rerun := &model.ExecutedRule{
		UserID: userID, ThreadID: "t1", MessageID: "m1", Status: model.StatusPending, Reason: "rerun",
	}
	kept, created, err := store.UpsertExecutedRule(ctx, rerun, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.StatusSkipped, kept.Status)
	assert.Len(t, kept.ActionItems, 1)

	updated, created, err := store.UpsertExecutedRule(ctx, rerun, true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "rerun", updated.Reason)
	assert.Empty(t, updated.ActionItems)

	list, err := store.ListExecutedRules(ctx, userID, service.ExecutedRuleFilter{ThreadID: "t1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.GetExecutedRule(ctx, model.DecisionKey{UserID: userID, ThreadID: "t1", MessageID: "nope"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestThreadTrackers(t *testing.T) {
	store, userID := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertThreadTracker(ctx, &model.ThreadTracker{
		UserID: userID, ThreadID: "t1", MessageID: "m1", Type: model.TrackerAwaiting,
	}))
	n, err := store.ResolveThreadTrackers(ctx, userID, "t1", model.TrackerAwaiting)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.ResolveThreadTrackers(ctx, userID, "t1", model.TrackerAwaiting)
	require.NoError(t, err)
	assert.Zero(t, n)
}
