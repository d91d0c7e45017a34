package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

func TestSaveRule_RoundTrip(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()
	ctx := context.Background()

	investor := &model.Category{UserID: "user-1", Name: "Investor"}
	require.NoError(t, store.SaveCategory(ctx, investor))

	rule := &model.Rule{
		UserID:              "user-1",
		Name:                "Investors",
		From:                "@vc.com",
		Instructions:        "Emails from investors",
		ConditionalOperator: model.LogicalOperatorOr,
		CategoryFilterType:  model.CategoryFilterInclude,
		CategoryFilters:     []model.Category{*investor},
		Enabled:             true,
		Automate:            true,
		Actions: []model.Action{
			{Type: model.ActionLabel, Label: "Investor"},
			{Type: model.ActionReply, Content: "Hi {{name}}"},
		},
	}
	require.NoError(t, store.SaveRule(ctx, rule))
	require.NotEmpty(t, rule.ID)
	require.NotEmpty(t, rule.Actions[0].ID)

	rules, err := store.GetRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)

	got := rules[0]
	assert.Equal(t, "Investors", got.Name)
	assert.Equal(t, "@vc.com", got.From)
	assert.Equal(t, model.LogicalOperatorOr, got.ConditionalOperator)
	assert.True(t, got.Automate)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, model.ActionLabel, got.Actions[0].Type)
	assert.Equal(t, "Hi {{name}}", got.Actions[1].Content)
	require.Len(t, got.CategoryFilters, 1)
	assert.Equal(t, "Investor", got.CategoryFilters[0].Name)
	assert.True(t, got.HasCategoryFilter())

	// Saving again replaces the actions and filters.
	rule.Actions = []model.Action{{Type: model.ActionArchive}}
	rule.CategoryFilters = nil
	require.NoError(t, store.SaveRule(ctx, rule))

	rules, err = store.GetRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Len(t, rules[0].Actions, 1)
	assert.Equal(t, model.ActionArchive, rules[0].Actions[0].Type)
	assert.Empty(t, rules[0].CategoryFilters)
}

func TestSaveRule_DefaultsOperator(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()
	ctx := context.Background()

	rule := &model.Rule{UserID: "user-1", Name: "Plain", Subject: "hello", Enabled: true}
	require.NoError(t, store.SaveRule(ctx, rule))
	assert.Equal(t, model.LogicalOperatorAnd, rule.ConditionalOperator)
}

func TestSaveRule_DuplicateName(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveRule(ctx, &model.Rule{UserID: "user-1", Name: "Receipts", Enabled: true}))
	err := store.SaveRule(ctx, &model.Rule{UserID: "user-1", Name: "receipts", Enabled: true})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestGetActiveRules_OrderAndFilter(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()
	ctx := context.Background()

	for _, r := range []model.Rule{
		{UserID: "user-1", Name: "Third", Position: 3, Enabled: true},
		{UserID: "user-1", Name: "First", Position: 1, Enabled: true},
		{UserID: "user-1", Name: "Disabled", Position: 0, Enabled: false},
		{UserID: "user-1", Name: "Second", Position: 2, Enabled: true},
	} {
		rule := r
		require.NoError(t, store.SaveRule(ctx, &rule))
	}

	active, err := store.GetActiveRules(ctx, "user-1")
	require.NoError(t, err)
	names := make([]string, len(active))
	for i, r := range active {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"First", "Second", "Third"}, names)

	all, err := store.GetRules(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "Disabled", all[0].Name)

	none, err := store.GetActiveRules(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteRule(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()
	ctx := context.Background()

	rule := &model.Rule{UserID: "user-1", Name: "Gone", Enabled: true,
		Actions: []model.Action{{Type: model.ActionArchive}}}
	require.NoError(t, store.SaveRule(ctx, rule))

	ruleID := rule.ID
	stored, created, err := store.UpsertExecutedRule(ctx, &model.ExecutedRule{
		UserID: "user-1", ThreadID: "t1", MessageID: "m1",
		RuleID: &ruleID, Status: model.StatusPending,
	}, false)
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, stored.RuleID)

	require.NoError(t, store.DeleteRule(ctx, "user-1", rule.ID))
	assert.ErrorIs(t, store.DeleteRule(ctx, "user-1", rule.ID), common.ErrNotFound)

	kept, err := store.GetExecutedRule(ctx, stored.Key())
	require.NoError(t, err)
	assert.Nil(t, kept.RuleID)
}
