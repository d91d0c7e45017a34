package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

func TestGroups(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()
	ctx := context.Background()

	bound := &model.Group{
		UserID: "user-1",
		Name:   "Vendors",
		Items: []model.GroupItem{
			{Type: model.GroupItemFrom, Value: "@stripe.com"},
			{Type: model.GroupItemSubject, Value: "/invoice #\\d+/"},
		},
	}
	require.NoError(t, store.SaveGroup(ctx, bound))

	unused := &model.Group{UserID: "user-1", Name: "Unused",
		Items: []model.GroupItem{{Type: model.GroupItemBody, Value: "unsubscribe"}}}
	require.NoError(t, store.SaveGroup(ctx, unused))

	groups, err := store.GetGroupsWithRules(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, groups)

	rule := &model.Rule{UserID: "user-1", Name: "Vendor mail", GroupID: &bound.ID, Enabled: true}
	require.NoError(t, store.SaveRule(ctx, rule))

	groups, err = store.GetGroupsWithRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Vendors", groups[0].Name)
	require.Len(t, groups[0].Items, 2)
	assert.Equal(t, model.GroupItemFrom, groups[0].Items[0].Type)
	assert.Equal(t, "/invoice #\\d+/", groups[0].Items[1].Value)
	assert.Equal(t, bound.ID, groups[0].Items[0].GroupID)

	// A group carrying its own rule binding is loaded too.
	unused.RuleID = &rule.ID
	unused.Items = []model.GroupItem{{Type: model.GroupItemBody, Value: "newsletter"}}
	require.NoError(t, store.SaveGroup(ctx, unused))

	groups, err = store.GetGroupsWithRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Unused", groups[0].Name)
	require.Len(t, groups[0].Items, 1)
	assert.Equal(t, "newsletter", groups[0].Items[0].Value)
}

func TestSaveGroup_Invalid(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()

	err := store.SaveGroup(context.Background(), &model.Group{UserID: "user-1", Name: "Bad",
		Items: []model.GroupItem{{Type: "HEADER", Value: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidGroup)
}
