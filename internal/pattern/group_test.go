package pattern

import (
	"testing"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMatchingGroupItem(t *testing.T) {
	group := model.Group{
		ID:   "g1",
		Name: "Receipts",
		Items: []model.GroupItem{
			{ID: "i1", Type: model.GroupItemFrom, Value: "billing@stripe.com"},
			{ID: "i2", Type: model.GroupItemSubject, Value: "Order #123"},
			{ID: "i3", Type: model.GroupItemSubject, Value: "/^\\[github\\]/"},
			{ID: "i4", Type: model.GroupItemBody, Value: "unsubscribe"},
		},
	}

	tests := []struct {
		name   string
		msg    model.Message
		wantID string
	}{
		{
			name:   "from address",
			msg:    model.Message{Headers: model.Headers{From: "Stripe <Billing@Stripe.com>"}},
			wantID: "i1",
		},
		{
			name:   "subject with a different order number",
			msg:    model.Message{Headers: model.Headers{From: "shop@example.com", Subject: "Order #987 has shipped"}},
			wantID: "i2",
		},
		{
			name:   "subject regex",
			msg:    model.Message{Headers: model.Headers{Subject: "[GitHub] New login"}},
			wantID: "i3",
		},
		{
			name:   "body substring",
			msg:    model.Message{TextPlain: "Click here to Unsubscribe."},
			wantID: "i4",
		},
		{
			name: "no item matches",
			msg:  model.Message{Headers: model.Headers{From: "bob@example.com", Subject: "Lunch?"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := FindMatchingGroupItem(group, tt.msg)
			if tt.wantID == "" {
				assert.Nil(t, item)
				return
			}
			require.NotNil(t, item)
			assert.Equal(t, tt.wantID, item.ID)
		})
	}
}

func TestFindGroupForRule(t *testing.T) {
	ruleID := "r2"
	groups := []model.Group{
		{ID: "g1", Name: "one"},
		{ID: "g2", Name: "two", RuleID: &ruleID},
	}

	gid := "g1"
	assert.Equal(t, "g1", FindGroupForRule(model.Rule{ID: "r1", GroupID: &gid}, groups).ID)

	other := "missing"
	assert.Equal(t, "g2", FindGroupForRule(model.Rule{ID: "r2", GroupID: &other}, groups).ID)

	assert.Nil(t, FindGroupForRule(model.Rule{ID: "r3"}, groups))
}

func TestGeneralizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Order #123", "Order"},
		{"Invoice 456", "Invoice"},
		{"[org/repo] PR #789: Fix bug (abc123)", "[org/repo] PR : Fix bug"},
		{"Welcome to our service", "Welcome to our service"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, GeneralizeSubject(tt.in))
		})
	}
}
