package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

func TestValidateContext(t *testing.T) {
	assert.NoError(t, validateContext(context.Background()))
	//nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, validateContext(nil), ErrNilContext)
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		rule    *model.Rule
		wantErr error
		name    string
	}{
		{name: "valid", rule: &model.Rule{UserID: "u", Name: "r", Actions: []model.Action{{Type: model.ActionLabel}}}},
		{name: "nil", rule: nil, wantErr: ErrNilParameter},
		{name: "no user", rule: &model.Rule{Name: "r"}, wantErr: common.ErrInvalidRule},
		{name: "blank name", rule: &model.Rule{UserID: "u", Name: "  "}, wantErr: common.ErrInvalidRule},
		{name: "bad operator", rule: &model.Rule{UserID: "u", Name: "r", ConditionalOperator: "XOR"}, wantErr: common.ErrInvalidRule},
		{name: "bad filter type", rule: &model.Rule{UserID: "u", Name: "r", CategoryFilterType: "MAYBE"}, wantErr: common.ErrInvalidRule},
		{name: "filter without id", rule: &model.Rule{UserID: "u", Name: "r", CategoryFilters: []model.Category{{Name: "x"}}}, wantErr: common.ErrInvalidRule},
		{name: "bad action", rule: &model.Rule{UserID: "u", Name: "r", Actions: []model.Action{{Type: "DELETE"}}}, wantErr: common.ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(tt.rule)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateUser(t *testing.T) {
	assert.NoError(t, ValidateUser(&model.User{ID: "u", Email: "a@b.c"}))
	assert.ErrorIs(t, ValidateUser(nil), ErrNilParameter)
	assert.ErrorIs(t, ValidateUser(&model.User{Email: "a@b.c"}), ErrEmptyString)
}

func TestValidateGroup(t *testing.T) {
	assert.NoError(t, ValidateGroup(&model.Group{UserID: "u", Name: "g"}))
	assert.ErrorIs(t, ValidateGroup(&model.Group{UserID: "u"}), ErrInvalidGroup)
	assert.ErrorIs(t, ValidateGroup(&model.Group{UserID: "u", Name: "g",
		Items: []model.GroupItem{{Type: model.GroupItemFrom}}}), ErrInvalidGroup)
}
