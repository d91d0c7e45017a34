package pattern

import (
	"testing"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMatchesStatic(t *testing.T) {
	msg := model.Message{
		ID:       "m1",
		ThreadID: "m1",
		Headers: model.Headers{
			From:    "Alice Example <alice@gmail.com>",
			To:      "me@example.com",
			Subject: "Your invoice for March 2024",
		},
		TextPlain: "Please find the invoice attached.",
	}

	tests := []struct {
		name string
		rule model.Rule
		want bool
	}{
		{
			name: "no static fields never matches",
			rule: model.Rule{Name: "empty"},
			want: false,
		},
		{
			name: "subject substring",
			rule: model.Rule{Subject: "invoice"},
			want: true,
		},
		{
			name: "subject is case sensitive",
			rule: model.Rule{Subject: "INVOICE"},
			want: false,
		},
		{
			name: "leading wildcard is rewritten",
			rule: model.Rule{From: "*@gmail.com"},
			want: true,
		},
		{
			name: "all set fields must match",
			rule: model.Rule{From: "alice", Subject: "receipt"},
			want: false,
		},
		{
			name: "body and to together",
			rule: model.Rule{To: "me@example\\.com", Body: "invoice attached"},
			want: true,
		},
		{
			name: "invalid regex is a non-match",
			rule: model.Rule{Subject: "(unclosed"},
			want: false,
		},
		{
			name: "invalid regex fails the whole rule",
			rule: model.Rule{From: "alice", Subject: "[z-a]"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesStatic(tt.rule, msg))
		})
	}
}

func TestMatchesStatic_VacuousRuleNeverMatches(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rule := model.Rule{
			Name:         rapid.String().Draw(t, "name"),
			Instructions: rapid.String().Draw(t, "instructions"),
		}
		msg := model.Message{
			Headers: model.Headers{
				From:    rapid.String().Draw(t, "from"),
				To:      rapid.String().Draw(t, "to"),
				Subject: rapid.String().Draw(t, "subject"),
			},
			TextPlain: rapid.String().Draw(t, "body"),
		}
		if MatchesStatic(rule, msg) {
			t.Fatalf("rule without static fields matched %+v", msg.Headers)
		}
	})
}
