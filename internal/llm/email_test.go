package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

func TestStringifyEmail(t *testing.T) {
	tests := []struct {
		name      string
		want      []string
		notWant   []string
		msg       model.Message
		maxLength int
	}{
		{
			name: "all headers",
			msg: model.Message{
				Headers: model.Headers{
					From:    "a@example.com",
					ReplyTo: "b@example.com",
					To:      "me@example.com",
					Cc:      "c@example.com",
					Subject: "Hello",
				},
				TextPlain: "Body text",
			},
			maxLength: 500,
			want: []string{
				"<from>a@example.com</from>",
				"<replyTo>b@example.com</replyTo>",
				"<cc>c@example.com</cc>",
				"<subject>Hello</subject>",
				"<body>Body text</body>",
			},
		},
		{
			name:      "empty headers are omitted",
			msg:       model.Message{Headers: model.Headers{From: "a@example.com"}, TextPlain: "x"},
			maxLength: 500,
			notWant:   []string{"<cc>", "<replyTo>", "<subject>"},
		},
		{
			name:      "snippet fallback",
			msg:       model.Message{Snippet: "preview only", TextPlain: "  \n "},
			maxLength: 500,
			want:      []string{"<body>preview only</body>"},
		},
		{
			name:      "whitespace collapsed",
			msg:       model.Message{TextPlain: "line   one\n\n\n\n   line two\t\tend"},
			maxLength: 500,
			want:      []string{"<body>line one\n\nline two end</body>"},
		},
		{
			name:      "invisible characters stripped",
			msg:       model.Message{TextPlain: "\ufeffpay\u200bment\u200d due\u00adnow"},
			maxLength: 500,
			want:      []string{"<body>pay ment due now</body>"},
			notWant:   []string{"\ufeff", "\u200b", "\u200d", "\u00ad"},
		},
		{
			name:      "truncated",
			msg:       model.Message{TextPlain: "0123456789"},
			maxLength: 4,
			want:      []string{"<body>0123...</body>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := stringifyEmail(tt.msg, tt.maxLength)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, out, nw)
			}
		})
	}
}

func TestTruncateNeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		limit := rapid.IntRange(1, 50).Draw(t, "limit")

		out := truncate(s, limit)
		runes := []rune(strings.TrimSuffix(out, "..."))
		if len(runes) > limit {
			t.Fatalf("truncate(%q, %d) kept %d runes", s, limit, len(runes))
		}
		if len([]rune(s)) <= limit && out != s {
			t.Fatalf("short input changed: %q -> %q", s, out)
		}
	})
}
