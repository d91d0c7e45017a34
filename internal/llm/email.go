package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// maxEmailContentLength bounds the body text sent to the model.
const maxEmailContentLength = 500

var (
	invisibleChars = strings.NewReplacer("\u00ad", " ", "\u034f", " ", "\u200b", " ", "\u200c", " ", "\u200d", "", "\ufeff", "")
	spaceRun       = regexp.MustCompile(`[ \t]+`)
	blankLines     = regexp.MustCompile(`\n\s*\n+`)
)

// stringifyEmail renders the parts of a message the model needs, with the body
// truncated to maxLength characters.
func stringifyEmail(msg model.Message, maxLength int) string {
	var b strings.Builder

	writeTag := func(tag, value string) {
		if value == "" {
			return
		}
		b.WriteString("<" + tag + ">" + value + "</" + tag + ">\n")
	}

	writeTag("from", msg.Headers.From)
	writeTag("replyTo", msg.Headers.ReplyTo)
	writeTag("to", msg.Headers.To)
	writeTag("cc", msg.Headers.Cc)
	writeTag("date", msg.Headers.Date)
	writeTag("subject", msg.Headers.Subject)

	body := msg.TextPlain
	if strings.TrimSpace(body) == "" {
		body = msg.Snippet
	}
	writeTag("body", truncate(removeExcessiveWhitespace(body), maxLength))

	return strings.TrimSuffix(b.String(), "\n")
}

func removeExcessiveWhitespace(s string) string {
	s = invisibleChars.Replace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func truncate(s string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLength]) + "..."
}
