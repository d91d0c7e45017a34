package model

import (
	"net/mail"
	"strings"
	"time"
)

// Headers holds the message headers the rule engine looks at.
type Headers struct {
	From       string
	To         string
	Cc         string
	Subject    string
	Date       string
	ReplyTo    string
	References string
	InReplyTo  string
}

// Attachment describes one attached part of a message.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
}

// Message is an immutable view of one mailbox message for matching.
type Message struct {
	InternalDate time.Time
	Headers      Headers
	ID           string
	ThreadID     string
	TextPlain    string
	TextHTML     string
	Snippet      string
	Attachments  []Attachment
}

// IsReplyInThread reports whether the message is not the first message of its thread.
// The first message of a thread carries the thread's id.
func (m Message) IsReplyInThread() bool {
	return m.ThreadID != "" && m.ID != m.ThreadID
}

// HasCalendarInvite reports whether the message carries an iCalendar attachment.
func (m Message) HasCalendarInvite() bool {
	for _, a := range m.Attachments {
		mimeType := strings.ToLower(a.MimeType)
		if strings.HasPrefix(mimeType, "text/calendar") || strings.HasPrefix(mimeType, "application/ics") {
			return true
		}
		if strings.HasSuffix(strings.ToLower(a.Filename), ".ics") {
			return true
		}
	}
	return false
}

// SenderEmail returns the normalized address of the From header.
func (m Message) SenderEmail() string {
	return ExtractEmailAddress(m.Headers.From)
}

// ExtractEmailAddress pulls the bare, lower-cased address out of a header value such as
// `"Alice" <alice@example.com>`. It returns an empty string when no address can be found.
func ExtractEmailAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(header); err == nil {
		return strings.ToLower(addr.Address)
	}
	if start := strings.LastIndex(header, "<"); start >= 0 {
		if end := strings.Index(header[start:], ">"); end > 0 {
			return strings.ToLower(strings.TrimSpace(header[start+1 : start+end]))
		}
	}
	if strings.Contains(header, "@") && !strings.ContainsAny(header, " \t") {
		return strings.ToLower(header)
	}
	return ""
}
