package model

import "strings"

// ActionType identifies what an action does to a message.
type ActionType string

// Action type constants.
const (
	ActionArchive     ActionType = "ARCHIVE"
	ActionLabel       ActionType = "LABEL"
	ActionReply       ActionType = "REPLY"
	ActionSendEmail   ActionType = "SEND_EMAIL"
	ActionForward     ActionType = "FORWARD"
	ActionDraftEmail  ActionType = "DRAFT_EMAIL"
	ActionMarkSpam    ActionType = "MARK_SPAM"
	ActionCallWebhook ActionType = "CALL_WEBHOOK"
	ActionMarkRead    ActionType = "MARK_READ"
	ActionTrackThread ActionType = "TRACK_THREAD"
)

// ValidActionTypes lists every known action type.
var ValidActionTypes = []ActionType{
	ActionArchive, ActionLabel, ActionReply, ActionSendEmail, ActionForward,
	ActionDraftEmail, ActionMarkSpam, ActionCallWebhook, ActionMarkRead, ActionTrackThread,
}

// Action is a template attached to a rule. Fields may hold literal text and {{dynamic}} placeholders.
type Action struct {
	ID      string
	Type    ActionType
	Label   string
	Subject string
	Content string
	To      string
	Cc      string
	Bcc     string
	URL     string
}

// HasDynamicFields reports whether any template field carries a {{...}} placeholder.
func (a Action) HasDynamicFields() bool {
	for _, f := range []string{a.Label, a.Subject, a.Content, a.To, a.Cc, a.Bcc, a.URL} {
		if strings.Contains(f, "{{") && strings.Contains(f, "}}") {
			return true
		}
	}
	return false
}

// ActionItem is a resolved, ready-to-execute instruction derived from an action template.
type ActionItem struct {
	ID      string
	Type    ActionType
	Label   string
	Subject string
	Content string
	To      string
	Cc      string
	Bcc     string
	URL     string
}

// Sanitize clears the fields that do not apply to the item's type and trims the rest.
func (a ActionItem) Sanitize() ActionItem {
	out := ActionItem{ID: a.ID, Type: a.Type}
	switch a.Type {
	case ActionLabel:
		out.Label = strings.TrimSpace(a.Label)
	case ActionReply:
		out.Content = strings.TrimSpace(a.Content)
		out.Cc = strings.TrimSpace(a.Cc)
		out.Bcc = strings.TrimSpace(a.Bcc)
	case ActionSendEmail, ActionForward, ActionDraftEmail:
		out.Subject = strings.TrimSpace(a.Subject)
		out.Content = strings.TrimSpace(a.Content)
		out.To = strings.TrimSpace(a.To)
		out.Cc = strings.TrimSpace(a.Cc)
		out.Bcc = strings.TrimSpace(a.Bcc)
	case ActionCallWebhook:
		out.URL = strings.TrimSpace(a.URL)
	}
	return out
}
