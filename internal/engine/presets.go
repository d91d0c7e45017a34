package engine

import (
	"context"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// ToReplyReceivedThreshold is the number of received messages from a sender, with no reply
// from the user, at which the TO_REPLY preset stops being offered to the model.
const ToReplyReceivedThreshold = 10

// findCalendarRule returns the first enabled CALENDAR preset, or nil.
func findCalendarRule(rules []model.Rule) *model.Rule {
	for i := range rules {
		if rules[i].Enabled && rules[i].SystemType == model.SystemTypeCalendar {
			return &rules[i]
		}
	}
	return nil
}

// filterToReplyPreset drops the TO_REPLY candidate for one-directional bulk senders.
// Lookup failures keep the candidate.
func (m *Matcher) filterToReplyPreset(ctx context.Context, candidates []model.Rule, msg model.Message) []model.Rule {
	idx := -1
	for i := range candidates {
		if candidates[i].SystemType == model.SystemTypeToReply {
			idx = i
			break
		}
	}
	if idx == -1 || m.mailbox == nil {
		return candidates
	}

	sender := msg.SenderEmail()
	if sender == "" {
		sender = msg.Headers.From
	}
	if sender == "" {
		return candidates
	}

	history, err := m.mailbox.ReplyHistory(ctx, sender, ToReplyReceivedThreshold)
	if err != nil {
		m.logger.Error("Error checking reply history for TO_REPLY filter",
			"sender", sender,
			"error", err)
		return candidates
	}

	if !history.HasReplied && history.ReceivedCount >= ToReplyReceivedThreshold {
		m.logger.Info("Filtering out TO_REPLY rule due to no prior reply and high received count",
			"rule_id", candidates[idx].ID,
			"sender", sender,
			"received_count", history.ReceivedCount)

		filtered := make([]model.Rule, 0, len(candidates)-1)
		filtered = append(filtered, candidates[:idx]...)
		return append(filtered, candidates[idx+1:]...)
	}

	return candidates
}
