package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// ReplyTracker marks inbound threads as needing a reply when a reply-tracking rule applies.
type ReplyTracker struct {
	chooser  Chooser
	trackers service.ThreadTrackerStore
	logger   *slog.Logger
}

// NewReplyTracker creates a reply tracker.
func NewReplyTracker(chooser Chooser, trackers service.ThreadTrackerStore) *ReplyTracker {
	return &ReplyTracker{
		chooser:  chooser,
		trackers: trackers,
		logger:   slog.Default().With("component", "reply-tracker"),
	}
}

// HandleInboundReply asks the model whether one of the user's TRACK_THREAD rules applies and,
// if so, marks the thread as needing a reply. Other actions of the rule are not run here.
// It reports whether the thread was marked.
func (t *ReplyTracker) HandleInboundReply(ctx context.Context, user model.User, msg model.Message, rules []model.Rule) (bool, error) {
	var tracking []model.Rule
	for _, rule := range rules {
		if rule.IsAIRule() && rule.HasActionType(model.ActionTrackThread) {
			tracking = append(tracking, rule)
		}
	}
	if len(tracking) == 0 {
		return false, nil
	}

	choice, err := t.chooser.ChooseRule(ctx, msg, tracking, user)
	if err != nil {
		return false, fmt.Errorf("failed to choose reply tracking rule: %w", err)
	}
	if choice.Rule == nil {
		return false, nil
	}

	chosen := false
	for _, rule := range tracking {
		if rule.ID == choice.Rule.ID {
			chosen = true
			break
		}
	}
	if !chosen {
		return false, nil
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = msg.ID
	}
	sentAt := msg.InternalDate
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	return true, t.markNeedsReply(context.WithoutCancel(ctx), user.ID, threadID, msg.ID, sentAt)
}

// markNeedsReply resolves AWAITING trackers for the thread and records a NEEDS_REPLY tracker.
// Both writes are attempted even if one fails.
func (t *ReplyTracker) markNeedsReply(ctx context.Context, userID, threadID, messageID string, sentAt time.Time) error {
	logger := t.logger.With("user_id", userID, "thread_id", threadID, "message_id", messageID)
	logger.Info("Marking thread as needs reply")

	var errs []error

	if _, err := t.trackers.ResolveThreadTrackers(ctx, userID, threadID, model.TrackerAwaiting); err != nil {
		logger.Error("Failed to resolve awaiting trackers", "error", err)
		errs = append(errs, err)
	}

	err := t.trackers.UpsertThreadTracker(ctx, &model.ThreadTracker{
		UserID:    userID,
		ThreadID:  threadID,
		MessageID: messageID,
		Type:      model.TrackerNeedsReply,
		SentAt:    sentAt,
	})
	if err != nil {
		logger.Error("Failed to mark needs reply", "error", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
