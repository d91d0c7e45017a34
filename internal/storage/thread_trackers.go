package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// UpsertThreadTracker records a tracker, replacing the one for the same message.
func (s *SQLiteStorage) UpsertThreadTracker(ctx context.Context, tracker *model.ThreadTracker) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := ValidateThreadTracker(tracker); err != nil {
		return err
	}
	if tracker.ID == "" {
		tracker.ID = uuid.NewString()
	}
	if tracker.SentAt.IsZero() {
		tracker.SentAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_trackers (id, user_id, thread_id, message_id, type, sent_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, thread_id, message_id) DO UPDATE SET
			type = excluded.type,
			sent_at = excluded.sent_at,
			resolved = excluded.resolved`,
		tracker.ID, tracker.UserID, tracker.ThreadID, tracker.MessageID,
		string(tracker.Type), tracker.SentAt.UTC(), tracker.Resolved)
	if err != nil {
		return fmt.Errorf("failed to save thread tracker: %w", err)
	}
	return nil
}

// ResolveThreadTrackers marks the thread's open trackers of the given type resolved and
// returns how many changed.
func (s *SQLiteStorage) ResolveThreadTrackers(ctx context.Context, userID, threadID string, trackerType model.ThreadTrackerType) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE thread_trackers SET resolved = 1
		WHERE user_id = ? AND thread_id = ? AND type = ? AND resolved = 0`,
		userID, threadID, string(trackerType))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve thread trackers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count resolved trackers: %w", err)
	}
	return n, nil
}

// OpenThreadTrackers lists the user's unresolved trackers of a type, oldest first.
func (s *SQLiteStorage) OpenThreadTrackers(ctx context.Context, userID string, trackerType model.ThreadTrackerType) ([]model.ThreadTracker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, thread_id, message_id, type, sent_at, resolved, created_at
		FROM thread_trackers
		WHERE user_id = ? AND type = ? AND resolved = 0
		ORDER BY sent_at`, userID, string(trackerType))
	if err != nil {
		return nil, fmt.Errorf("failed to query thread trackers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trackers []model.ThreadTracker
	for rows.Next() {
		var (
			t   model.ThreadTracker
			typ string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.ThreadID, &t.MessageID, &typ, &t.SentAt, &t.Resolved, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread tracker: %w", err)
		}
		t.Type = model.ThreadTrackerType(typ)
		trackers = append(trackers, t)
	}
	return trackers, rows.Err()
}
