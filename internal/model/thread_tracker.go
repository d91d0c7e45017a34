package model

import "time"

// ThreadTrackerType records what a thread is waiting on.
type ThreadTrackerType string

// Thread tracker type constants.
const (
	TrackerAwaiting    ThreadTrackerType = "AWAITING"
	TrackerNeedsReply  ThreadTrackerType = "NEEDS_REPLY"
	TrackerNeedsAction ThreadTrackerType = "NEEDS_ACTION"
)

// ThreadTracker marks a thread as needing a reply or awaiting one.
type ThreadTracker struct {
	SentAt    time.Time
	CreatedAt time.Time
	ID        string
	UserID    string
	ThreadID  string
	MessageID string
	Type      ThreadTrackerType
	Resolved  bool
}
