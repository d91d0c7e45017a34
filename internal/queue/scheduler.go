package queue

import (
	"context"
	"strings"
)

// EventPublisher publishes a JSON payload under a routing key.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// OnceGuard admits a key once per window.
type OnceGuard interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
}

// SenderScheduler publishes sender-analysis jobs, at most once per (user, sender)
// per dedup window when a guard is configured.
type SenderScheduler struct {
	publisher EventPublisher
	guard     OnceGuard
}

// NewSenderScheduler creates a scheduler. guard may be nil.
func NewSenderScheduler(publisher EventPublisher, guard OnceGuard) *SenderScheduler {
	return &SenderScheduler{publisher: publisher, guard: guard}
}

// Schedule implements service.SenderPatternScheduler.
func (s *SenderScheduler) Schedule(ctx context.Context, userID, sender string) error {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return nil
	}
	if s.guard != nil && !s.guard.AcquireOnce(ctx, RoutingSenderAnalyze, userID+":"+sender) {
		return nil
	}
	return s.publisher.Publish(ctx, RoutingSenderAnalyze, SenderAnalysis{UserID: userID, Sender: sender})
}
