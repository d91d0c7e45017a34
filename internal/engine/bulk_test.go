package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

func TestBulkRunner_Run(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()
	bulk := NewBulkRunner(f.runner)

	rules := []model.Rule{staticRule("r1", "Receipts", "receipt")}
	var messages []model.Message
	for i := 0; i < 20; i++ {
		subject := "hello"
		if i%2 == 0 {
			subject = "receipt"
		}
		messages = append(messages, testMessage(fmt.Sprintf("m%d", i), "a@b.com", subject, ""))
	}
	// A message without an id fails on its own.
	messages = append(messages, model.Message{})

	var seen int
	opts := DefaultBulkOptions()
	opts.ParallelWorkers = 4
	opts.Retry = service.RetryOptions{MaxAttempts: 1}
	opts.OnResult = func(BulkResult) { seen++ }

	results, stats := bulk.Run(ctx, testUser(), rules, messages, opts)

	require.Len(t, results, len(messages))
	assert.Equal(t, len(messages), seen)
	assert.Equal(t, 21, stats.Total)
	assert.Equal(t, 10, stats.Matched)
	assert.Equal(t, 10, stats.NoMatch)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 20, f.store.decisionCount())

	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.ErrorIs(t, results[20].Err, common.ErrInvalidMsg)

	// A second pass only finds existing decisions.
	_, stats = bulk.Run(ctx, testUser(), rules, messages[:20], opts)
	assert.Equal(t, 20, stats.Existing)
}

func TestBulkRunner_RetriesRetryableErrors(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture()
	f.chooser.Err = &common.RetryableError{Err: errBoom, Retryable: true}
	bulk := NewBulkRunner(f.runner)

	opts := DefaultBulkOptions()
	opts.ParallelWorkers = 1
	opts.Retry = service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	results, stats := bulk.Run(ctx, testUser(), []model.Rule{aiRule("r1", "Any", "anything")},
		[]model.Message{testMessage("m1", "a@b.com", "hi", "")}, opts)

	assert.Equal(t, 1, stats.Failed)
	require.ErrorIs(t, results[0].Err, common.ErrMaxRetries)
	assert.Equal(t, 3, f.chooser.CallCount())
}
