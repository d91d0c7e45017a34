package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// BulkOptions configures a bulk run.
type BulkOptions struct {
	// OnResult is called once per message as results arrive, from a single goroutine.
	OnResult        func(BulkResult)
	Retry           service.RetryOptions
	ParallelWorkers int
	IsTest          bool
	Rerun           bool
}

// DefaultBulkOptions returns the default bulk configuration.
func DefaultBulkOptions() BulkOptions {
	return BulkOptions{
		ParallelWorkers: 4,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// BulkResult is the outcome for one message of a bulk run.
type BulkResult struct {
	Err     error
	Message model.Message
	Result  RunRulesResult
	Index   int
}

// BulkRunner evaluates many messages for one user concurrently.
type BulkRunner struct {
	runner *Runner
	logger *slog.Logger
}

// NewBulkRunner wraps a runner.
func NewBulkRunner(runner *Runner) *BulkRunner {
	return &BulkRunner{
		runner: runner,
		logger: slog.Default().With("component", "bulk-runner"),
	}
}

// Run evaluates every message. A failing message never stops the others; its error is
// reported in its BulkResult. Results are returned in input order.
func (b *BulkRunner) Run(ctx context.Context, user model.User, rules []model.Rule, messages []model.Message, opts BulkOptions) ([]BulkResult, service.CompletionStats) {
	start := time.Now()
	if opts.ParallelWorkers <= 0 {
		opts.ParallelWorkers = 1
	}

	workChan := make(chan int, len(messages))
	for i := range messages {
		workChan <- i
	}
	close(workChan)

	resultsChan := make(chan BulkResult, len(messages))

	var wg sync.WaitGroup
	wg.Add(opts.ParallelWorkers)
	for i := 0; i < opts.ParallelWorkers; i++ {
		go func(workerID int) {
			defer wg.Done()
			b.worker(ctx, workerID, workChan, resultsChan, user, rules, messages, opts)
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]BulkResult, len(messages))
	stats := service.CompletionStats{Total: len(messages)}
	seen := make([]bool, len(messages))
	for result := range resultsChan {
		results[result.Index] = result
		seen[result.Index] = true
		tally(&stats, result)
		if opts.OnResult != nil {
			opts.OnResult(result)
		}
	}

	// Messages never picked up because the context ended.
	for i := range messages {
		if !seen[i] {
			results[i] = BulkResult{Index: i, Message: messages[i], Err: ctx.Err()}
			stats.Failed++
		}
	}

	stats.Duration = time.Since(start)
	b.logger.Info("Bulk run complete",
		"total", stats.Total,
		"matched", stats.Matched,
		"no_match", stats.NoMatch,
		"existing", stats.Existing,
		"failed", stats.Failed,
		"duration", stats.Duration)

	return results, stats
}

func (b *BulkRunner) worker(
	ctx context.Context,
	workerID int,
	workChan <-chan int,
	resultsChan chan<- BulkResult,
	user model.User,
	rules []model.Rule,
	messages []model.Message,
	opts BulkOptions,
) {
	for idx := range workChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := messages[idx]
		var result RunRulesResult
		err := common.WithRetry(ctx, func() error {
			var runErr error
			result, runErr = b.runner.RunRules(ctx, RunRequest{
				User:    user,
				Message: msg,
				Rules:   rules,
				IsTest:  opts.IsTest,
				Rerun:   opts.Rerun,
			})
			if runErr != nil && !common.IsRetryable(runErr) {
				return common.Permanent(runErr)
			}
			return runErr
		}, opts.Retry)

		if err != nil {
			b.logger.Error("Failed to run rules",
				"worker_id", workerID,
				"message_id", msg.ID,
				"error", err)
		}
		resultsChan <- BulkResult{Index: idx, Message: msg, Result: result, Err: err}
	}
}

func tally(stats *service.CompletionStats, result BulkResult) {
	switch {
	case result.Err != nil:
		stats.Failed++
	case result.Result.Existing:
		stats.Existing++
	case result.Result.Rule != nil:
		stats.Matched++
	default:
		stats.NoMatch++
	}
}
