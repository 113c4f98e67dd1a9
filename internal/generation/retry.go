package generation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RetrySummary reports how a bulk retry played out.
type RetrySummary struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// RetryOptions configures a bulk retry pass. Its concurrency is
// independent of the main batch's.
type RetryOptions struct {
	Concurrency int
	Timeout     time.Duration
	Prompt      PromptConfig
}

// RetryFailed reruns previously failed items through its own bounded
// queue. Each item keeps its original id so the result updates the
// existing record instead of duplicating it, and every result is
// persisted as it completes. Items whose recorded error marks invalid
// input are skipped: retrying them cannot succeed.
func (s *Scheduler) RetryFailed(ctx context.Context, items []WorkItem, priorErrs map[string]string, opts RetryOptions) (RetrySummary, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Prompt.TaskType == "" && opts.Prompt.SystemPrompt == "" {
		opts.Prompt = DefaultPrompt()
	}

	var (
		mu      sync.Mutex
		summary RetrySummary
	)

	runnable := make([]WorkItem, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(priorErrs[item.ID], "invalid input:") {
			summary.Skipped++
			slog.Info("skipping non-retryable item", "id", item.ID)
			continue
		}
		runnable = append(runnable, item)
	}
	summary.Attempted = len(runnable)

	// Status-only mark: the stored query and prior output must survive
	// until the rerun overwrites them with a fresh result.
	for _, item := range runnable {
		if s.sink != nil {
			if err := s.sink.MarkStatus(item.ID, string(StatusRetrying)); err != nil {
				slog.Error("marking item retrying failed", "id", item.ID, "error", err)
			}
		}
	}

	itemOpts := Options{
		Concurrency: opts.Concurrency,
		Timeout:     opts.Timeout,
		Prompt:      opts.Prompt,
	}
	itemOpts.normalize()
	s.tracker.Start(len(runnable))

	// Plain Group, not WithContext: one retry failing must not cancel
	// the rest.
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, item := range runnable {
		item := item
		g.Go(func() error {
			res := s.processItem(ctx, item, itemOpts)
			s.tracker.ItemFinished(string(res.Status))

			if s.sink != nil {
				if err := s.sink.UpdateByID(item.ID, res); err != nil {
					slog.Error("persisting retried result failed", "id", item.ID, "error", err)
				}
			}

			mu.Lock()
			if res.Status == StatusDone {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return summary, ctx.Err()
}
