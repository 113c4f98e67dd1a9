package generation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkurman/synthlabs-sub004/internal/compaction"
	"github.com/mkurman/synthlabs-sub004/internal/events"
	"github.com/mkurman/synthlabs-sub004/internal/extract"
	"github.com/mkurman/synthlabs-sub004/internal/llm"
)

const pausePollInterval = 200 * time.Millisecond

// Options configures one batch run.
type Options struct {
	Concurrency int
	// SleepBetween inserts a fixed pause after each item on a worker.
	SleepBetween time.Duration
	// Timeout bounds a single item's model call. Expiry cancels only the
	// item, classified as Timeout.
	Timeout time.Duration
	Prompt  PromptConfig
	// FollowUps are additional user messages sent as further assistant
	// turns after the first. Empty means single-turn.
	FollowUps []string
	// Compactor shrinks the conversation before each call when set.
	Compactor *compaction.Manager
	// Total is the expected item count, used for progress reporting.
	Total int
}

func (o *Options) normalize() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.Prompt.TaskType == "" && o.Prompt.SystemPrompt == "" {
		o.Prompt = DefaultPrompt()
	}
}

// Scheduler runs a bounded pool of workers over a work source, streaming
// each item's model call through the extraction state machine and
// classifying failures per item.
type Scheduler struct {
	caller  Caller
	sink    Sink
	bus     *events.Bus
	tracker *events.Tracker
	paused  atomic.Bool
}

// NewScheduler wires a scheduler. Sink, bus and tracker may be nil; a nil
// tracker gets a private one so progress accounting always works.
func NewScheduler(caller Caller, sink Sink, bus *events.Bus, tracker *events.Tracker) *Scheduler {
	if tracker == nil {
		tracker = events.NewTracker(bus)
	}
	return &Scheduler{caller: caller, sink: sink, bus: bus, tracker: tracker}
}

// Pause makes workers hold before pulling their next item. In-flight
// calls finish normally.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume lifts a pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Paused reports whether the pool is holding.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Tracker exposes the progress tracker for status surfaces.
func (s *Scheduler) Tracker() *events.Tracker { return s.tracker }

// Run processes the source with opts.Concurrency workers and returns a
// channel of results, closed when the pool drains. Cancelling ctx aborts
// the whole batch; one item's failure never stops the others.
func (s *Scheduler) Run(ctx context.Context, source WorkSource, opts Options) <-chan Result {
	opts.normalize()
	s.tracker.Start(opts.Total)

	results := make(chan Result, opts.Concurrency)

	var g errgroup.Group
	for i := 0; i < opts.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			s.runWorker(ctx, worker, source, opts, results)
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()
	return results
}

func (s *Scheduler) runWorker(ctx context.Context, worker int, source WorkSource, opts Options, results chan<- Result) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !s.waitWhilePaused(ctx) {
			return
		}

		item, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A source failure (fetch error, malformed row) costs only
			// this item; the pool keeps going.
			res := s.sourceFailure(err, opts)
			s.finishItem(ctx, res, results)
			continue
		}
		if item == nil {
			return
		}

		slog.Debug("worker picked up item", "worker", worker, "id", item.ID, "seq", item.Seq)
		res := s.processItem(ctx, *item, opts)
		s.finishItem(ctx, res, results)

		if opts.SleepBetween > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.SleepBetween):
			}
		}
	}
}

// waitWhilePaused polls the pause flag. Returns false if the batch was
// cancelled while holding.
func (s *Scheduler) waitWhilePaused(ctx context.Context) bool {
	for s.paused.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pausePollInterval):
		}
	}
	return true
}

func (s *Scheduler) sourceFailure(err error, opts Options) Result {
	s.tracker.ItemStarted()
	status, msg := Classify(err, opts.Timeout)
	return Result{
		ID:     uuid.New().String(),
		Seq:    -1,
		Status: status,
		Err:    msg,
	}
}

func (s *Scheduler) finishItem(ctx context.Context, res Result, results chan<- Result) {
	if s.sink != nil {
		if err := s.sink.Append(res); err != nil {
			slog.Error("persisting result failed", "id", res.ID, "error", err)
		}
	}
	s.tracker.ItemFinished(string(res.Status))
	s.bus.Publish(events.Event{Type: events.TypeItem, Item: &events.ItemUpdate{
		ID:       res.ID,
		Status:   string(res.Status),
		Message:  res.Err,
		Duration: res.Duration,
	}})
	select {
	case results <- res:
	case <-ctx.Done():
	}
}

// processItem drives one item through its model call(s). The item gets its
// own deadline chained to the batch context, so a batch abort cancels it
// but its timeout never touches siblings.
func (s *Scheduler) processItem(ctx context.Context, item WorkItem, opts Options) Result {
	s.tracker.ItemStarted()
	start := time.Now()

	itemCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	userMsg := opts.Prompt.RenderUser(item)
	totalTurns := 1 + len(opts.FollowUps)

	ex := extract.New(extract.Options{
		Mode:          opts.Prompt.Mode,
		OpenTag:       opts.Prompt.OpenTag,
		CloseTag:      opts.Prompt.CloseTag,
		WantReasoning: opts.Prompt.WantReasoning,
		WantAnswer:    opts.Prompt.WantAnswer,
		TotalMessages: totalTurns,
	})
	// Streaming state never outlives the item, whatever the outcome.
	defer ex.Reset()
	ex.SetUserMessage(userMsg)

	messages := s.assembleMessages(item, opts, userMsg)

	var tokenCount int
	for turn := 0; turn < totalTurns; turn++ {
		if opts.Compactor != nil {
			compacted := opts.Compactor.Compact(itemCtx, messages)
			if compacted.WasCompacted {
				slog.Debug("compacted conversation",
					"id", item.ID,
					"strategy", compacted.CompactionType,
					"removed", compacted.RemovedMessages)
			}
			messages = compacted.Messages
		}

		onChunk := func(_, accumulated string, _ *llm.Usage) bool {
			stop := ex.Feed(accumulated)
			snap := ex.Snapshot()
			s.bus.Publish(events.Event{Type: events.TypeStream, Stream: &snap})
			return stop
		}

		completion, err := s.caller.Invoke(itemCtx, messages, onChunk)
		if err != nil {
			ex.Fail()
			status, msg := Classify(err, opts.Timeout)
			return Result{
				ID:       item.ID,
				Seq:      item.Seq,
				Status:   status,
				Query:    userMsg,
				Err:      msg,
				Duration: time.Since(start),
			}
		}
		if completion.Usage != nil {
			tokenCount += completion.Usage.TotalTokens
		}

		ex.Feed(completion.Content)
		ex.Finalize()

		if turn < len(opts.FollowUps) {
			next := opts.FollowUps[turn]
			ex.FinishTurn(next)
			messages = append(messages,
				llm.Message{Role: "assistant", Content: completion.Content},
				llm.Message{Role: "user", Content: next},
			)
		}
	}

	reasoning, answer, _ := ex.Result()
	var turns []extract.Turn
	if totalTurns > 1 {
		// Fold the final assistant turn into the completed list.
		ex.FinishTurn("")
		_, _, turns = ex.Result()
	}
	return Result{
		ID:         item.ID,
		Seq:        item.Seq,
		Status:     StatusDone,
		Query:      userMsg,
		Reasoning:  reasoning,
		Answer:     answer,
		Turns:      turns,
		Duration:   time.Since(start),
		TokenCount: tokenCount,
	}
}

// assembleMessages builds the outgoing conversation. Messages rows are
// continued in place; everything else gets system + rendered user.
func (s *Scheduler) assembleMessages(item WorkItem, opts Options, userMsg string) []llm.Message {
	if item.Row != nil && item.Row.Kind == RowKindMessages {
		msgs := make([]llm.Message, 0, len(item.Row.Messages)+1)
		if len(item.Row.Messages) == 0 || item.Row.Messages[0].Role != "system" {
			if opts.Prompt.SystemPrompt != "" {
				msgs = append(msgs, llm.Message{Role: "system", Content: opts.Prompt.SystemPrompt})
			}
		}
		return append(msgs, item.Row.Messages...)
	}

	msgs := make([]llm.Message, 0, 2)
	if opts.Prompt.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: opts.Prompt.SystemPrompt})
	}
	return append(msgs, llm.Message{Role: "user", Content: userMsg})
}
