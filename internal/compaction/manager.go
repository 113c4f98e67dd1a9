// Package compaction shrinks a conversation's message list so its token
// estimate fits a model's context budget before sending it.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mkurman/synthlabs-sub004/internal/llm"
)

// Strategy selects how messages are removed.
type Strategy string

const (
	StrategyNone           Strategy = "none"
	StrategyTruncateOld    Strategy = "truncate_old"
	StrategyTruncateMiddle Strategy = "truncate_middle"
	StrategySummarize      Strategy = "summarize"
)

// Summarizer condenses a serialized conversation into a short summary.
// Injected by the host; typically backed by an LLM call.
type Summarizer func(ctx context.Context, prompt string) (string, error)

// Config tunes when and how compaction happens.
type Config struct {
	Strategy Strategy
	// ContextLimit is the model's total context window in tokens.
	ContextLimit int
	// ResponseReserve is held back from the limit for the model's reply.
	ResponseReserve int
	// TriggerThreshold in (0,1]: compaction runs once usage reaches this
	// fraction of the available budget.
	TriggerThreshold float64
	// KeepRecentMessages is how many trailing messages survive
	// TruncateMiddle and Summarize.
	KeepRecentMessages int
	// SummarizePrompt prefixes the serialized history handed to the
	// summarizer.
	SummarizePrompt string
}

// Status reports the current budget position of a message list.
type Status struct {
	CurrentTokens   int
	MaxTokens       int
	UsagePercent    float64
	NeedsCompaction bool
}

// Result describes what compaction did.
type Result struct {
	Messages        []llm.Message
	WasCompacted    bool
	CompactionType  Strategy
	OriginalTokens  int
	FinalTokens     int
	RemovedMessages int
	Summary         string
}

// Manager applies a compaction strategy to conversations. Construct one per
// batch and inject it; there is no package-level default instance.
type Manager struct {
	cfg       Config
	summarize Summarizer
	logger    *slog.Logger
}

// New creates a Manager. summarize may be nil; the Summarize strategy then
// falls back to TruncateMiddle.
func New(cfg Config, summarize Summarizer) *Manager {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyNone
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 128000
	}
	if cfg.ResponseReserve < 0 {
		cfg.ResponseReserve = 0
	}
	if cfg.TriggerThreshold <= 0 || cfg.TriggerThreshold > 1 {
		cfg.TriggerThreshold = 0.8
	}
	if cfg.KeepRecentMessages < 2 {
		cfg.KeepRecentMessages = 4
	}
	return &Manager{cfg: cfg, summarize: summarize, logger: slog.Default()}
}

// EstimateTokens approximates the token count of a message list using the
// common chars/4 heuristic over the serialized form.
func EstimateTokens(messages []llm.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Role) + len(m.Content) + 8 // role/content framing
	}
	return chars / 4
}

// Status reports where the conversation sits against the budget.
func (m *Manager) Status(messages []llm.Message) Status {
	current := EstimateTokens(messages)
	max := m.cfg.ContextLimit - m.cfg.ResponseReserve
	if max < 1 {
		max = 1
	}
	usage := float64(current) / float64(max)
	return Status{
		CurrentTokens:   current,
		MaxTokens:       max,
		UsagePercent:    usage,
		NeedsCompaction: usage >= m.cfg.TriggerThreshold,
	}
}

// Compact applies the configured strategy. It is a no-op when the
// conversation is under budget or the strategy is None. Summarization
// failures degrade to TruncateMiddle and are never returned as errors.
func (m *Manager) Compact(ctx context.Context, messages []llm.Message) Result {
	st := m.Status(messages)
	res := Result{
		Messages:       messages,
		CompactionType: m.cfg.Strategy,
		OriginalTokens: st.CurrentTokens,
		FinalTokens:    st.CurrentTokens,
	}

	if !st.NeedsCompaction || m.cfg.Strategy == StrategyNone {
		res.CompactionType = StrategyNone
		return res
	}

	var kept []llm.Message
	switch m.cfg.Strategy {
	case StrategyTruncateOld:
		kept = m.truncateOld(messages, st)
	case StrategyTruncateMiddle:
		kept = m.truncateMiddle(messages, st)
	case StrategySummarize:
		var summary string
		kept, summary = m.summarizeHistory(ctx, messages, st)
		if summary != "" {
			res.Summary = summary
		} else {
			res.CompactionType = StrategyTruncateMiddle
		}
	default:
		return res
	}

	res.Messages = kept
	res.WasCompacted = len(kept) != len(messages) || res.Summary != ""
	res.FinalTokens = EstimateTokens(kept)
	res.RemovedMessages = len(messages) - len(kept)
	if res.RemovedMessages < 0 {
		res.RemovedMessages = 0
	}
	return res
}

// truncateOld walks newest to oldest, keeping messages until the target
// budget would be exceeded, then drops the remainder. Chronological order is
// preserved among the kept messages.
func (m *Manager) truncateOld(messages []llm.Message, st Status) []llm.Message {
	target := int(float64(st.MaxTokens) * m.cfg.TriggerThreshold * 0.8)

	total := 0
	keepFrom := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := EstimateTokens(messages[i : i+1])
		if total+cost > target && keepFrom < len(messages) {
			break
		}
		total += cost
		keepFrom = i
	}
	return messages[keepFrom:]
}

// truncateMiddle keeps the first message (assumed system/context) plus the
// most recent ones, shrinking the recent window by x0.7 down to a floor of 2
// while still over budget.
func (m *Manager) truncateMiddle(messages []llm.Message, st Status) []llm.Message {
	keep := m.cfg.KeepRecentMessages
	for {
		kept := headPlusTail(messages, keep)
		if EstimateTokens(kept) <= st.MaxTokens || keep <= 2 {
			return kept
		}
		next := int(float64(keep) * 0.7)
		if next < 2 {
			next = 2
		}
		if next == keep {
			return kept
		}
		keep = next
	}
}

func headPlusTail(messages []llm.Message, keepRecent int) []llm.Message {
	if len(messages) <= keepRecent+1 {
		return messages
	}
	kept := make([]llm.Message, 0, keepRecent+1)
	kept = append(kept, messages[0])
	kept = append(kept, messages[len(messages)-keepRecent:]...)
	return kept
}

// summarizeHistory replaces all but the last KeepRecentMessages with one
// synthetic message holding the summary. On any failure it logs and returns
// the TruncateMiddle result with an empty summary.
func (m *Manager) summarizeHistory(ctx context.Context, messages []llm.Message, st Status) ([]llm.Message, string) {
	keep := m.cfg.KeepRecentMessages
	if m.summarize == nil || len(messages) <= keep {
		return m.truncateMiddle(messages, st), ""
	}

	old := messages[:len(messages)-keep]
	var b strings.Builder
	if m.cfg.SummarizePrompt != "" {
		b.WriteString(m.cfg.SummarizePrompt)
		b.WriteString("\n\n")
	}
	for _, msg := range old {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	summary, err := m.summarize(ctx, b.String())
	if err != nil {
		m.logger.Warn("summarization failed, falling back to truncate_middle", "error", err)
		return m.truncateMiddle(messages, st), ""
	}

	kept := make([]llm.Message, 0, keep+1)
	kept = append(kept, llm.Message{
		Role:    "system",
		Content: "Summary of earlier conversation: " + summary,
	})
	kept = append(kept, messages[len(messages)-keep:]...)
	return kept, summary
}
