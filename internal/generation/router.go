package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mkurman/synthlabs-sub004/internal/llm"
)

// Vote is one classifier opinion about a sample item.
type Vote struct {
	TaskType   string
	Confidence float64
}

// TaskUnknown is the vote a classifier casts when it cannot tell.
const TaskUnknown = "unknown"

// Classifier labels sample content with a task type and a confidence in
// [0, 1]. Classification errors must degrade to an unknown vote, never
// propagate.
type Classifier interface {
	Classify(ctx context.Context, content string) Vote
}

// HeuristicClassifier pattern-matches content against task signatures.
// Cheap and offline; the default when no LLM classifier is configured.
type HeuristicClassifier struct{}

var (
	mathPattern = regexp.MustCompile(`(?i)\b(solve|equation|integral|derivative|theorem|prove|calculate|fraction|polynomial)\b|[=+\-*/^]\s*\d|\d\s*[=+\-*/^]`)
	codePattern = regexp.MustCompile(`(?i)\b(func|def|class|import|return|implement|function|compile|debug|algorithm)\b|\{|\}|;`)
	qaPattern   = regexp.MustCompile(`(?i)^\s*(what|who|when|where|why|how|which|is|are|does|did|can)\b.*\?`)
)

func (HeuristicClassifier) Classify(_ context.Context, content string) Vote {
	type scored struct {
		task  string
		score float64
	}
	scores := []scored{
		{"math", patternScore(mathPattern, content)},
		{"code", patternScore(codePattern, content)},
		{"qa", patternScore(qaPattern, content)},
	}
	best := scored{task: TaskUnknown}
	for _, s := range scores {
		if s.score > best.score {
			best = s
		}
	}
	if best.score == 0 {
		return Vote{TaskType: TaskUnknown}
	}
	return Vote{TaskType: best.task, Confidence: best.score}
}

func patternScore(re *regexp.Regexp, content string) float64 {
	matches := len(re.FindAllStringIndex(content, 4))
	switch {
	case matches >= 3:
		return 0.9
	case matches == 2:
		return 0.7
	case matches == 1:
		return 0.5
	default:
		return 0
	}
}

// LLMClassifier asks the model itself to label the sample. Failures of
// any kind degrade to an unknown vote with a warning.
type LLMClassifier struct {
	Caller Caller
	Model  string
	Tasks  []string
}

const classifierSystemPrompt = "You classify text into a task type. Respond with a JSON " +
	"object {\"task_type\": string, \"confidence\": number between 0 and 1} and nothing else."

func (c *LLMClassifier) Classify(ctx context.Context, content string) Vote {
	tasks := c.Tasks
	if len(tasks) == 0 {
		tasks = []string{"math", "code", "qa"}
	}
	user := fmt.Sprintf("Task types: %s. Classify this text:\n\n%s",
		strings.Join(tasks, ", "), content)

	completion, err := c.Caller.Invoke(ctx, []llm.Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: user},
	}, nil)
	if err != nil {
		slog.Warn("classifier call failed, voting unknown", "error", err)
		return Vote{TaskType: TaskUnknown}
	}

	var parsed struct {
		TaskType   string  `json:"task_type"`
		Confidence float64 `json:"confidence"`
	}
	text := strings.TrimSpace(completion.Content)
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		slog.Warn("classifier returned unparseable response, voting unknown", "error", err)
		return Vote{TaskType: TaskUnknown}
	}
	if parsed.TaskType == "" {
		return Vote{TaskType: TaskUnknown}
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return Vote{TaskType: parsed.TaskType, Confidence: parsed.Confidence}
}

// Router picks a prompt configuration for a batch by sampling a few items
// and classifying them before any worker starts.
type Router struct {
	Classifier Classifier
	Prompts    map[string]PromptConfig
	// Threshold is the minimum average confidence among winning votes.
	Threshold  float64
	SampleSize int
}

// NewRouter builds a router with heuristic classification and the stock
// task prompts.
func NewRouter() *Router {
	return &Router{
		Classifier: HeuristicClassifier{},
		Prompts:    TaskPrompts(),
		Threshold:  0.6,
		SampleSize: 5,
	}
}

// Route classifies the sample and returns the prompt configuration to use.
// The winner is the task type with the highest summed confidence; it is
// adopted only when the average confidence of its own votes clears the
// threshold. Otherwise the fallback comes back unmodified.
func (r *Router) Route(ctx context.Context, samples []WorkItem, fallback PromptConfig) PromptConfig {
	n := r.SampleSize
	if n <= 0 {
		n = 5
	}
	if len(samples) > n {
		samples = samples[:n]
	}
	if len(samples) == 0 {
		return fallback
	}

	votes := make([]Vote, 0, len(samples))
	for _, item := range samples {
		votes = append(votes, r.Classifier.Classify(ctx, item.Content))
	}

	winner, avg := tally(votes)
	if winner == TaskUnknown || avg < r.Threshold {
		slog.Debug("auto-route kept default prompt", "winner", winner, "avg_confidence", avg)
		return fallback
	}
	cfg, ok := r.Prompts[winner]
	if !ok {
		slog.Debug("auto-route winner has no prompt mapping", "winner", winner)
		return fallback
	}
	slog.Info("auto-routed batch", "task_type", winner, "avg_confidence", avg)
	return cfg
}

// tally picks the task type with the highest summed confidence and
// returns the average confidence among only that type's votes.
func tally(votes []Vote) (winner string, avg float64) {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, v := range votes {
		sums[v.TaskType] += v.Confidence
		counts[v.TaskType]++
	}

	winner = TaskUnknown
	best := -1.0
	for task, sum := range sums {
		if task == TaskUnknown {
			continue
		}
		if sum > best {
			best = sum
			winner = task
		}
	}
	if winner == TaskUnknown {
		return winner, 0
	}
	return winner, sums[winner] / float64(counts[winner])
}
