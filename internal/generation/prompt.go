package generation

import (
	"fmt"
	"strings"

	"github.com/mkurman/synthlabs-sub004/internal/extract"
)

// PromptConfig is the per-batch prompt configuration. The Auto-Router may
// swap it for a task-specific one before the batch starts.
type PromptConfig struct {
	TaskType     string
	SystemPrompt string
	// UserTemplate builds the user prompt; {{content}} expands to the
	// item's seed content, and {{field}} to string fields of record rows.
	UserTemplate  string
	Mode          extract.Mode
	OpenTag       string
	CloseTag      string
	WantReasoning bool
	WantAnswer    bool
}

// RenderUser expands the user template for one work item.
func (p PromptConfig) RenderUser(item WorkItem) string {
	if p.UserTemplate == "" {
		return item.Content
	}
	out := strings.ReplaceAll(p.UserTemplate, "{{content}}", item.Content)
	if item.Row != nil && item.Row.Kind == RowKindRecord {
		for key, val := range item.Row.Record {
			placeholder := "{{" + key + "}}"
			if !strings.Contains(out, placeholder) {
				continue
			}
			out = strings.ReplaceAll(out, placeholder, fmt.Sprintf("%v", val))
		}
	}
	return out
}

// DefaultPrompt is the fallback configuration when no task type is
// selected.
func DefaultPrompt() PromptConfig {
	return PromptConfig{
		TaskType: "general",
		SystemPrompt: "You are a helpful assistant. Think through the problem inside " +
			"<think></think> tags, then give your final answer.",
		UserTemplate:  "{{content}}",
		Mode:          extract.ModeNative,
		WantReasoning: true,
		WantAnswer:    true,
	}
}

// TaskPrompts maps auto-router task types onto prompt configurations.
func TaskPrompts() map[string]PromptConfig {
	base := DefaultPrompt()

	math := base
	math.TaskType = "math"
	math.SystemPrompt = "You are a careful mathematician. Work through the problem " +
		"step by step inside <think></think> tags, checking each step, then state " +
		"the final answer clearly."

	code := base
	code.TaskType = "code"
	code.SystemPrompt = "You are an expert programmer. Reason about the approach " +
		"inside <think></think> tags, then provide working code as the answer."

	qa := base
	qa.TaskType = "qa"
	qa.SystemPrompt = "You are a precise research assistant. Consider the question " +
		"inside <think></think> tags, then answer concisely and factually."

	return map[string]PromptConfig{
		"math": math,
		"code": code,
		"qa":   qa,
	}
}
