// Package extract incrementally parses partial LLM output into named
// reasoning and answer fields, without waiting for stream completion.
package extract

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Phase is the state of the extraction machine for the current message.
type Phase string

const (
	PhaseWaiting         Phase = "waiting_for_response"
	PhaseReasoning       Phase = "extracting_reasoning"
	PhaseAnswer          Phase = "extracting_answer"
	PhaseMessageComplete Phase = "message_complete"
	PhaseComplete        Phase = "complete"
	PhaseError           Phase = "error"
)

// Mode selects the extraction strategy.
type Mode string

const (
	// ModeNative scans for explicit open/close delimiter markers
	// (reasoning-model style, e.g. <think>...</think>).
	ModeNative Mode = "native"
	// ModeField treats the accumulated text as a partially built JSON
	// object and extracts named fields best-effort.
	ModeField Mode = "field"
)

const (
	defaultOpenTag  = "<think>"
	defaultCloseTag = "</think>"
)

// Options configures an Extractor for one model call.
type Options struct {
	Mode              Mode
	OpenTag, CloseTag string
	// WantReasoning/WantAnswer gate which fields are extracted. When only
	// reasoning is wanted, Feed signals early stream stop the instant the
	// reasoning close marker appears. Leaving both false means both.
	WantReasoning bool
	WantAnswer    bool
	// TotalMessages > 1 enables multi-turn mode.
	TotalMessages int
}

// Turn is one completed assistant turn in multi-turn mode.
type Turn struct {
	User      string `json:"user"`
	Reasoning string `json:"reasoning"`
	Answer    string `json:"answer"`
}

// State is an observable snapshot of the extractor.
type State struct {
	ID            string `json:"id"`
	Phase         Phase  `json:"phase"`
	MessageIndex  int    `json:"message_index"`
	TotalMessages int    `json:"total_messages"`
	UserMessage   string `json:"user_message,omitempty"`
	Reasoning     string `json:"reasoning"`
	Answer        string `json:"answer"`
	Raw           string `json:"raw"`
	SinglePrompt  bool   `json:"single_prompt"`
}

// Extractor drives incremental field extraction for a single model call.
// Feed is safe to call from the streaming goroutine while Snapshot is read
// elsewhere.
type Extractor struct {
	mu        sync.Mutex
	id        string
	opts      Options
	phase     Phase
	msgIndex  int
	completed []Turn
	user      string
	reasoning string
	answer    string
	raw       string
	sawOpen   bool
}

// New creates an Extractor. Zero-value Options select native mode with the
// default think tags, both fields wanted, single-turn.
func New(opts Options) *Extractor {
	if opts.Mode == "" {
		opts.Mode = ModeNative
	}
	if opts.OpenTag == "" {
		opts.OpenTag = defaultOpenTag
	}
	if opts.CloseTag == "" {
		opts.CloseTag = defaultCloseTag
	}
	if !opts.WantReasoning && !opts.WantAnswer {
		opts.WantReasoning = true
		opts.WantAnswer = true
	}
	if opts.TotalMessages < 1 {
		opts.TotalMessages = 1
	}
	return &Extractor{
		id:    uuid.New().String(),
		opts:  opts,
		phase: PhaseWaiting,
	}
}

// ID returns the stable identifier for this extraction.
func (e *Extractor) ID() string { return e.id }

// SetUserMessage records the user message the current turn answers.
func (e *Extractor) SetUserMessage(msg string) {
	e.mu.Lock()
	e.user = msg
	e.mu.Unlock()
}

// Feed re-derives the extracted fields from the full accumulated text.
// It returns true when the stream should stop early: the reasoning close
// marker has appeared and the caller asked for reasoning only.
func (e *Extractor) Feed(accumulated string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case PhaseComplete, PhaseMessageComplete, PhaseError:
		return false
	}

	e.raw = accumulated
	if e.opts.Mode == ModeField {
		return e.feedField()
	}
	return e.feedNative()
}

// feedNative splits the accumulated text on the open/close markers. The open
// marker is only honored at the start of the message (after whitespace);
// text that begins any other way is treated as answer-only, which keeps
// phase transitions monotonic as chunks arrive.
func (e *Extractor) feedNative() bool {
	text := strings.TrimLeft(e.raw, " \t\r\n")
	if text == "" {
		e.phase = PhaseWaiting
		return false
	}

	if !strings.HasPrefix(text, e.opts.OpenTag) {
		if isPrefixOf(text, e.opts.OpenTag) {
			// Could still become the open marker; keep waiting.
			e.phase = PhaseWaiting
			return false
		}
		// No markers: the entire text is the answer.
		if e.opts.WantAnswer {
			e.answer = text
		}
		e.phase = PhaseAnswer
		return false
	}

	e.sawOpen = true
	rest := text[len(e.opts.OpenTag):]
	closeIdx := strings.Index(rest, e.opts.CloseTag)
	if closeIdx < 0 {
		if e.opts.WantReasoning {
			e.reasoning = rest
		}
		e.phase = PhaseReasoning
		return false
	}

	if e.opts.WantReasoning {
		e.reasoning = rest[:closeIdx]
	}
	if !e.opts.WantAnswer {
		// Reasoning-only call: no need to read further tokens.
		e.phase = PhaseAnswer
		return true
	}
	e.answer = strings.TrimLeft(rest[closeIdx+len(e.opts.CloseTag):], " \t\r\n")
	e.phase = PhaseAnswer
	return false
}

// feedField extracts "reasoning" and "answer" from a partially built JSON
// object, returning whatever has been completed (or started) so far.
func (e *Extractor) feedField() bool {
	if strings.TrimSpace(e.raw) == "" {
		e.phase = PhaseWaiting
		return false
	}

	reasoning, reasoningClosed, reasoningFound := fieldValue(e.raw, "reasoning")
	answer, _, answerFound := fieldValue(e.raw, "answer")

	if e.opts.WantReasoning && reasoningFound {
		e.reasoning = reasoning
	}
	if e.opts.WantAnswer && answerFound {
		e.answer = answer
	}

	switch {
	case answerFound:
		e.phase = PhaseAnswer
	case reasoningFound:
		e.phase = PhaseReasoning
	default:
		e.phase = PhaseWaiting
	}

	if !e.opts.WantAnswer && reasoningFound && reasoningClosed {
		e.phase = PhaseAnswer
		return true
	}
	return false
}

// fieldValue scans raw for a JSON string field. When raw parses as complete
// JSON the value comes from gjson; otherwise a best-effort scan returns the
// partial value streamed so far. closed reports whether the value's closing
// quote has appeared.
func fieldValue(raw, name string) (value string, closed, found bool) {
	if gjson.Valid(raw) {
		res := gjson.Get(raw, name)
		if res.Exists() {
			return res.String(), true, true
		}
		return "", false, false
	}

	marker := `"` + name + `"`
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false, false
	}
	rest := raw[idx+len(marker):]
	rest = strings.TrimLeft(rest, " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return "", false, false
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return "", false, false
	}
	rest = rest[1:]

	var b strings.Builder
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '\\' && i+1 < len(rest) {
			b.WriteByte(unescapeByte(rest[i+1]))
			i++
			continue
		}
		if c == '"' {
			return b.String(), true, true
		}
		b.WriteByte(c)
	}
	return b.String(), false, true
}

func unescapeByte(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

// isPrefixOf reports whether s is a proper prefix of full.
func isPrefixOf(s, full string) bool {
	return len(s) < len(full) && strings.HasPrefix(full, s)
}

// Finalize resolves the current message once its stream has ended. With no
// markers seen in native mode, the whole text becomes the answer.
func (e *Extractor) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseError {
		return
	}

	if e.opts.Mode == ModeNative && !e.sawOpen && e.opts.WantAnswer {
		e.answer = strings.TrimSpace(e.raw)
	}

	if e.msgIndex+1 >= e.opts.TotalMessages {
		e.phase = PhaseComplete
	} else {
		e.phase = PhaseMessageComplete
	}
}

// FinishTurn appends the completed assistant turn, advances to the next
// message, sets its user message, and clears the accumulators.
func (e *Extractor) FinishTurn(nextUserMessage string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.completed = append(e.completed, Turn{User: e.user, Reasoning: e.reasoning, Answer: e.answer})
	e.msgIndex++
	e.user = nextUserMessage
	e.reasoning = ""
	e.answer = ""
	e.raw = ""
	e.sawOpen = false
	if e.msgIndex >= e.opts.TotalMessages {
		e.phase = PhaseMessageComplete
	} else {
		e.phase = PhaseWaiting
	}
}

// Fail moves the machine to the error phase. Reachable from any state.
func (e *Extractor) Fail() {
	e.mu.Lock()
	e.phase = PhaseError
	e.mu.Unlock()
}

// Result returns the extracted fields and any completed turns.
func (e *Extractor) Result() (reasoning, answer string, turns []Turn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	turns = make([]Turn, len(e.completed))
	copy(turns, e.completed)
	return e.reasoning, e.answer, turns
}

// Snapshot returns a copy of the current state for observability.
func (e *Extractor) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		ID:            e.id,
		Phase:         e.phase,
		MessageIndex:  e.msgIndex,
		TotalMessages: e.opts.TotalMessages,
		UserMessage:   e.user,
		Reasoning:     e.reasoning,
		Answer:        e.answer,
		Raw:           e.raw,
		SinglePrompt:  e.opts.TotalMessages <= 1,
	}
}

// Reset clears all streaming state. Callers defer it so cleanup runs on
// every completion path: done, error, timeout, or abort.
func (e *Extractor) Reset() {
	e.mu.Lock()
	e.msgIndex = 0
	e.completed = nil
	e.user = ""
	e.reasoning = ""
	e.answer = ""
	e.raw = ""
	e.sawOpen = false
	e.phase = PhaseWaiting
	e.mu.Unlock()
}
