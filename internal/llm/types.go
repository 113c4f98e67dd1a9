package llm

// Message represents a chat message in the OpenAI-compatible API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat requests structured output from the model.
type ResponseFormat struct {
	Type string `json:"type"` // "json_object" or "text"
}

// ChatRequest is the JSON body for POST /chat/completions.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	StreamOptions  *StreamOptions  `json:"stream_options,omitempty"`
}

// StreamOptions tunes streaming behaviour.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the final outcome of a chat call.
type Completion struct {
	Content string
	Usage   *Usage
	// Stopped is true when the stream was terminated early at the
	// chunk callback's request. Content holds whatever had accumulated.
	Stopped bool
}

// ChunkFunc receives each streamed delta together with the full text
// accumulated so far. Returning true requests early termination of the
// stream; the call resolves with a partial Completion.
type ChunkFunc func(delta, accumulated string, usage *Usage) bool

// chatResponse is the JSON returned by POST /chat/completions (non-streaming).
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// streamChunk is one SSE data payload of a streamed chat completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}
