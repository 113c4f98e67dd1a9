package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Client communicates with an OpenAI-compatible chat completion API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewClient creates a Client with the given API key against the default base URL.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 0, // per-request timeouts come from the context
		},
		referer: "https://github.com/mkurman/synthlabs-sub004",
		title:   "synthgen",
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing
// and self-hosted endpoints).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// RateLimitError is returned on HTTP 429 after retries are exhausted.
type RateLimitError struct {
	Status int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.Status)
}

// Chat sends a non-streaming chat completion request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Completion, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	rc, err := c.doWithRetry(ctx, body, defaultTimeout)
	if err != nil {
		return Completion{}, err
	}
	defer rc.Close()

	var resp chatResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return Completion{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("chat: empty choices in response")
	}
	return Completion{Content: resp.Choices[0].Message.Content, Usage: resp.Usage}, nil
}

// ChatStream sends a streaming chat completion request, invoking onChunk for
// every content delta. If onChunk returns true the stream is terminated early
// and the partial completion is returned with Stopped set.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, onChunk ChunkFunc) (Completion, error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	// No fixed transport cap on the streaming path: the caller's context
	// carries the per-item deadline, and stacking a second timeout under
	// it would surface as a read error instead of a timeout.
	rc, err := c.doWithRetry(ctx, body, 0)
	if err != nil {
		return Completion{}, err
	}
	defer rc.Close()

	var (
		accumulated strings.Builder
		usage       *Usage
	)

	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
			if ok && data != "" && data != "[DONE]" {
				var chunk streamChunk
				if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
					return Completion{}, fmt.Errorf("decoding stream chunk: %w", jsonErr)
				}
				if chunk.Usage != nil {
					usage = chunk.Usage
				}
				var delta string
				if len(chunk.Choices) > 0 {
					delta = chunk.Choices[0].Delta.Content
				}
				if delta != "" {
					accumulated.WriteString(delta)
				}
				if onChunk != nil && (delta != "" || chunk.Usage != nil) {
					if stop := onChunk(delta, accumulated.String(), usage); stop {
						return Completion{Content: accumulated.String(), Usage: usage, Stopped: true}, nil
					}
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return Completion{}, ctx.Err()
			}
			return Completion{}, fmt.Errorf("reading stream: %w", err)
		}
	}

	return Completion{Content: accumulated.String(), Usage: usage}, nil
}

// doWithRetry executes the chat request, retrying on HTTP 429 with
// exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.do(ctx, body, timeout)
		if err == nil {
			return rc, nil
		}

		if _, ok := err.(*RateLimitError); !ok {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// do executes one request. A timeout of zero means the caller's context
// alone bounds the request.
func (c *Client) do(ctx context.Context, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	var (
		reqCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, &RateLimitError{Status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	// Wrap the body so the timeout context cancel runs when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
