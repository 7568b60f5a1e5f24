// Package llm implements the C11 LLM client: a thin wrapper around a local
// OpenAI-compatible chat endpoint (e.g. Ollama's compatibility layer),
// with <think> stripping, bounded retries, and model validation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/optionalpha/scanner/internal/ports"
)

const (
	numCtx           = 8192
	transportRetries = 3
	notFoundStatus   = http.StatusNotFound
)

var transportBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

var thinkBlockRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinkBlocks removes every <think>...</think> block, including nested
// or repeated occurrences, by removing the innermost block (the nearest
// <think> before the first closing tag) until no complete block remains.
func stripThinkBlocks(content string) string {
	for {
		loc := thinkBlockRE.FindStringIndex(content)
		if loc == nil {
			return strings.TrimSpace(content)
		}
		start := loc[0] + strings.LastIndex(content[loc[0]:loc[1]], "<think>")
		content = content[:start] + content[loc[1]:]
	}
}

// Client talks to a local OpenAI-compatible chat endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a Client against host (e.g. "http://localhost:11434").
func NewClient(host string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(host, "/"),
		http:    &http.Client{},
		log:     log.With().Str("component", "llm_client").Logger(),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Format   string        `json:"format"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	NumCtx int `json:"num_ctx"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// transportError marks an error as retryable (connect/read/unknown-host),
// distinguishing it from a structural failure like "model not found".
type transportError struct{ cause error }

func (e *transportError) Error() string { return e.cause.Error() }
func (e *transportError) Unwrap() error { return e.cause }

// notFoundError marks a 404-equivalent response; never retried.
type notFoundError struct{ status int }

func (e *notFoundError) Error() string { return fmt.Sprintf("model not found: status %d", e.status) }

// Chat posts messages to the chat endpoint and returns the normalized,
// think-stripped result. Transport errors retry up to 3 times with backoff;
// a not-found response or a context timeout propagates immediately.
func (c *Client) Chat(messages []ports.ChatMessage, model string, timeout time.Duration) (ports.ChatResult, error) {
	start := time.Now()

	req := chatRequest{
		Model:    model,
		Format:   "json",
		Stream:   false,
		Options:  chatOptions{NumCtx: numCtx},
		Messages: make([]chatMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	for attempt := 0; attempt <= transportRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		result, err := c.doChat(ctx, req)
		cancel()

		if err == nil {
			result.DurationMs = time.Since(start).Milliseconds()
			return result, nil
		}

		var nf *notFoundError
		if asNotFound(err, &nf) {
			return ports.ChatResult{}, err
		}
		if ctx.Err() == context.DeadlineExceeded {
			return ports.ChatResult{}, fmt.Errorf("llm chat timed out after %s: %w", timeout, err)
		}

		lastErr = err
		if attempt == transportRetries {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("llm chat transport error, retrying")
		time.Sleep(transportBackoff[attempt])
	}
	return ports.ChatResult{}, lastErr
}

func asNotFound(err error, target **notFoundError) bool {
	for err != nil {
		if nf, ok := err.(*notFoundError); ok {
			*target = nf
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (c *Client) doChat(ctx context.Context, req chatRequest) (ports.ChatResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ports.ChatResult{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ports.ChatResult{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ports.ChatResult{}, &transportError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == notFoundStatus {
		return ports.ChatResult{}, &notFoundError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ports.ChatResult{}, &transportError{cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ports.ChatResult{}, &transportError{cause: fmt.Errorf("decode chat response: %w", err)}
	}

	content := parsed.Message.Content
	if content == "" && len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	content = stripThinkBlocks(content)

	inputTokens := parsed.PromptEvalCount
	if inputTokens == 0 {
		inputTokens = parsed.Usage.PromptTokens
	}
	outputTokens := parsed.EvalCount
	if outputTokens == 0 {
		outputTokens = parsed.Usage.CompletionTokens
	}

	return ports.ChatResult{
		Content:      content,
		Model:        parsed.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

// ValidateModel reports whether model appears in the endpoint's model
// listing. It never raises: any transport or parse failure returns false.
func (c *Client) ValidateModel(model string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false
	}
	for _, m := range parsed.Models {
		if m.Name == model {
			return true
		}
	}
	return false
}

var _ ports.LLMPort = (*Client)(nil)
