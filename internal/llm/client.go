// Package llm provides the reasoning-service client used by the selection
// policy engine. OpenRouter's chat-completions API is the only backend; it
// fronts many providers, including reasoning-style models that return the
// real answer in a separate reasoning channel.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

// Reply is one completion. Reasoning-capable models sometimes leave Content
// empty and emit only the Reasoning trace; callers must handle both channels.
type Reply struct {
	Content   string
	Reasoning string
}

// Client is the minimal completion interface the policy engine depends on.
type Client interface {
	Complete(ctx context.Context, prompt string) (Reply, error)
}

// Config holds OpenRouter client configuration.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
	SiteURL   string
	SiteName  string
}

// DefaultConfig returns sensible defaults for the given key.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:    apiKey,
		BaseURL:   "https://openrouter.ai/api/v1",
		Model:     "meta-llama/llama-3.1-405b-instruct:free",
		Timeout:   60 * time.Second,
		MaxTokens: 500,
		SiteName:  "FridgeOrderAgent",
	}
}

// OpenRouterClient implements Client against the OpenRouter API.
type OpenRouterClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	siteURL     string
	siteName    string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenRouterClient creates a client with the given config.
func NewOpenRouterClient(cfg Config) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &OpenRouterClient{
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		siteURL:   cfg.SiteURL,
		siteName:  cfg.SiteName,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			// Reasoning models expose the trace under either key depending
			// on the upstream provider.
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends a single user message and returns the completion. The
// temperature is fixed low; selection answers must be deterministic-ish.
func (c *OpenRouterClient) Complete(ctx context.Context, prompt string) (Reply, error) {
	if c.apiKey == "" {
		return Reply{}, fmt.Errorf("API key not configured")
	}

	// Auto-apply timeout if the context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	// Rate limiting: at least 100ms between requests.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	logging.LLMDebug("Complete: model=%s prompt_len=%d", c.model, len(prompt))

	// Retry loop for rate limits.
	const maxRetries = 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s.
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return Reply{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", c.siteURL)
		req.Header.Set("X-Title", c.siteName)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return Reply{}, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var cr chatResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			return Reply{}, fmt.Errorf("failed to parse response: %w", err)
		}
		if cr.Error != nil {
			return Reply{}, fmt.Errorf("API error: %s", cr.Error.Message)
		}
		if len(cr.Choices) == 0 {
			return Reply{}, fmt.Errorf("no completion returned")
		}

		msg := cr.Choices[0].Message
		reasoning := msg.Reasoning
		if reasoning == "" {
			reasoning = msg.ReasoningContent
		}
		reply := Reply{
			Content:   strings.TrimSpace(msg.Content),
			Reasoning: strings.TrimSpace(reasoning),
		}
		logging.LLM("Complete: model=%s took=%v content_len=%d reasoning_len=%d",
			c.model, time.Since(start), len(reply.Content), len(reply.Reasoning))
		return reply, nil
	}

	logging.Get(logging.CategoryLLM).Error("Complete: max retries exceeded: %v", lastErr)
	return Reply{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// SetModel changes the model used for completions.
func (c *OpenRouterClient) SetModel(model string) {
	c.model = model
}

// Model returns the current model.
func (c *OpenRouterClient) Model() string {
	return c.model
}
