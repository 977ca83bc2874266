package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig configures the chat-completions endpoint and HTTP behavior.
// Any OpenAI-compatible provider works through BaseURL.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Logger      *log.Logger
}

type OpenAIClient struct {
	cfg OpenAIConfig
}

// NewOpenAI builds a client with sane defaults.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &OpenAIClient{cfg: cfg}
}

func (c *OpenAIClient) logger() *log.Logger {
	if c.cfg.Logger != nil {
		return c.cfg.Logger
	}
	return log.Default()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate calls the chat-completions endpoint, retrying rate limits and
// server errors with exponential backoff up to the configured attempt cap.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrGeneration, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.cfg.Backoff * time.Duration(1<<(attempt-1))
			c.logger().Printf("generation retry %d/%d in %s: %v", attempt, c.cfg.MaxAttempts-1, wait, lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrGeneration, ctx.Err())
			case <-time.After(wait):
			}
		}
		text, retryable, err := c.call(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	// Keep the cause in the chain so callers can tell a deadline apart
	// from a generation failure.
	return "", fmt.Errorf("%w: %w", ErrGeneration, lastErr)
}

func (c *OpenAIClient) call(ctx context.Context, payload []byte) (text string, retryable bool, err error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	res, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", true, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", true, err
	}
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return "", true, fmt.Errorf("status %d: %s", res.StatusCode, truncate(string(body), 200))
	}
	if res.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("status %d: %s", res.StatusCode, truncate(string(body), 200))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("empty choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), false, nil
}

// Score asks the model for a single number and parses it.
func (c *OpenAIClient) Score(ctx context.Context, req Request) (float64, error) {
	req.MaxTokens = 8
	reply, err := c.Generate(ctx, req)
	if err != nil {
		return 0, err
	}
	score, ok := ParseScore(reply)
	if !ok {
		return 0, fmt.Errorf("%w: unparseable score %q", ErrGeneration, truncate(reply, 80))
	}
	return score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
