package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultMaxTokens = 2048
	maxErrorBody     = 512
)

// Config configures the chat-completions client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Client sends one system and one user message to an OpenAI-compatible chat-completions
// endpoint and returns the first choice's content.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing advisory API key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("missing advisory model")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

// Complete returns the raw assistant content. Transport failures, non-2xx statuses and
// empty choices are reported as advisory service errors.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body := completionRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", serviceError(err, "advisory request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", serviceError(err, "read advisory response")
	}
	c.logger.Debug("advisory completion",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("bytes", len(payload)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", serviceError(fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(payload), maxErrorBody)), "advisory service returned an error status")
	}

	var decoded completionResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", serviceError(err, "decode advisory envelope")
	}
	if len(decoded.Choices) == 0 {
		return "", serviceError(fmt.Errorf("no choices"), "advisory response missing choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

func serviceError(err error, msg string) error {
	return appErrors.Wrap(err, appErrors.ErrAdvisoryService.Code, appErrors.ErrAdvisoryService.Status, msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
