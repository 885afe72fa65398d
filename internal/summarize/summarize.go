// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package summarize compresses collected evidence text into a plain-text
// intelligence summary through an OpenAI-compatible chat completions API.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/httputil"
	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

// ErrEmptyInput is returned when there is no evidence text to summarize.
var ErrEmptyInput = errors.New("empty input")

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// Client calls the chat completions endpoint.
type Client struct {
	cfg     types.SummaryConfig
	retrier *httputil.Retrier
	log     *zap.SugaredLogger
}

// New returns a Client. A nil http.Client gets one with cfg.Timeout.
func New(cfg types.SummaryConfig, client *http.Client, log *zap.SugaredLogger) *Client {
	log = logging.OrNop(log).Named("summarize")
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg: cfg,
		retrier: &httputil.Retrier{
			Client:     client,
			MaxRetries: cfg.MaxRetries,
			Logger:     log,
		},
		log: log,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Summarize returns the model's summary of text for identifier id.
// A missing API key is ErrConfiguration, blank text is ErrEmptyInput.
func (c *Client) Summarize(ctx context.Context, id, text string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("%w: summary API key is not set", types.ErrConfiguration)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("summarizing %s: %w", id, ErrEmptyInput)
	}

	system, err := renderSystemPrompt(id)
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: text},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.retrier.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: calling summary API: %w", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("%w: summary API rejected the key (%d): %s", types.ErrConfiguration, resp.StatusCode, msg)
		}
		return "", fmt.Errorf("%w: summary API returned %d: %s", types.ErrTransport, resp.StatusCode, msg)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("%w: decoding summary response: %w", types.ErrParse, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: summary response has no choices", types.ErrParse)
	}

	summary := strings.TrimSpace(cr.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("%w: summary response is empty", types.ErrParse)
	}
	c.log.Debugw("summary generated",
		"id", id,
		"input_chars", len(text),
		"output_chars", len(summary),
		"prompt_tokens", cr.Usage.PromptTokens,
		"completion_tokens", cr.Usage.CompletionTokens,
		"finish_reason", cr.Choices[0].FinishReason,
	)
	return summary, nil
}
