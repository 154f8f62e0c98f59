package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/trace"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

type Params struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// Endpoint overrides the chat completions URL (OPENAI_API_ENDPOINT).
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	p Params
}

var _ interfaces.ChatClient = (*Client)(nil)

func New(p Params) *Client {
	if p.Endpoint == "" {
		p.Endpoint = os.Getenv("OPENAI_API_ENDPOINT")
	}
	if p.Endpoint == "" {
		p.Endpoint = defaultEndpoint
	}
	if p.HTTPClient == nil {
		p.HTTPClient = http.DefaultClient
	}
	return &Client{p: p}
}

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	apiKey := c.p.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", errors.New("OPENAI_API_KEY missing")
	}

	body := map[string]any{
		"model": c.p.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	if c.p.MaxTokens > 0 {
		body["max_completion_tokens"] = c.p.MaxTokens
	}
	// Reasoning models (o1, o3, ...) reject a temperature.
	if strings.HasPrefix(c.p.Model, "gpt") {
		body["temperature"] = c.p.Temperature
	}
	bb, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.p.Endpoint, bytes.NewReader(bb))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.p.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("openai http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if len(r.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return strings.TrimSpace(r.Choices[0].Message.Content), nil
}
