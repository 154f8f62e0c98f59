package claude

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

const (
	defaultEndpoint = "https://api.anthropic.com/v1/messages"
	apiVersion      = "2023-06-01"
)

type Params struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// Endpoint overrides the messages URL, e.g. for a proxy (CLAUDE_API_ENDPOINT).
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// Client talks to the Anthropic messages API
type Client struct {
	p Params
}

var _ interfaces.ChatClient = (*Client)(nil)

func New(p Params) *Client {
	if p.Endpoint == "" {
		p.Endpoint = os.Getenv("CLAUDE_API_ENDPOINT")
	}
	if p.Endpoint == "" {
		p.Endpoint = defaultEndpoint
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 1024
	}
	if p.HTTPClient == nil {
		p.HTTPClient = http.DefaultClient
	}
	return &Client{p: p}
}

// Complete sends one exchange and joins the text blocks of the reply
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "claude-api-call")
	defer span.End()

	apiKey := c.p.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("CLAUDE_API_KEY")
	}
	if apiKey == "" {
		return "", errors.New("CLAUDE_API_KEY missing")
	}

	reqBody := map[string]any{
		"model":  c.p.Model,
		"system": system,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
		"max_tokens":  c.p.MaxTokens,
		"temperature": c.p.Temperature,
	}
	bb, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.p.Endpoint, bytes.NewReader(bb))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.p.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("claude http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}

	var parts []string
	for _, block := range r.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("claude: empty response")
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}
