// Package ollama calls a local Ollama server's chat endpoint.
package ollama

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

const defaultHost = "http://localhost:11434"

type Params struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// Host defaults to OLLAMA_HOST, then localhost.
	Host       string
	HTTPClient *http.Client
}

type Client struct {
	p Params
}

var _ interfaces.ChatClient = (*Client)(nil)

func New(p Params) *Client {
	if p.Host == "" {
		p.Host = os.Getenv("OLLAMA_HOST")
	}
	if p.Host == "" {
		p.Host = defaultHost
	}
	if !strings.HasPrefix(p.Host, "http://") && !strings.HasPrefix(p.Host, "https://") {
		p.Host = "http://" + p.Host
	}
	p.Host = strings.TrimRight(p.Host, "/")
	if p.HTTPClient == nil {
		p.HTTPClient = http.DefaultClient
	}
	return &Client{p: p}
}

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "ollama-api-call")
	defer span.End()

	options := map[string]any{"temperature": c.p.Temperature}
	if c.p.MaxTokens > 0 {
		options["num_predict"] = c.p.MaxTokens
	}
	body := map[string]any{
		"model": c.p.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"stream":  false,
		"options": options,
	}
	bb, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.p.Host+"/api/chat", bytes.NewReader(bb))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.p.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var r struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if r.Error != "" {
		return "", errors.New("ollama: " + r.Error)
	}
	return strings.TrimSpace(r.Message.Content), nil
}
