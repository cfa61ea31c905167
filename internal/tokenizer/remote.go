package tokenizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/longask/internal/version"
)

// RemoteCounter counts tokens with the serving backend's /tokenize endpoint.
// The request carries both the llama.cpp ("content") and vLLM ("prompt")
// field names.
type RemoteCounter struct {
	BaseURL string
	Model   string
	APIKey  string
	HTTP    *http.Client
}

type tokenizeRequest struct {
	Content string `json:"content"`
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
}

type tokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
	Count  *int    `json:"count"`
}

// NewRemoteCounter derives the server root from an OpenAI-style base URL
// ending in /v1.
func NewRemoteCounter(baseURL, model, apiKey string) *RemoteCounter {
	root := strings.TrimRight(baseURL, "/")
	root = strings.TrimSuffix(root, "/v1")
	return &RemoteCounter{
		BaseURL: root,
		Model:   model,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *RemoteCounter) Count(ctx context.Context, text string) (int, error) {
	body, err := json.Marshal(tokenizeRequest{Content: text, Prompt: text, Model: c.Model})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tokenize", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("tokenize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("tokenize: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out tokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode tokenize response: %w", err)
	}
	if out.Count != nil {
		return *out.Count, nil
	}
	return len(out.Tokens), nil
}
