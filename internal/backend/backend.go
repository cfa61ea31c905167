// Package backend delegates text generation to an OpenAI-compatible model
// server.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	Completions = "completions"
	Chat        = "chat"
)

// Request is one generation call. The prompt is sent verbatim.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

type Result struct {
	Text             string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Generator produces a continuation for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Config selects and configures a Generator.
type Config struct {
	Kind    string
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, msg)
}

func Normalize(name string) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(name))
	if kind == "" {
		return Completions, nil
	}
	switch kind {
	case Completions, Chat:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected completions or chat)", name)
	}
}

// New builds the Generator named by cfg.Kind.
func New(cfg Config) (Generator, error) {
	kind, err := Normalize(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch kind {
	case Chat:
		return NewChatClient(cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient), nil
	default:
		c := NewCompletionsClient(cfg.BaseURL, cfg.APIKey, cfg.Model)
		c.HTTP = httpClient
		return c, nil
	}
}
