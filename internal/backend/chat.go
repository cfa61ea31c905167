package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient sends the formatted prompt as a single user message through the
// OpenAI Go SDK. Use it for servers that only expose /chat/completions.
type ChatClient struct {
	client *openai.Client
	model  string
}

func NewChatClient(baseURL, apiKey, model string, httpClient *http.Client) *ChatClient {
	if apiKey == "" {
		// Local servers ignore the key but the SDK insists on one.
		apiKey = "EMPTY"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &ChatClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (c *ChatClient) Generate(ctx context.Context, req Request) (*Result, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.F(c.model),
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		}),
		Temperature: openai.F(req.Temperature),
		TopP:        openai.F(req.TopP),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.F(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion response has no choices")
	}
	return &Result{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     string(resp.Choices[0].FinishReason),
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
