package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"mayroga/internal/types"
)

const (
	openAIAPIBase      = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds the configuration for an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // defaults to openAIAPIBase
	Logger  *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// OpenAIClient calls the Chat Completions endpoint.
type OpenAIClient struct {
	base    *BaseClient
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger
}

var _ ChatProvider = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAIClient over base.
func NewOpenAIClient(base *BaseClient, cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		base:    base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
	}
	if c.model == "" {
		c.model = openAIDefaultModel
	}
	if c.baseURL == "" {
		c.baseURL = openAIAPIBase
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *OpenAIClient) Name() string { return "openai" }

// Complete sends the system prompt and user message and returns the first
// choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, in ChatRequest) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: in.System},
			{Role: "user", Content: in.Message},
		},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build chat request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "openai request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &apiErr)
		return "", types.NewAppError(types.ErrCodeUpstreamLLM,
			fmt.Sprintf("openai returned %d", resp.StatusCode),
			fmt.Errorf("openai: %s", apiErr.Error.Message))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "failed to decode openai response", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "openai returned no content", nil)
	}
	c.logger.DebugContext(ctx, "openai completion",
		"model", c.model,
		"finish_reason", out.Choices[0].FinishReason,
	)
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
