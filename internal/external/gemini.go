package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"mayroga/internal/types"
)

const (
	geminiAPIBase      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-1.5-flash"
)

// GeminiConfig holds the configuration for a GeminiClient.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // defaults to geminiAPIBase
	Logger  *slog.Logger
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// GeminiClient calls the generateContent endpoint. The key is sent in the
// x-goog-api-key header so it never appears in a logged URL.
type GeminiClient struct {
	base    *BaseClient
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger
}

var _ ChatProvider = (*GeminiClient)(nil)

// NewGeminiClient creates a GeminiClient over base.
func NewGeminiClient(base *BaseClient, cfg GeminiConfig) *GeminiClient {
	c := &GeminiClient{
		base:    base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
	}
	if c.model == "" {
		c.model = geminiDefaultModel
	}
	if c.baseURL == "" {
		c.baseURL = geminiAPIBase
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *GeminiClient) Name() string { return "gemini" }

// Complete concatenates the text parts of the first candidate.
func (c *GeminiClient) Complete(ctx context.Context, in ChatRequest) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: in.Message}}}},
	}
	if in.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: in.System}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode gemini request", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build gemini request", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "gemini request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", types.NewAppError(types.ErrCodeUpstreamLLM,
			fmt.Sprintf("gemini returned %d", resp.StatusCode),
			fmt.Errorf("gemini: %s", bytes.TrimSpace(raw)))
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "failed to decode gemini response", err)
	}
	if len(out.Candidates) == 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "gemini returned no candidates", nil)
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "gemini returned no content", nil)
	}
	c.logger.DebugContext(ctx, "gemini completion",
		"model", c.model,
		"finish_reason", out.Candidates[0].FinishReason,
	)
	return text, nil
}
