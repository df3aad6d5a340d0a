// File: internal/llmclient/gemini_client.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/config"
)

// GeminiClient implements schemas.LLMClient against the Gemini
// generateContent API.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMConfig
	policy     *callPolicy
}

// -- Gemini request/response structures (internal to this file) --

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
}

type geminiRequestPayload struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	named := logger.Named("llm_client.gemini")
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		logger:     named,
		policy:     newCallPolicy(cfg.MinCallDelay, cfg.MaxRetries, cfg.BackoffBase, named),
	}, nil
}

// Generate sends the request to the Gemini API under the shared rate-limit
// and backoff policy and returns the raw generated text.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload, err := c.buildRequestPayload(req)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	return c.policy.run(ctx, func(ctx context.Context) (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("failed to create HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", &apiError{Status: resp.StatusCode, Body: string(respBody)}
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return "", &apiError{Status: resp.StatusCode, Body: "undecodable response payload"}
		}
		if len(responsePayload.Candidates) == 0 {
			return "", &apiError{Status: resp.StatusCode, Body: "response contained no candidates"}
		}
		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			return "", &apiError{Status: resp.StatusCode, Body: fmt.Sprintf("empty content parts (reason: %s)", candidate.FinishReason)}
		}

		c.logger.Debug("Model generation complete",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
		)
		return candidate.Content.Parts[0].Text, nil
	})
}

// Calls exposes the backend attempt counter for run statistics.
func (c *GeminiClient) Calls() int64 { return c.policy.Calls() }

func (c *GeminiClient) buildRequestPayload(req schemas.GenerationRequest) (geminiRequestPayload, error) {
	parts := []geminiPart{}
	if req.SystemPrompt != "" {
		parts = append(parts, geminiPart{Text: req.SystemPrompt})
	}
	parts = append(parts, geminiPart{Text: req.UserPrompt})

	if req.Frame != nil && len(req.Frame.PNG) > 0 {
		b64, err := encodeFrameJPEG(req.Frame.PNG, c.config.ImageMaxDimension, c.config.ImageJPEGQuality)
		if err != nil {
			return geminiRequestPayload{}, fmt.Errorf("failed to prepare frame payload: %w", err)
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: "image/jpeg", Data: b64}})
	}

	genConfig := geminiGenerationConfig{
		Temperature:     c.config.Temperature,
		MaxOutputTokens: c.config.MaxTokens,
	}
	if req.ForceJSON {
		genConfig.ResponseMimeType = "application/json"
	}

	return geminiRequestPayload{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: genConfig,
	}, nil
}
