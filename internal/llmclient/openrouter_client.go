// File: internal/llmclient/openrouter_client.go
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

const defaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouterClient implements schemas.LLMClient against the OpenRouter
// chat-completions API.
type OpenRouterClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMConfig
	policy     *callPolicy
}

// -- OpenRouter request/response structures (internal to this file) --

type openRouterContentPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterMessage struct {
	Role    string                  `json:"role"`
	Content []openRouterContentPart `json:"content"`
}

type openRouterResponseFormat struct {
	Type string `json:"type"`
}

type openRouterRequestPayload struct {
	Model          string                    `json:"model"`
	Messages       []openRouterMessage       `json:"messages"`
	Temperature    float64                   `json:"temperature"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
}

type openRouterResponsePayload struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenRouterClient initializes the client with the shared call policy.
func NewOpenRouterClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenRouterClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenRouterEndpoint
	}

	named := logger.Named("llm_client.openrouter")
	return &OpenRouterClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		logger:     named,
		policy:     newCallPolicy(cfg.MinCallDelay, cfg.MaxRetries, cfg.BackoffBase, named),
	}, nil
}

// Generate sends the request to OpenRouter under the shared rate-limit and
// backoff policy and returns the raw generated text.
func (c *OpenRouterClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
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
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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

		var responsePayload openRouterResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return "", &apiError{Status: resp.StatusCode, Body: "undecodable response payload"}
		}
		if len(responsePayload.Choices) == 0 {
			return "", &apiError{Status: resp.StatusCode, Body: "response contained no choices"}
		}

		c.logger.Debug("Model generation complete",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", responsePayload.Usage.PromptTokens),
			zap.Int("completion_tokens", responsePayload.Usage.CompletionTokens),
		)
		return responsePayload.Choices[0].Message.Content, nil
	})
}

// Calls exposes the backend attempt counter for run statistics.
func (c *OpenRouterClient) Calls() int64 { return c.policy.Calls() }

func (c *OpenRouterClient) buildRequestPayload(req schemas.GenerationRequest) (openRouterRequestPayload, error) {
	parts := []openRouterContentPart{}
	prompt := req.UserPrompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}
	parts = append(parts, openRouterContentPart{Type: "text", Text: prompt})

	if req.Frame != nil && len(req.Frame.PNG) > 0 {
		b64, err := encodeFrameJPEG(req.Frame.PNG, c.config.ImageMaxDimension, c.config.ImageJPEGQuality)
		if err != nil {
			return openRouterRequestPayload{}, fmt.Errorf("failed to prepare frame payload: %w", err)
		}
		parts = append(parts, openRouterContentPart{
			Type:     "image_url",
			ImageURL: &openRouterImageURL{URL: "data:image/jpeg;base64," + b64},
		})
	}

	payload := openRouterRequestPayload{
		Model:       c.config.Model,
		Messages:    []openRouterMessage{{Role: "user", Content: parts}},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	if req.ForceJSON {
		payload.ResponseFormat = &openRouterResponseFormat{Type: "json_object"}
	}
	return payload, nil
}
