// File: internal/llmclient/clients_test.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/config"
)

// testFramePNG renders a small solid PNG for image payload tests.
func testFramePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testLLMConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Provider:          config.ProviderOpenRouter,
		Model:             "test-model",
		APIKey:            "test-key",
		Endpoint:          endpoint,
		APITimeout:        5 * time.Second,
		Temperature:       0.1,
		MaxTokens:         256,
		MaxRetries:        3,
		BackoffBase:       time.Millisecond,
		ImageMaxDimension: 64,
		ImageJPEGQuality:  85,
	}
}

func TestOpenRouterClient_Generate(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"{\"action_type\":\"tap\"}"}}],"usage":{"total_tokens":9}}`)
	}))
	defer server.Close()

	client, err := NewOpenRouterClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	got, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "you decide actions",
		UserPrompt:   "what next?",
		Frame:        &schemas.Frame{PNG: testFramePNG(t, 8, 8)},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"action_type":"tap"}`, got)
	assert.EqualValues(t, 1, client.Calls())

	// The request must carry the text part and the base64 JPEG data URI.
	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.Equal(t, "test-model", payload["model"])
	msgs := payload["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].(map[string]any)["text"], "what next?")
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Contains(t, imageURL, "data:image/jpeg;base64,")
}

func TestOpenRouterClient_ForceJSONSetsResponseFormat(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"choices":[{"message":{"content":"{}"}}]}`)
	}))
	defer server.Close()

	client, err := NewOpenRouterClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi", ForceJSON: true})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured, &payload))
	format := payload["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])

	// Without ForceJSON the field stays off the wire.
	_, err = client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	payload = map[string]any{}
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.NotContains(t, payload, "response_format")
}

func TestOpenRouterClient_RetriesOn429(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":"rate limited"}`)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"late answer"}}]}`)
	}))
	defer server.Close()

	client, err := NewOpenRouterClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)
	// Avoid real sleeps in the test.
	client.policy.sleep = func(context.Context, time.Duration) error { return nil }

	got, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "late answer", got)
	assert.Equal(t, 3, hits)
}

func TestOpenRouterClient_ExhaustedRetriesReturnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewOpenRouterClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)
	client.policy.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, client.Calls())
}

func TestNewOpenRouterClient_RequiresAPIKey(t *testing.T) {
	cfg := testLLMConfig("http://unused")
	cfg.APIKey = ""
	client, err := NewOpenRouterClient(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestGeminiClient_Generate(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		captured, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"vision report"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.Provider = config.ProviderGemini
	client, err := NewGeminiClient(cfg, zap.NewNop())
	require.NoError(t, err)

	got, err := client.Generate(context.Background(), schemas.GenerationRequest{
		UserPrompt: "describe the screen",
		Frame:      &schemas.Frame{PNG: testFramePNG(t, 8, 8)},
		ForceJSON:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "vision report", got)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured, &payload))
	genCfg := payload["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genCfg["response_mime_type"])
	parts := payload["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
	assert.Equal(t, "image/jpeg", inline["mime_type"])
	assert.NotEmpty(t, inline["data"])
}

func TestGeminiClient_EmptyCandidatesIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.Provider = config.ProviderGemini
	client, err := NewGeminiClient(cfg, zap.NewNop())
	require.NoError(t, err)
	client.policy.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	assert.Error(t, err)
}

func TestEncodeFrameJPEG_Downscales(t *testing.T) {
	// 200x100 source with maxDim 64 must come out 64x32.
	b64, err := encodeFrameJPEG(testFramePNG(t, 200, 100), 64, 85)
	require.NoError(t, err)
	require.NotEmpty(t, b64)

	// Round-trip through the decoder to verify the dimensions.
	raw, err := decodeBase64JPEG(b64)
	require.NoError(t, err)
	bounds := raw.Bounds()
	assert.Equal(t, 64, bounds.Dx())
	assert.Equal(t, 32, bounds.Dy())
}

func TestEncodeFrameJPEG_RejectsGarbage(t *testing.T) {
	_, err := encodeFrameJPEG([]byte("not a png"), 64, 85)
	assert.Error(t, err)
}

func decodeBase64JPEG(b64 string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return jpeg.Decode(bytes.NewReader(raw))
}
