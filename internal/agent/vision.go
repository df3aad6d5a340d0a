// File: internal/agent/vision.go
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/llmutil"
)

// visionResponse mirrors the JSON shape the vision prompt asks for.
type visionResponse struct {
	ScreenSummary  string `json:"screen_summary"`
	BlockingScreen bool   `json:"blocking_screen"`
	Elements       []struct {
		Text        string `json:"text"`
		Type        string `json:"type"`
		X           int    `json:"x"`
		Y           int    `json:"y"`
		Description string `json:"description"`
	} `json:"elements"`
}

// VisionAnalyzer turns a captured frame into a structured UIContext by asking
// the model to enumerate interactive elements on a 0-1000 grid.
type VisionAnalyzer struct {
	client schemas.LLMClient
	logger *zap.Logger
}

func NewVisionAnalyzer(client schemas.LLMClient, logger *zap.Logger) *VisionAnalyzer {
	return &VisionAnalyzer{
		client: client,
		logger: logger.Named("agent.vision"),
	}
}

// Analyze describes one frame. A model or parse failure is returned to the
// caller; the orchestrator decides how to degrade.
func (v *VisionAnalyzer) Analyze(ctx context.Context, frame *schemas.Frame) (*schemas.UIContext, error) {
	if frame == nil {
		return nil, fmt.Errorf("vision analysis requires a frame")
	}

	raw, err := v.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: visionSystemPrompt,
		UserPrompt:   visionUserPromptTemplate,
		Frame:        frame,
		ForceJSON:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("vision model call failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[visionResponse](raw)
	if err != nil {
		return nil, fmt.Errorf("vision response was not valid JSON: %w", err)
	}

	uiCtx := &schemas.UIContext{
		Summary:  parsed.ScreenSummary,
		Blocking: parsed.BlockingScreen,
	}
	for _, el := range parsed.Elements {
		if el.X < 0 || el.X > 1000 || el.Y < 0 || el.Y > 1000 {
			v.logger.Debug("Dropping element with out-of-range coordinates",
				zap.String("text", el.Text), zap.Int("x", el.X), zap.Int("y", el.Y))
			continue
		}
		elType := schemas.ElementType(el.Type)
		if !schemas.KnownElementType(elType) {
			elType = schemas.ElementUnknown
		}
		uiCtx.Elements = append(uiCtx.Elements, schemas.UIElement{
			Text:        el.Text,
			Type:        elType,
			X:           el.X,
			Y:           el.Y,
			Description: el.Description,
		})
	}

	v.logger.Debug("Screen analyzed",
		zap.Int("elements", len(uiCtx.Elements)),
		zap.Bool("blocking", uiCtx.Blocking),
	)
	return uiCtx, nil
}
