// File: internal/agent/planner.go
package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/config"
	"github.com/tsenderov/droidprobe/internal/llmutil"
)

// Planner decides the single next action for a test run. It never returns an
// error; every failure mode degrades to a safe fallback action so the loop
// keeps advancing.
type Planner struct {
	client        schemas.LLMClient
	logger        *zap.Logger
	historyWindow int
	fallbackWait  float64

	plans atomic.Int64
}

func NewPlanner(client schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) *Planner {
	return &Planner{
		client:        client,
		logger:        logger.Named("agent.planner"),
		historyWindow: cfg.HistoryWindow,
		fallbackWait:  cfg.DefaultWait.Seconds(),
	}
}

// Plan produces exactly one next action. The failure class picks the
// fallback: a malformed or invalid decision yields a short wait so the next
// cycle can retry with a fresh frame, while a transport or rate-limit
// exhaustion yields complete so the supervisor can evaluate what happened.
func (p *Planner) Plan(ctx context.Context, goal string, uiCtx *schemas.UIContext, history []schemas.HistoryEntry, frame *schemas.Frame) schemas.Action {
	p.plans.Add(1)

	window := history
	if len(window) > p.historyWindow {
		window = window[len(window)-p.historyWindow:]
	}

	prompt := fmt.Sprintf(plannerUserPromptTemplate, goal, formatHistory(window), formatUIContext(uiCtx))

	raw, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   prompt,
		Frame:        frame,
		ForceJSON:    true,
	})
	if err != nil {
		p.logger.Warn("Model call failed, completing for evaluation", zap.Error(err))
		return schemas.CompleteAction(fmt.Sprintf("Planning call failed: %v", err))
	}

	decision, err := llmutil.ParseJSONResponse[schemas.Action](raw)
	if err != nil {
		p.logger.Warn("Decision was not valid JSON, falling back to wait",
			zap.Error(err), zap.String("response", llmutil.Truncate(raw, 200)))
		return schemas.WaitAction(p.fallbackWait, "Could not parse the planned action, waiting before retrying")
	}

	action, err := schemas.NormalizeAction(*decision)
	if err != nil {
		p.logger.Warn("Decision failed validation, falling back to wait", zap.Error(err))
		return schemas.WaitAction(p.fallbackWait, fmt.Sprintf("Planned action was invalid (%v), waiting before retrying", err))
	}

	p.logger.Debug("Action planned",
		zap.String("action", string(action.Type)),
		zap.String("reasoning", action.Reasoning),
	)
	return action
}

// Plans returns the number of planning calls made so far.
func (p *Planner) Plans() int64 {
	return p.plans.Load()
}
