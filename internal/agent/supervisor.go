// File: internal/agent/supervisor.go
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/llmutil"
)

// NoFinalFrameReason is the verdict reason when evaluation runs without a
// final screenshot.
const NoFinalFrameReason = "no final frame"

// stuckStreakLimit is how many consecutive no-progress observations force a
// stop regardless of what the model would say.
const stuckStreakLimit = 3

// ContinueDecision is the supervisor's periodic keep-going judgment.
type ContinueDecision struct {
	Continue  bool   `json:"continue"`
	Reasoning string `json:"reasoning"`
}

// Supervisor owns the two termination judgments of a run: the periodic
// should-continue check and the final pass/fail verdict. The two are never
// conflated; one steers the loop, the other classifies the outcome.
type Supervisor struct {
	client schemas.LLMClient
	logger *zap.Logger

	blockingStreak int
	staleStreak    int
	lastSummary    string
	lastElements   int
}

func NewSupervisor(client schemas.LLMClient, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		client: client,
		logger: logger.Named("agent.supervisor"),
	}
}

// ObserveContext feeds each perception cycle's screen description into the
// stuck-loop detector. A blocking overlay that persists, or a screen whose
// summary and element count stop changing, both count as lack of forward
// progress.
func (s *Supervisor) ObserveContext(uiCtx *schemas.UIContext) {
	if uiCtx == nil {
		return
	}
	if uiCtx.Blocking {
		s.blockingStreak++
	} else {
		s.blockingStreak = 0
	}
	if uiCtx.Summary == s.lastSummary && len(uiCtx.Elements) == s.lastElements {
		s.staleStreak++
	} else {
		s.staleStreak = 0
	}
	s.lastSummary = uiCtx.Summary
	s.lastElements = len(uiCtx.Elements)
}

// Reset clears streak state between test cases.
func (s *Supervisor) Reset() {
	s.blockingStreak = 0
	s.staleStreak = 0
	s.lastSummary = ""
	s.lastElements = 0
}

// ShouldContinue decides whether the loop keeps iterating. Stuck detection is
// applied locally before spending a model call; on model failure the default
// is to continue unless the budget is nearly exhausted, never to continue
// forever.
func (s *Supervisor) ShouldContinue(ctx context.Context, goal string, history []schemas.HistoryEntry, frame *schemas.Frame, step, maxSteps int) ContinueDecision {
	if step >= maxSteps {
		return ContinueDecision{Continue: false, Reasoning: "Step budget exhausted"}
	}
	if s.blockingStreak >= stuckStreakLimit {
		return ContinueDecision{
			Continue:  false,
			Reasoning: fmt.Sprintf("Blocking screen persisted for %d consecutive steps with no progress", s.blockingStreak),
		}
	}
	if s.staleStreak >= stuckStreakLimit {
		return ContinueDecision{
			Continue:  false,
			Reasoning: fmt.Sprintf("Screen unchanged for %d consecutive steps, run appears stuck", s.staleStreak),
		}
	}

	prompt := fmt.Sprintf(supervisorContinuePromptTemplate, goal, historyJSON(history))
	raw, err := s.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Frame:      frame,
		ForceJSON:  true,
	})
	if err == nil {
		decision, perr := llmutil.ParseJSONResponse[ContinueDecision](raw)
		if perr == nil {
			return *decision
		}
		err = perr
	}

	s.logger.Warn("Continue check failed, using budget-based default", zap.Error(err))
	nearBudget := step >= maxSteps-2
	return ContinueDecision{
		Continue:  !nearBudget,
		Reasoning: fmt.Sprintf("Default decision after supervisor error: %v", err),
	}
}

// Evaluate renders the final verdict for one test case. A missing final frame
// is a hard FAIL without a bug claim; every other path goes through the model
// and is sanitized so BugFound never survives a PASS.
func (s *Supervisor) Evaluate(ctx context.Context, goal string, frame *schemas.Frame, history []schemas.HistoryEntry) schemas.Verdict {
	if frame == nil {
		return schemas.Verdict{
			Result:   schemas.VerdictFail,
			Reason:   NoFinalFrameReason,
			BugFound: false,
		}
	}

	prompt := fmt.Sprintf(supervisorEvaluatePromptTemplate, goal, historyJSON(history))
	raw, err := s.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Frame:      frame,
		ForceJSON:  true,
	})
	if err != nil {
		s.logger.Error("Evaluation call failed", zap.Error(err))
		return schemas.Verdict{
			Result:   schemas.VerdictFail,
			Reason:   fmt.Sprintf("Evaluation failed: %v", err),
			BugFound: false,
		}
	}

	verdict, err := llmutil.ParseJSONResponse[schemas.Verdict](raw)
	if err != nil {
		s.logger.Error("Evaluation response was not valid JSON", zap.Error(err))
		return schemas.Verdict{
			Result:   schemas.VerdictFail,
			Reason:   fmt.Sprintf("Evaluation response unreadable: %v", err),
			BugFound: false,
		}
	}
	return verdict.Sanitize()
}
