// File: internal/orchestrator/orchestrator.go
// Description: Drives the perceive-plan-execute loop for one test case. It is
// injected with fully configured agents via interfaces, making it decoupled
// and testable.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/agent"
	"github.com/tsenderov/droidprobe/internal/config"
)

// state is one node of the run's control loop.
type state int

const (
	statePerceive state = iota
	statePlan
	stateExecute
	stateTerminate
)

// Analyzer produces a structured screen description from a frame.
type Analyzer interface {
	Analyze(ctx context.Context, frame *schemas.Frame) (*schemas.UIContext, error)
}

// Planner decides the next action. Implementations never fail; they fall
// back to a safe action instead.
type Planner interface {
	Plan(ctx context.Context, goal string, uiCtx *schemas.UIContext, history []schemas.HistoryEntry, frame *schemas.Frame) schemas.Action
}

// Executor performs one action against the device.
type Executor interface {
	Execute(ctx context.Context, action schemas.Action) schemas.ExecutionResult
}

// Supervisor owns the periodic continue decision and the final verdict.
type Supervisor interface {
	ObserveContext(uiCtx *schemas.UIContext)
	Reset()
	ShouldContinue(ctx context.Context, goal string, history []schemas.HistoryEntry, frame *schemas.Frame, step, maxSteps int) agent.ContinueDecision
	Evaluate(ctx context.Context, goal string, frame *schemas.Frame, history []schemas.HistoryEntry) schemas.Verdict
}

// Orchestrator composes the agents into a bounded, terminating test run.
type Orchestrator struct {
	cfg        config.AgentConfig
	logger     *zap.Logger
	device     schemas.Device
	analyzer   Analyzer
	planner    Planner
	executor   Executor
	supervisor Supervisor
	store      schemas.ResultStore

	saveStepFrames bool
	sleep          func(ctx context.Context, d time.Duration)
}

// New builds an orchestrator. All dependencies are required except the store,
// which may be nil when artifacts are not wanted.
func New(
	cfg config.AgentConfig,
	logger *zap.Logger,
	device schemas.Device,
	analyzer Analyzer,
	planner Planner,
	executor Executor,
	supervisor Supervisor,
	store schemas.ResultStore,
) (*Orchestrator, error) {
	if logger == nil || device == nil || analyzer == nil || planner == nil || executor == nil || supervisor == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
		device:     device,
		analyzer:   analyzer,
		planner:    planner,
		executor:   executor,
		supervisor: supervisor,
		store:      store,
		sleep:      sleepCtx,
	}, nil
}

// SetSaveStepFrames toggles per-step screenshot persistence.
func (o *Orchestrator) SetSaveStepFrames(v bool) {
	o.saveStepFrames = v
}

// RunTestCase executes one test case to its verdict. The loop is strictly
// sequential: perceive, plan, branch to execute or terminate. Termination
// happens exactly once per case.
func (o *Orchestrator) RunTestCase(ctx context.Context, tc schemas.TestCase) *schemas.TestResult {
	start := time.Now()
	maxSteps := tc.MaxSteps
	if maxSteps <= 0 {
		maxSteps = o.cfg.MaxSteps
	}

	runID, store := o.beginRun(tc)
	logger := o.logger.With(zap.String("test_id", tc.ID), zap.String("run_id", runID))
	logger.Info("Starting test case", zap.String("goal", tc.Goal), zap.Int("max_steps", maxSteps))

	o.supervisor.Reset()

	if tc.AppID != "" {
		if err := o.device.Launch(ctx, tc.AppID); err != nil {
			logger.Warn("App launch failed, continuing with current screen", zap.Error(err))
		}
		o.sleep(ctx, o.cfg.LaunchWait)
	}

	var (
		history   []schemas.HistoryEntry
		step      int
		frame     *schemas.Frame
		uiCtx     *schemas.UIContext
		action    schemas.Action
		current   = statePerceive
		stopEarly string
	)

	for current != stateTerminate {
		switch current {
		case statePerceive:
			var err error
			frame, err = o.device.CaptureFrame(ctx)
			if err != nil || frame == nil {
				logger.Error("Frame capture failed, terminating", zap.Error(err))
				frame = nil
				current = stateTerminate
				continue
			}
			uiCtx, err = o.analyzer.Analyze(ctx, frame)
			if err != nil {
				logger.Warn("Screen analysis failed, planning without element context", zap.Error(err))
				uiCtx = &schemas.UIContext{Summary: "Screen analysis unavailable for this step."}
			}
			o.supervisor.ObserveContext(uiCtx)
			current = statePlan

		case statePlan:
			action = o.planner.Plan(ctx, tc.Goal, uiCtx, history, frame)
			if action.Type == schemas.ActionComplete || step >= maxSteps {
				current = stateTerminate
				continue
			}
			current = stateExecute

		case stateExecute:
			result := o.executor.Execute(ctx, action)
			step++
			history = append(history, schemas.HistoryEntry{
				Step:      step,
				Action:    action.Type,
				Status:    result.Status,
				Reasoning: action.Reasoning,
				Message:   result.Message,
			})
			logger.Info("Step executed",
				zap.Int("step", step),
				zap.String("action", string(action.Type)),
				zap.String("status", string(result.Status)),
			)
			o.saveStepFrame(store, runID, step, frame)

			if o.supervisorDue(step, maxSteps) {
				decision := o.supervisor.ShouldContinue(ctx, tc.Goal, history, frame, step, maxSteps)
				if !decision.Continue {
					logger.Info("Supervisor stopped the run", zap.String("reasoning", decision.Reasoning))
					stopEarly = decision.Reasoning
					current = stateTerminate
					continue
				}
			}
			current = statePerceive
		}
	}

	// TERMINATE: capture the final frame and evaluate. A capture failure here
	// leaves frame nil and produces the no-final-frame verdict.
	finalFrame, err := o.device.CaptureFrame(ctx)
	if err != nil {
		logger.Error("Final frame capture failed", zap.Error(err))
		finalFrame = nil
	}
	verdict := o.supervisor.Evaluate(ctx, tc.Goal, finalFrame, history)
	if stopEarly != "" && verdict.Reason == "" {
		verdict.Reason = stopEarly
	}

	result := &schemas.TestResult{
		RunID:     runID,
		TestID:    tc.ID,
		Goal:      tc.Goal,
		Verdict:   verdict,
		History:   history,
		Steps:     step,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	o.persist(store, runID, result, finalFrame)

	logger.Info("Test case finished",
		zap.String("result", string(verdict.Result)),
		zap.Bool("bug_found", verdict.BugFound),
		zap.Int("steps", step),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// supervisorDue reports whether the periodic continue check fires after this
// step. Checks start once the minimum step count has elapsed and then repeat
// at a fixed interval; the budget boundary itself is handled in PLAN.
func (o *Orchestrator) supervisorDue(step, maxSteps int) bool {
	if step < o.cfg.CheckAfter {
		return false
	}
	if step >= maxSteps-1 {
		return true
	}
	return (step-o.cfg.CheckAfter)%o.cfg.CheckInterval == 0
}

// beginRun prepares the artifact location. On failure the run proceeds
// without artifacts; the loop itself never depends on the store.
func (o *Orchestrator) beginRun(tc schemas.TestCase) (string, schemas.ResultStore) {
	if o.store == nil {
		return uuid.NewString(), nil
	}
	runID, err := o.store.BeginRun(tc.ID)
	if err != nil {
		o.logger.Warn("Could not prepare artifact directory, artifacts disabled for this run", zap.Error(err))
		return uuid.NewString(), nil
	}
	return runID, o.store
}

func (o *Orchestrator) saveStepFrame(store schemas.ResultStore, runID string, step int, frame *schemas.Frame) {
	if store == nil || !o.saveStepFrames || frame == nil {
		return
	}
	name := fmt.Sprintf("step_%02d.png", step)
	if err := store.SaveFrame(runID, name, frame); err != nil {
		o.logger.Warn("Could not save step frame", zap.String("name", name), zap.Error(err))
	}
}

func (o *Orchestrator) persist(store schemas.ResultStore, runID string, result *schemas.TestResult, finalFrame *schemas.Frame) {
	if store == nil {
		return
	}
	if finalFrame != nil {
		if err := store.SaveFrame(runID, "final.png", finalFrame); err != nil {
			o.logger.Warn("Could not save final frame", zap.Error(err))
		}
	}
	if err := store.SaveResult(runID, result); err != nil {
		o.logger.Error("Could not persist test result", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
