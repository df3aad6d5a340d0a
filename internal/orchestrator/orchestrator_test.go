// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/agent"
	"github.com/tsenderov/droidprobe/internal/config"
	"github.com/tsenderov/droidprobe/internal/mocks"
)

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:      15,
		HistoryWindow: 4,
		CheckAfter:    3,
		CheckInterval: 2,
	}
}

// scriptedPlanner returns its actions in order, then repeats the last one.
type scriptedPlanner struct {
	actions []schemas.Action
	calls   int
}

func (p *scriptedPlanner) Plan(_ context.Context, _ string, _ *schemas.UIContext, _ []schemas.HistoryEntry, _ *schemas.Frame) schemas.Action {
	i := p.calls
	p.calls++
	if i >= len(p.actions) {
		i = len(p.actions) - 1
	}
	return p.actions[i]
}

// stubAnalyzer returns a fixed context or error.
type stubAnalyzer struct {
	uiCtx *schemas.UIContext
	err   error
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ *schemas.Frame) (*schemas.UIContext, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.uiCtx != nil {
		return a.uiCtx, nil
	}
	return &schemas.UIContext{Summary: "a screen"}, nil
}

// stubExecutor succeeds on everything and counts executions.
type stubExecutor struct {
	executed []schemas.Action
}

func (e *stubExecutor) Execute(_ context.Context, action schemas.Action) schemas.ExecutionResult {
	e.executed = append(e.executed, action)
	return schemas.ExecutionResult{Action: action.Type, Status: schemas.StatusSuccess, Message: "ok"}
}

// stubSupervisor records observations and returns scripted decisions.
type stubSupervisor struct {
	continueUntil  int // stop once checked at step >= continueUntil (0: never stop)
	verdict        schemas.Verdict
	checks         int
	observed       int
	resets         int
	evaluations    int
	evaluatedFrame *schemas.Frame
	evaluatedSet   bool
}

func (s *stubSupervisor) ObserveContext(*schemas.UIContext) { s.observed++ }
func (s *stubSupervisor) Reset()                            { s.resets++ }

func (s *stubSupervisor) ShouldContinue(_ context.Context, _ string, _ []schemas.HistoryEntry, _ *schemas.Frame, step, _ int) agent.ContinueDecision {
	s.checks++
	if s.continueUntil > 0 && step >= s.continueUntil {
		return agent.ContinueDecision{Continue: false, Reasoning: "stuck"}
	}
	return agent.ContinueDecision{Continue: true, Reasoning: "keep going"}
}

func (s *stubSupervisor) Evaluate(_ context.Context, _ string, frame *schemas.Frame, _ []schemas.HistoryEntry) schemas.Verdict {
	s.evaluations++
	s.evaluatedFrame = frame
	s.evaluatedSet = true
	if frame == nil {
		return schemas.Verdict{Result: schemas.VerdictFail, Reason: "no final frame"}
	}
	return s.verdict
}

func testFrame() *schemas.Frame {
	return &schemas.Frame{PNG: []byte{1, 2, 3}, Width: 1080, Height: 2400, CapturedAt: time.Now()}
}

func newTestOrchestrator(t *testing.T, planner Planner, sup Supervisor, dev schemas.Device, store schemas.ResultStore) (*Orchestrator, *stubExecutor) {
	t.Helper()
	exec := &stubExecutor{}
	o, err := New(testAgentConfig(), zap.NewNop(), dev, &stubAnalyzer{}, planner, exec, sup, store)
	require.NoError(t, err)
	o.sleep = func(context.Context, time.Duration) {}
	return o, exec
}

func capturingDevice() *mocks.MockDevice {
	dev := new(mocks.MockDevice)
	dev.On("CaptureFrame", mock.Anything).Return(testFrame(), nil)
	return dev
}

func tapAction() schemas.Action {
	return schemas.Action{
		Type:       schemas.ActionTap,
		Parameters: map[string]any{"x": 500.0, "y": 500.0},
		Reasoning:  "tap something",
	}
}

func TestRunTestCase_CompleteTerminatesImmediately(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{
		schemas.CompleteAction("goal achieved"),
	}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictPass, Reason: "done"}}
	dev := capturingDevice()

	o, exec := newTestOrchestrator(t, planner, sup, dev, nil)
	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "do the thing"})

	assert.Equal(t, schemas.VerdictPass, result.Verdict.Result)
	assert.Zero(t, result.Steps)
	assert.Empty(t, exec.executed, "complete must not reach the executor")
	assert.Equal(t, 1, sup.evaluations, "evaluate runs exactly once")
}

func TestRunTestCase_StepBudgetNeverExceeded(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{tapAction()}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictFail, Reason: "budget"}}
	dev := capturingDevice()

	o, _ := newTestOrchestrator(t, planner, sup, dev, nil)
	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g", MaxSteps: 5})

	assert.Equal(t, 5, result.Steps)
	assert.LessOrEqual(t, result.Steps, 5)
	assert.Equal(t, 1, sup.evaluations)
}

func TestRunTestCase_HistoryIsMonotonicAndGapFree(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{tapAction()}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictFail}}
	dev := capturingDevice()

	o, _ := newTestOrchestrator(t, planner, sup, dev, nil)
	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g", MaxSteps: 6})

	require.Len(t, result.History, 6)
	for i, entry := range result.History {
		assert.Equal(t, i+1, entry.Step)
	}
}

func TestRunTestCase_SupervisorStopForcesTermination(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{tapAction()}}
	sup := &stubSupervisor{
		continueUntil: 3,
		verdict:       schemas.Verdict{Result: schemas.VerdictFail, Reason: "stuck"},
	}
	dev := capturingDevice()

	o, _ := newTestOrchestrator(t, planner, sup, dev, nil)
	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g", MaxSteps: 15})

	assert.Equal(t, 3, result.Steps, "stop decision at the first check must end the run")
	assert.Equal(t, 1, sup.evaluations)
}

func TestRunTestCase_SupervisorNotCalledBeforeThreshold(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{
		tapAction(),
		tapAction(),
		schemas.CompleteAction("done"),
	}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictPass}}
	dev := capturingDevice()

	o, _ := newTestOrchestrator(t, planner, sup, dev, nil)
	o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g"})

	assert.Zero(t, sup.checks, "checks must not fire before the minimum step count")
}

func TestRunTestCase_CaptureFailureYieldsNoFinalFrameVerdict(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{tapAction()}}
	sup := &stubSupervisor{}
	dev := new(mocks.MockDevice)
	dev.On("CaptureFrame", mock.Anything).Return(nil, errors.New("screencap failed"))

	o, exec := newTestOrchestrator(t, planner, sup, dev, nil)
	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g"})

	assert.Equal(t, schemas.VerdictFail, result.Verdict.Result)
	assert.Equal(t, "no final frame", result.Verdict.Reason)
	assert.False(t, result.Verdict.BugFound)
	assert.Empty(t, exec.executed)
	require.True(t, sup.evaluatedSet)
	assert.Nil(t, sup.evaluatedFrame)
}

func TestRunTestCase_ObservesEveryPerceivedContext(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{
		tapAction(),
		schemas.CompleteAction("done"),
	}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictPass}}
	dev := capturingDevice()

	o, _ := newTestOrchestrator(t, planner, sup, dev, nil)
	o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g"})

	assert.Equal(t, 2, sup.observed)
	assert.Equal(t, 1, sup.resets)
}

func TestRunTestCase_AnalyzerFailureDegradesToEmptyContext(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{schemas.CompleteAction("done")}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictPass}}
	dev := capturingDevice()
	exec := &stubExecutor{}

	o, err := New(testAgentConfig(), zap.NewNop(), dev, &stubAnalyzer{err: errors.New("vision down")}, planner, exec, sup, nil)
	require.NoError(t, err)
	o.sleep = func(context.Context, time.Duration) {}

	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g"})

	assert.Equal(t, schemas.VerdictPass, result.Verdict.Result, "a vision failure alone must not abort the run")
}

func TestRunTestCase_LaunchesAppWhenConfigured(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{schemas.CompleteAction("done")}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictPass}}
	dev := capturingDevice()
	dev.On("Launch", mock.Anything, "com.example.app").Return(nil)

	o, _ := newTestOrchestrator(t, planner, sup, dev, nil)
	o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g", AppID: "com.example.app"})

	dev.AssertCalled(t, "Launch", mock.Anything, "com.example.app")
}

func TestRunTestCase_PersistsArtifacts(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{schemas.CompleteAction("done")}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictPass, Reason: "done"}}
	dev := capturingDevice()

	store := new(mocks.MockResultStore)
	store.On("BeginRun", "tc1").Return("run-1", nil)
	store.On("SaveFrame", "run-1", "final.png", mock.Anything).Return(nil)
	store.On("SaveResult", "run-1", mock.Anything).Return(nil)

	o, _ := newTestOrchestrator(t, planner, sup, dev, store)
	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g"})

	assert.Equal(t, "run-1", result.RunID)
	store.AssertExpectations(t)
}

func TestRunTestCase_StoreFailureDoesNotAbortRun(t *testing.T) {
	planner := &scriptedPlanner{actions: []schemas.Action{schemas.CompleteAction("done")}}
	sup := &stubSupervisor{verdict: schemas.Verdict{Result: schemas.VerdictPass}}
	dev := capturingDevice()

	store := new(mocks.MockResultStore)
	store.On("BeginRun", "tc1").Return("", errors.New("disk full"))

	o, _ := newTestOrchestrator(t, planner, sup, dev, store)
	result := o.RunTestCase(context.Background(), schemas.TestCase{ID: "tc1", Goal: "g"})

	assert.Equal(t, schemas.VerdictPass, result.Verdict.Result)
	assert.NotEmpty(t, result.RunID)
	store.AssertNotCalled(t, "SaveResult", mock.Anything, mock.Anything)
}

func TestSupervisorDue(t *testing.T) {
	o := &Orchestrator{cfg: testAgentConfig()}

	assert.False(t, o.supervisorDue(1, 15))
	assert.False(t, o.supervisorDue(2, 15))
	assert.True(t, o.supervisorDue(3, 15))
	assert.False(t, o.supervisorDue(4, 15))
	assert.True(t, o.supervisorDue(5, 15))
	assert.True(t, o.supervisorDue(14, 15), "checks always fire at the budget boundary")
}
