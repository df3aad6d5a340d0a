// File: internal/agent/executor.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/config"
	"github.com/tsenderov/droidprobe/internal/device"
)

// actionHandler performs one action kind. A returned error becomes a failed
// ExecutionResult; handlers never panic.
type actionHandler func(ctx context.Context, action schemas.Action) (string, error)

// Executor performs validated actions against the device. It never returns an
// error to its caller: every failure is folded into the ExecutionResult so
// the loop can continue and the supervisor can see what happened.
type Executor struct {
	device   schemas.Device
	logger   *zap.Logger
	cfg      config.AgentConfig
	handlers map[schemas.ActionType]actionHandler

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewExecutor(dev schemas.Device, cfg config.AgentConfig, logger *zap.Logger) *Executor {
	e := &Executor{
		device: dev,
		logger: logger.Named("agent.executor"),
		cfg:    cfg,
		sleep:  sleepCtx,
	}
	e.handlers = map[schemas.ActionType]actionHandler{
		schemas.ActionTap:      e.executeTap,
		schemas.ActionTypeText: e.executeType,
		schemas.ActionPressKey: e.executePressKey,
		schemas.ActionSwipe:    e.executeSwipe,
		schemas.ActionWait:     e.executeWait,
		schemas.ActionComplete: e.executeComplete,
	}
	return e
}

// Execute performs one action and reports the outcome.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) schemas.ExecutionResult {
	result := schemas.ExecutionResult{Action: action.Type}

	handler, ok := e.handlers[action.Type]
	if !ok {
		result.Status = schemas.StatusFailed
		result.Error = fmt.Sprintf("unknown action type: %s", action.Type)
		result.Message = "Action was not executed"
		return result
	}

	e.logger.Debug("Executing action",
		zap.String("action", string(action.Type)),
		zap.Any("parameters", action.Parameters),
	)

	message, err := handler(ctx, action)
	if err != nil {
		result.Status = schemas.StatusFailed
		result.Error = err.Error()
		result.Message = message
		if result.Message == "" {
			result.Message = "Action failed"
		}
		e.logger.Warn("Action failed", zap.String("action", string(action.Type)), zap.Error(err))
		return result
	}

	result.Status = schemas.StatusSuccess
	result.Message = message
	return result
}

func (e *Executor) executeTap(ctx context.Context, action schemas.Action) (string, error) {
	nx, ok := action.FloatParam("x")
	if !ok {
		return "", fmt.Errorf("tap requires a numeric x coordinate")
	}
	ny, ok := action.FloatParam("y")
	if !ok {
		return "", fmt.Errorf("tap requires a numeric y coordinate")
	}

	w, h, err := e.device.ScreenSize(ctx)
	if err != nil {
		return "", fmt.Errorf("could not determine screen size: %w", err)
	}
	px, py, err := device.Scale(nx, ny, w, h)
	if err != nil {
		return "", err
	}

	if err := e.device.Tap(ctx, px, py); err != nil {
		return "", fmt.Errorf("tap failed: %w", err)
	}
	e.sleep(ctx, e.cfg.TapSettle)
	return fmt.Sprintf("Tapped at (%d, %d)", px, py), nil
}

func (e *Executor) executeType(ctx context.Context, action schemas.Action) (string, error) {
	text, ok := action.StringParam("text")
	if !ok || text == "" {
		return "", fmt.Errorf("type requires non-empty text")
	}
	if err := e.device.TypeText(ctx, text); err != nil {
		return "", fmt.Errorf("text input failed: %w", err)
	}
	return fmt.Sprintf("Typed %q", text), nil
}

func (e *Executor) executePressKey(ctx context.Context, action schemas.Action) (string, error) {
	name, ok := action.StringParam("key")
	if !ok || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("press_key requires a key name")
	}
	code, ok := device.KeyCode(name)
	if !ok {
		return "", fmt.Errorf("unknown key name: %q", name)
	}
	if err := e.device.PressKey(ctx, code); err != nil {
		return "", fmt.Errorf("key press failed: %w", err)
	}
	return fmt.Sprintf("Pressed %s", strings.ToLower(name)), nil
}

func (e *Executor) executeSwipe(ctx context.Context, action schemas.Action) (string, error) {
	coords := make([]float64, 0, 4)
	for _, key := range []string{"start_x", "start_y", "end_x", "end_y"} {
		v, ok := action.FloatParam(key)
		if !ok {
			return "", fmt.Errorf("swipe requires a numeric %s coordinate", key)
		}
		coords = append(coords, v)
	}

	durationMs := 300
	if v, ok := action.FloatParam("duration"); ok && v > 0 {
		durationMs = int(v)
	}

	w, h, err := e.device.ScreenSize(ctx)
	if err != nil {
		return "", fmt.Errorf("could not determine screen size: %w", err)
	}
	x1, y1, err := device.Scale(coords[0], coords[1], w, h)
	if err != nil {
		return "", err
	}
	x2, y2, err := device.Scale(coords[2], coords[3], w, h)
	if err != nil {
		return "", err
	}

	if err := e.device.Swipe(ctx, x1, y1, x2, y2, durationMs); err != nil {
		return "", fmt.Errorf("swipe failed: %w", err)
	}
	e.sleep(ctx, e.cfg.SwipeSettle)
	return fmt.Sprintf("Swiped (%d, %d) -> (%d, %d)", x1, y1, x2, y2), nil
}

func (e *Executor) executeWait(ctx context.Context, action schemas.Action) (string, error) {
	duration := e.cfg.DefaultWait
	if v, ok := action.FloatParam("seconds"); ok && v > 0 {
		duration = time.Duration(v * float64(time.Second))
	}
	if duration > e.cfg.MaxWait {
		duration = e.cfg.MaxWait
	}
	e.sleep(ctx, duration)
	return fmt.Sprintf("Waited %s", duration), nil
}

func (e *Executor) executeComplete(_ context.Context, _ schemas.Action) (string, error) {
	return "Test execution complete, ready for evaluation", nil
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
