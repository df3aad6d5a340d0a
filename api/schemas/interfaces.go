// File: api/schemas/interfaces.go
package schemas

import (
	"context"
)

// Device is the capability boundary toward the physical or emulated handset.
// Implementations absorb transport failures into error returns; nothing may
// panic across this boundary. All coordinates here are device pixels - the
// normalized space ends at the executor.
type Device interface {
	// ScreenSize returns the device resolution in pixels. Implementations
	// cache the value for the session; Reset on the concrete type discards it.
	ScreenSize(ctx context.Context) (width, height int, err error)
	// CaptureFrame grabs the current screen. A nil frame with a non-nil error
	// means perception is impossible for this cycle.
	CaptureFrame(ctx context.Context) (*Frame, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, durationMs int) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, keycode int) error
	Launch(ctx context.Context, appID string) error
	GoHome(ctx context.Context) error
}

// LLMClient is the single shared model backend. One client value is
// constructed per run and injected into the planner, supervisor, and vision
// analyzer so that rate limiting is enforced process-wide. Generate may fail
// on transport errors; callers must degrade to their component-specific
// fallback rather than propagate.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// ResultStore persists run artifacts. The result record is written exactly
// once per test case, at termination.
type ResultStore interface {
	// BeginRun prepares an artifact location for one test case and returns
	// its identifier (used for frame filenames and the result record).
	BeginRun(testID string) (runID string, err error)
	SaveResult(runID string, result *TestResult) error
	SaveFrame(runID string, name string, frame *Frame) error
}
