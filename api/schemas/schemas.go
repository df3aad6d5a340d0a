// File: api/schemas/schemas.go
package schemas

import (
	"time"
)

// ElementType categorizes an interactive UI element reported by the vision
// analyzer.
type ElementType string

const (
	ElementButton  ElementType = "button"
	ElementInput   ElementType = "input"
	ElementToggle  ElementType = "toggle"
	ElementLink    ElementType = "link"
	ElementTab     ElementType = "tab"
	ElementCard    ElementType = "card"
	ElementUnknown ElementType = "unknown"
)

// KnownElementType reports whether t is one of the recognized element types.
func KnownElementType(t ElementType) bool {
	switch t {
	case ElementButton, ElementInput, ElementToggle, ElementLink, ElementTab, ElementCard, ElementUnknown:
		return true
	}
	return false
}

// UIElement is a single interactive element on screen. Coordinates are in the
// normalized 0-1000 space; they are converted to pixels only at the device
// boundary.
type UIElement struct {
	Text        string      `json:"text"`
	Type        ElementType `json:"type"`
	X           int         `json:"x"`
	Y           int         `json:"y"`
	Description string      `json:"description,omitempty"`
}

// UIContext is the structured description of one captured frame. It is
// produced fresh each perception cycle and superseded by the next one.
type UIContext struct {
	Summary  string      `json:"screen_summary"`
	Blocking bool        `json:"blocking_screen"`
	Elements []UIElement `json:"elements"`
}

// ExecutionStatus is the outcome of a single executed action.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

// ExecutionResult reports what happened when one action was performed against
// the device. It is immutable once produced.
type ExecutionResult struct {
	Action  ActionType      `json:"action"`
	Status  ExecutionStatus `json:"status"`
	Message string          `json:"message"`
	Error   string          `json:"error,omitempty"`
}

// Succeeded reports whether the action completed without a device failure.
func (r ExecutionResult) Succeeded() bool { return r.Status == StatusSuccess }

// HistoryEntry is one completed step of a test case. Step numbers are
// monotonically increasing with no gaps within a single test case.
type HistoryEntry struct {
	Step      int             `json:"step"`
	Action    ActionType      `json:"action"`
	Status    ExecutionStatus `json:"status"`
	Reasoning string          `json:"reasoning"`
	Message   string          `json:"message,omitempty"`
}

// VerdictResult is the final pass/fail judgment for a test case.
type VerdictResult string

const (
	VerdictPass VerdictResult = "PASS"
	VerdictFail VerdictResult = "FAIL"
)

// Verdict is the supervisor's final judgment. BugFound is reserved for cases
// where an expected UI feature is demonstrably absent or incorrect; execution
// friction (element never located, capture failure) keeps BugFound false.
type Verdict struct {
	Result   VerdictResult `json:"result"`
	Reason   string        `json:"reason"`
	BugFound bool          `json:"bug_found"`
}

// Sanitize normalizes a model-produced verdict so that BugFound can only
// co-occur with FAIL: anything other than PASS becomes FAIL, and PASS clears
// BugFound.
func (v Verdict) Sanitize() Verdict {
	if v.Result != VerdictPass {
		v.Result = VerdictFail
	}
	if v.Result == VerdictPass {
		v.BugFound = false
	}
	return v
}

// Frame is a single captured image of the device screen.
type Frame struct {
	PNG        []byte    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}

// TestCase is one exploratory test to drive against the device.
type TestCase struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Goal     string `json:"goal"`
	AppID    string `json:"app_id,omitempty"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

// TestResult is the persisted run artifact for one test case, written exactly
// once at termination.
type TestResult struct {
	RunID     string         `json:"run_id"`
	TestID    string         `json:"test_id"`
	Goal      string         `json:"goal"`
	Verdict   Verdict        `json:"verdict"`
	History   []HistoryEntry `json:"history"`
	Steps     int            `json:"steps"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"timestamp"`
	// Errored marks a run aborted by an internal failure rather than judged
	// by the supervisor.
	Errored bool `json:"errored,omitempty"`
}

// SuiteSummary aggregates the outcomes of a full suite run.
type SuiteSummary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Errored  int `json:"errored"`
	BugCount int `json:"bugs_found"`
}

// GenerationRequest is the transport-agnostic request handed to an LLM client.
// Frame is optional; when present the client attaches it as an image payload.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Frame        *Frame
	ForceJSON    bool
}
