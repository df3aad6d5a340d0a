// File: internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/tsenderov/droidprobe/api/schemas"
)

const visionSystemPrompt = `You are a mobile UI analyst. You receive a screenshot of an Android app and
must describe it as structured data for an automated tester.`

const visionUserPromptTemplate = `Analyze this mobile app screenshot and list every interactive element you can see.

Coordinates are on a 0-1000 grid from the top-left corner of the screen, on both axes.

Respond with ONLY a valid JSON object in this exact shape:
{
    "screen_summary": "one or two sentences describing the screen",
    "blocking_screen": true/false,
    "elements": [
        {"text": "visible label or empty", "type": "button|input|toggle|link|tab|card",
         "x": 0-1000, "y": 0-1000, "description": "what this element does"}
    ]
}

Set "blocking_screen" to true only when a modal dialog, permission prompt, or
loading state prevents normal interaction with the app underneath.`

const plannerSystemPrompt = `You are a mobile app testing expert driving an automated exploratory test.
You look at the current screen, consider what has already been tried, and decide
the single next action that makes the most progress toward the test goal.`

const plannerUserPromptTemplate = `Decide the NEXT SINGLE ACTION for this test.

GOAL: %s

WHAT WE'VE DONE SO FAR:
%s

CURRENT SCREEN:
%s

IMPORTANT RULES:
1. Only interact with elements listed in the current screen description.
2. Coordinates are on a 0-1000 grid from the top-left corner, on both axes.
3. If a text field must be filled, tap it before typing.
4. If you are stuck after several similar attempts, use "complete" so the test
   can be evaluated.

AVAILABLE ACTIONS:
1. tap    {"action_type": "tap", "parameters": {"x": 500, "y": 300}, "reasoning": "..."}
2. type   {"action_type": "type", "parameters": {"text": "hello"}, "reasoning": "..."}
3. press_key {"action_type": "press_key", "parameters": {"key": "back|home|enter|backspace|menu"}, "reasoning": "..."}
4. swipe  {"action_type": "swipe", "parameters": {"start_x": 500, "start_y": 800, "end_x": 500, "end_y": 200, "duration": 300}, "reasoning": "..."}
5. wait   {"action_type": "wait", "parameters": {"seconds": 2}, "reasoning": "..."}
6. complete {"action_type": "complete", "parameters": {}, "reasoning": "..."}

Respond with ONLY a valid JSON object, nothing else.`

const supervisorContinuePromptTemplate = `You are a QA test supervisor. Decide if this test execution should continue or
if it is ready for final evaluation.

TEST GOAL: %s

ACTION HISTORY:
%s

DECISION CRITERIA:
- Continue if more steps are needed to reach the test goal.
- Stop if the goal is visibly achieved and ready for pass/fail verification.
- Stop if the run is stuck in a loop or cannot proceed after repeated attempts.

Respond with ONLY a valid JSON object:
{"continue": true/false, "reasoning": "brief explanation"}`

const supervisorEvaluatePromptTemplate = `You are a QA test supervisor. Evaluate whether this test PASSED or FAILED.

TEST GOAL: %s

COMPLETE ACTION HISTORY:
%s

EVALUATION RULES:
1. PASS when the test goal was completed and every expected element behaved correctly.
2. FAIL when the goal could not be completed, an expected element was missing,
   or a verification found wrong content.

IMPORTANT DISTINCTION:
- Set "bug_found" to true ONLY when an expected element or behavior is
  demonstrably absent or incorrect in the app itself.
- Set "bug_found" to false when the failure was technical: the tester could not
  locate or operate an element that does exist, a screenshot failed, or the run
  was cut short.

Respond with ONLY a valid JSON object:
{"result": "PASS" or "FAIL", "reason": "brief explanation", "bug_found": true/false}`

// formatHistory renders history entries for a prompt, oldest first.
func formatHistory(history []schemas.HistoryEntry) string {
	if len(history) == 0 {
		return "Nothing yet, this is the first step."
	}
	var b strings.Builder
	for i, h := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Step %d: %s (%s) - %s", h.Step, h.Action, h.Status, h.Reasoning)
		if h.Message != "" {
			fmt.Fprintf(&b, " [%s]", h.Message)
		}
	}
	return b.String()
}

// formatUIContext renders the structured screen description for the planner.
func formatUIContext(uiCtx *schemas.UIContext) string {
	if uiCtx == nil {
		return "No screen description available."
	}
	var b strings.Builder
	b.WriteString(uiCtx.Summary)
	if uiCtx.Blocking {
		b.WriteString("\nA blocking overlay (modal/loading) is present.")
	}
	if len(uiCtx.Elements) == 0 {
		b.WriteString("\nNo interactive elements detected.")
		return b.String()
	}
	b.WriteString("\nInteractive elements:")
	for _, el := range uiCtx.Elements {
		fmt.Fprintf(&b, "\n- [%s] %q at (%d, %d)", el.Type, el.Text, el.X, el.Y)
		if el.Description != "" {
			fmt.Fprintf(&b, ": %s", el.Description)
		}
	}
	return b.String()
}

// historyJSON renders history as indented JSON for the supervisor prompts.
func historyJSON(history []schemas.HistoryEntry) string {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(history, "", "  ")
	if err != nil {
		return formatHistory(history)
	}
	return string(out)
}
