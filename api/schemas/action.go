// File: api/schemas/action.go
package schemas

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType enumerates the action vocabulary shared by the planner and the
// executor. Adding a new kind means extending this set plus registering one
// handler in the executor's dispatch table.
type ActionType string

const (
	ActionTap      ActionType = "tap"
	ActionTypeText ActionType = "type"
	ActionPressKey ActionType = "press_key"
	ActionSwipe    ActionType = "swipe"
	ActionWait     ActionType = "wait"
	ActionComplete ActionType = "complete"
)

// DefaultReasoning is substituted when a decision arrives without one.
const DefaultReasoning = "No reasoning provided"

var (
	// ErrMissingAction indicates a decision object without an action_type.
	ErrMissingAction = errors.New("decision is missing action_type")
	// ErrUnknownAction indicates an action_type outside the vocabulary.
	ErrUnknownAction = errors.New("unknown action_type")
)

// KnownActionType reports whether t is one of the six recognized kinds.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionTap, ActionTypeText, ActionPressKey, ActionSwipe, ActionWait, ActionComplete:
		return true
	}
	return false
}

// Action is one decision produced by the planner. Parameters are
// kind-specific; their constraints are enforced by the executor, not here.
type Action struct {
	Type       ActionType     `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning"`
}

// NormalizeAction validates a raw decision against the protocol rules and
// returns a well-formed Action. An unknown or missing kind is rejected; the
// caller substitutes its safe fallback. Absent parameters are coerced to an
// empty map and absent reasoning to DefaultReasoning, so downstream code
// never deals with nil maps or empty rationale.
func NormalizeAction(raw Action) (Action, error) {
	if raw.Type == "" {
		return Action{}, ErrMissingAction
	}
	if !KnownActionType(raw.Type) {
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, raw.Type)
	}
	if raw.Parameters == nil {
		raw.Parameters = map[string]any{}
	}
	if raw.Reasoning == "" {
		raw.Reasoning = DefaultReasoning
	}
	return raw, nil
}

// WaitAction builds the recoverable fallback used when a decision is
// malformed or invalid: a short pause that keeps the loop advancing.
func WaitAction(seconds float64, reasoning string) Action {
	return Action{
		Type:       ActionWait,
		Parameters: map[string]any{"seconds": seconds},
		Reasoning:  reasoning,
	}
}

// CompleteAction builds the terminal fallback used when the model backend is
// unreachable or rate-limit retries are exhausted: hand over to evaluation.
func CompleteAction(reasoning string) Action {
	return Action{
		Type:       ActionComplete,
		Parameters: map[string]any{},
		Reasoning:  reasoning,
	}
}

// FloatParam extracts a numeric parameter. JSON numbers decode as float64,
// but the model occasionally emits integers or numeric strings; both are
// accepted.
func (a Action) FloatParam(key string) (float64, bool) {
	v, ok := a.Parameters[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// StringParam extracts a string parameter.
func (a Action) StringParam(key string) (string, bool) {
	v, ok := a.Parameters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
