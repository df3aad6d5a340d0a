// File: internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// fencedJSONRegex pulls a JSON object out of a markdown code fence. Backticks
// are written as \x60 because Go raw strings cannot contain them.
var fencedJSONRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

// ExtractJSON locates the single JSON object embedded in a model response:
// it strips markdown code fences, then falls back to the span between the
// first '{' and the last '}'. An empty string is returned when no object
// boundary can be found.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		if m := fencedJSONRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
	}

	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first == -1 || last == -1 || last < first {
		return ""
	}
	return response[first : last+1]
}

// ParseJSONResponse extracts and unmarshals the JSON object in a model
// response into T. Malformed payloads yield an error with a truncated snippet
// of the candidate JSON; callers decide how to fall back.
func ParseJSONResponse[T any](response string) (*T, error) {
	candidate := ExtractJSON(response)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in model response (truncated): %s", Truncate(response, 200))
	}

	var result T
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w (truncated): %s", err, Truncate(candidate, 200))
	}
	return &result, nil
}

// Truncate caps s at maxLen bytes for log and error output.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
