package orchestrator

import (
	"encoding/json"
	"strings"
)

// ValidationResult is the parsed verdict of a validator model.
type ValidationResult struct {
	Passed     bool   `json:"passed"`
	Reason     string `json:"reason"`
	NextAction string `json:"next_action"`
}

// parseValidation turns a validator model's raw text into a
// ValidationResult. It first attempts strict JSON parsing, then
// retries on the substring between the first '{' and the last '}'.
// If both fail it synthesizes a failed result instead of propagating a
// parse error: the validator is an unreliable text-generating
// collaborator, and a malformed verdict means "retry", not "crash".
func parseValidation(raw string) ValidationResult {
	if v, ok := tryParseValidation(raw); ok {
		return v
	}
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		if v, ok := tryParseValidation(raw[i : j+1]); ok {
			return v
		}
	}
	return ValidationResult{Passed: false, Reason: "validation parsing failed", NextAction: "retry"}
}

func tryParseValidation(s string) (ValidationResult, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return ValidationResult{}, false
	}
	var v ValidationResult
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return ValidationResult{}, false
	}
	return v, true
}
