package stream

import (
	"encoding/json"
	"strings"
)

// TryUnwrapActionInput returns the action_input value when s is a JSON object
// envelope carrying a non-empty string action_input. Anything else, including
// malformed JSON, yields ("", false) and the caller keeps s as-is.
func TryUnwrapActionInput(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var envelope struct {
		ActionInput *string `json:"action_input"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return "", false
	}
	if envelope.ActionInput == nil || *envelope.ActionInput == "" {
		return "", false
	}
	return *envelope.ActionInput, true
}
