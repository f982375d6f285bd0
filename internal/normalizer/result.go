// Package normalizer implements the Event Normalizer (C4): two stateful
// per-turn parsers that translate a Claude-Code-family NDJSON stream and an
// OpenCode SSE stream into the backend-agnostic CoreEvent union consumed by
// mission runners.
package normalizer

import (
	"encoding/json"
	"strings"
)

func isErrorResult(isError bool, subtype, result string) bool {
	if isError || subtype == "error" {
		return true
	}
	if strings.HasPrefix(result, "API Error:") {
		return true
	}
	if strings.Contains(result, `"type":"error"`) ||
		strings.Contains(result, `"overloaded_error"`) ||
		strings.Contains(result, `"api_error"`) {
		return true
	}
	return false
}

// humanMessage picks the best human-readable message out of a result
// message's candidate fields, then tries to dig a nested error/message
// string out of embedded JSON if the chosen candidate looks like it
// contains any.
func humanMessage(result, errField, message string, errs []string) string {
	chosen := result
	if chosen == "" {
		chosen = errField
	}
	if chosen == "" {
		chosen = message
	}
	if chosen == "" && len(errs) > 0 {
		chosen = errs[0]
	}
	if chosen == "" {
		return ""
	}

	embedded, ok := extractEmbeddedJSON(chosen)
	if !ok {
		return chosen
	}
	if errObj, ok := embedded["error"].(map[string]interface{}); ok {
		if m, ok := errObj["message"].(string); ok && m != "" {
			return m
		}
	}
	if m, ok := embedded["message"].(string); ok && m != "" {
		return m
	}
	return chosen
}

// extractEmbeddedJSON finds the first '{' in s and decodes a single JSON
// value starting there, ignoring anything after it (and anything before it).
func extractEmbeddedJSON(s string) (map[string]interface{}, bool) {
	idx := strings.IndexByte(s, '{')
	if idx == -1 {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s[idx:]))
	var v map[string]interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}
