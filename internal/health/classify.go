package health

import "strings"

// ClassifyHTTPStatus maps an HTTP status code to a cooldown Reason per the
// status-code half of the classification table. ok is false for a 2xx/3xx
// status that isn't a recognized failure signal — callers should not call
// RecordFailure in that case.
func ClassifyHTTPStatus(status int) (Reason, bool) {
	switch {
	case status == 429:
		return ReasonRateLimit, true
	case status == 529:
		return ReasonOverloaded, true
	case status == 401 || status == 403:
		return ReasonAuthErr, true
	case status >= 500 && status <= 599:
		return ReasonServerErr, true
	default:
		return "", false
	}
}

// ClassifyBody inspects an error response body for the substrings the
// table names, for callers that only have a body and no status (or a
// status that didn't already classify, e.g. a 200 wrapping an error
// object). Returns ServerErr as the catch-all for "other embedded error".
func ClassifyBody(body string) Reason {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "rate_limit"), strings.Contains(lower, "resource_exhausted"):
		return ReasonRateLimit
	case strings.Contains(lower, "overloaded"):
		return ReasonOverloaded
	case strings.Contains(lower, "auth"), strings.Contains(lower, "permission"):
		return ReasonAuthErr
	default:
		return ReasonServerErr
	}
}

// Classify combines the status-code and body rules: a recognized status
// wins; otherwise the body is inspected; a network/timeout failure (no
// status, no body) is the caller's job to pass as ReasonTimeout directly.
func Classify(status int, body string) Reason {
	if reason, ok := ClassifyHTTPStatus(status); ok {
		return reason
	}
	return ClassifyBody(body)
}
