package proxy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/missionrelay/missionrelay/internal/providerkind"
)

const maxRetryAfter = time.Hour

// retryAfterFromHeaders implements §4.8.1: provider-specific rate-limit
// header parsing, falling back to the generic Retry-After header. The
// returned duration is always capped at one hour; zero means no hint was
// present.
func retryAfterFromHeaders(kind providerkind.Kind, h http.Header) time.Duration {
	var d time.Duration
	var found bool

	switch kind {
	case providerkind.OpenAI, providerkind.XAI, providerkind.Groq, providerkind.OpenRouter:
		d, found = minDuration(
			parseRateLimitHeader(h.Get("x-ratelimit-reset-requests")),
			parseRateLimitHeader(h.Get("x-ratelimit-reset-tokens")),
			parseRateLimitHeader(h.Get("x-ratelimit-reset")),
		)
	case providerkind.Anthropic:
		d, found = minDuration(
			parseAnthropicResetHeader(h.Get("anthropic-ratelimit-requests-reset")),
			parseAnthropicResetHeader(h.Get("anthropic-ratelimit-tokens-reset")),
			parseAnthropicResetHeader(h.Get("anthropic-ratelimit-input-tokens-reset")),
			parseAnthropicResetHeader(h.Get("anthropic-ratelimit-output-tokens-reset")),
		)
	}

	if !found {
		d, found = parseRetryAfterHeader(h.Get("Retry-After"))
	}
	if !found {
		return 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	if d < 0 {
		d = 0
	}
	return d
}

// minDuration returns the smallest of the durations for which ok was true,
// and whether any candidate was present at all.
func minDuration(candidates ...candidate) (time.Duration, bool) {
	var best time.Duration
	found := false
	for _, c := range candidates {
		if !c.ok {
			continue
		}
		if !found || c.d < best {
			best = c.d
			found = true
		}
	}
	return best, found
}

type candidate struct {
	d  time.Duration
	ok bool
}

// parseRateLimitHeader parses the OpenAI/xAI/Groq/OpenRouter family of
// ratelimit-reset headers: Go duration syntax (Xh, Xm, Xs, Xms, or
// combinations like "1m30s"), bare numeric seconds, or (if the numeric
// exceeds 10^9) a Unix timestamp converted to a delta from now.
func parseRateLimitHeader(v string) candidate {
	v = strings.TrimSpace(v)
	if v == "" {
		return candidate{}
	}

	if d, err := time.ParseDuration(v); err == nil {
		return candidate{d: d, ok: true}
	}

	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n > 1e9 {
			return candidate{d: time.Until(time.Unix(int64(n), 0)), ok: true}
		}
		return candidate{d: time.Duration(n * float64(time.Second)), ok: true}
	}

	return candidate{}
}

// parseAnthropicResetHeader parses an ISO-8601 timestamp and returns the
// duration from now until that instant.
func parseAnthropicResetHeader(v string) candidate {
	v = strings.TrimSpace(v)
	if v == "" {
		return candidate{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return candidate{}
	}
	return candidate{d: time.Until(t), ok: true}
}

// parseRetryAfterHeader parses the generic HTTP Retry-After header: either
// a number of seconds or an HTTP-date.
func parseRetryAfterHeader(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}
