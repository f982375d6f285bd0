// Package proxy implements the Failover Proxy (C8): an OpenAI-compatible
// HTTP endpoint that resolves a chain id to an ordered list of concrete
// (provider, account, model) entries and attempts each in turn, cooling
// down and classifying failures through the Provider Health Tracker.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/missionrelay/missionrelay/internal/chain"
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/health"
	"github.com/missionrelay/missionrelay/internal/logging"
	"github.com/missionrelay/missionrelay/internal/providerkind"
	"github.com/missionrelay/missionrelay/internal/secrets"
)

// AccountLister supplies the current account list for chain resolution,
// decoupling the proxy from internal/credentials' storage concerns (the
// daemon wiring layer owns the actual credential store).
type AccountLister interface {
	ListAccounts() []credentials.Account
}

// ChainStore looks up chains by id (accepting the bare id; the handler
// strips a leading "builtin/" before calling Get).
type ChainStore interface {
	Get(id string) (chain.Chain, bool)
	List() []chain.Chain
}

// Handler implements the proxy's HTTP surface.
type Handler struct {
	chains   ChainStore
	accounts AccountLister
	tracker  *health.Tracker
	client   *http.Client

	metrics metrics
}

type metrics struct {
	totalRequests   int64
	successRequests int64
	errorRequests   int64
}

// NewHandler builds a Handler. nonStreamingTimeout bounds non-streaming
// upstream calls per §5; streaming calls use a client with no timeout.
func NewHandler(chains ChainStore, accounts AccountLister, tracker *health.Tracker, nonStreamingTimeout time.Duration) *Handler {
	return &Handler{
		chains:   chains,
		accounts: accounts,
		tracker:  tracker,
		client:   &http.Client{Timeout: nonStreamingTimeout},
	}
}

type chatRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// HandleChatCompletions implements POST /v1/chat/completions.
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.metrics.totalRequests, 1)

	if r.Method != http.MethodPost {
		atomic.AddInt64(&h.metrics.errorRequests, 1)
		writeOpenAIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "invalid_request_error")
		return
	}
	defer r.Body.Close()

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		atomic.AddInt64(&h.metrics.errorRequests, 1)
		writeOpenAIError(w, http.StatusBadRequest, "could not read request body", "invalid_request_error")
		return
	}

	var req chatRequest
	var raw map[string]any
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		atomic.AddInt64(&h.metrics.errorRequests, 1)
		writeOpenAIError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err), "invalid_request_error")
		return
	}
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		atomic.AddInt64(&h.metrics.errorRequests, 1)
		writeOpenAIError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err), "invalid_request_error")
		return
	}

	logging.LogDebugRequestRaw("INCOMING", "/v1/chat/completions", secrets.MaskJSONSecrets(bodyBytes))

	chainID := strings.TrimPrefix(req.Model, "builtin/")
	c, ok := h.chains.Get(chainID)
	if !ok {
		atomic.AddInt64(&h.metrics.errorRequests, 1)
		writeOpenAIError(w, http.StatusBadRequest, fmt.Sprintf("model %q not found", req.Model), "model_not_found")
		return
	}

	resolved := chain.Resolve(c, h.accounts.ListAccounts(), h.tracker)
	if len(resolved) == 0 {
		atomic.AddInt64(&h.metrics.errorRequests, 1)
		writeOpenAIErrorWithCode(w, http.StatusTooManyRequests, fmt.Sprintf("chain %q has no healthy entries", chainID), "rate_limit_exceeded", "chain_exhausted")
		return
	}

	h.attemptChain(w, r.Context(), c.ID, resolved, raw, req.Stream)
}

// attemptKind classifies how an individual entry attempt ended, for the
// purpose of §4.8 step 6's aggregate error-shape decision.
type attemptKind int

const (
	attemptSkipped attemptKind = iota
	attemptClientError
	attemptServerError
	attemptRateLimited
	attemptSuccess
)

func (h *Handler) attemptChain(w http.ResponseWriter, ctx context.Context, chainID string, entries []chain.ResolvedEntry, body map[string]any, streaming bool) {
	var pendingEvents []*health.FallbackEvent
	kinds := make([]attemptKind, 0, len(entries))

	for i, entry := range entries {
		kind, served := h.attemptEntry(w, ctx, chainID, entry, body, streaming, i+1, len(entries), &pendingEvents)
		kinds = append(kinds, kind)
		if served {
			for _, ev := range pendingEvents {
				ev.ToProvider = entry.ProviderID
				h.tracker.RecordFallbackEvent(ev.FromAccountID, *ev)
			}
			return
		}
	}

	for _, ev := range pendingEvents {
		h.tracker.RecordFallbackEvent(ev.FromAccountID, *ev)
	}
	atomic.AddInt64(&h.metrics.errorRequests, 1)
	writeExhaustedError(w, kinds)
}

// attemptEntry forwards one resolved entry. served is true once a response
// has begun being written to w (streaming or not) — from that point the
// caller must not attempt another entry even if the stream later fails
// mid-flight (§4.8 step 4 only retries pre-first-byte failures).
func (h *Handler) attemptEntry(w http.ResponseWriter, ctx context.Context, chainID string, entry chain.ResolvedEntry, body map[string]any, streaming bool, attemptNumber, chainLength int, pendingEvents *[]*health.FallbackEvent) (attemptKind, bool) {
	rewritten := make(map[string]any, len(body))
	for k, v := range body {
		rewritten[k] = v
	}
	rewritten["model"] = entry.ModelID
	payload, err := json.Marshal(rewritten)
	if err != nil {
		return attemptSkipped, false
	}

	var upstreamReq *http.Request
	if providerKindOf(entry.ProviderID) == providerkind.AmazonBedrock {
		signed, err := providerkind.SignBedrockInvoke(ctx, providerkind.BedrockAccount{Region: entry.Region, ModelID: entry.ModelID}, payload, streaming)
		if err != nil {
			logf("bedrock signing for account %s failed: %v", entry.AccountID, err)
			return attemptSkipped, false
		}
		upstreamReq = signed
	} else {
		baseURL := entry.BaseURL
		if baseURL == "" {
			if info, ok := providerkind.Lookup(entry.ProviderID); ok {
				baseURL = info.DefaultBaseURL
			}
		}
		if baseURL == "" {
			return attemptSkipped, false
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return attemptSkipped, false
		}
		req.Header.Set("Content-Type", "application/json")
		if entry.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+entry.APIKey)
		}
		upstreamReq = req
	}

	start := time.Now()
	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		if ctx.Err() != nil {
			return attemptSkipped, false
		}
		logf("upstream request to %s (%s) failed: %v", entry.ProviderID, entry.AccountID, err)
		d := h.tracker.RecordFailure(entry.AccountID, health.ReasonServerErr, 0)
		*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, health.ReasonServerErr, d, attemptNumber, chainLength))
		return attemptServerError, false
	}
	defer resp.Body.Close()

	if reason, ok := health.ClassifyHTTPStatus(resp.StatusCode); ok {
		switch resp.StatusCode {
		case http.StatusTooManyRequests, 529:
			retryAfter := retryAfterFromHeaders(providerKindOf(entry.ProviderID), resp.Header)
			d := h.tracker.RecordFailure(entry.AccountID, reason, retryAfter)
			*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, reason, d, attemptNumber, chainLength))
			kind := attemptRateLimited
			if resp.StatusCode == 529 {
				kind = attemptServerError
			}
			return kind, false
		case http.StatusUnauthorized, http.StatusForbidden:
			d := h.tracker.RecordFailure(entry.AccountID, reason, 0)
			*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, reason, d, attemptNumber, chainLength))
			return attemptClientError, false
		default:
			d := h.tracker.RecordFailure(entry.AccountID, reason, 0)
			*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, reason, d, attemptNumber, chainLength))
			return attemptServerError, false
		}
	}
	if resp.StatusCode >= 400 {
		// Other 4xx: provider-specific bad request, don't cool down.
		return attemptClientError, false
	}

	if streaming {
		return h.relayStreaming(w, resp, entry, chainID, attemptNumber, chainLength, start, pendingEvents)
	}
	return h.relayNonStreaming(w, resp, entry, chainID, attemptNumber, chainLength, pendingEvents)
}

func (h *Handler) relayNonStreaming(w http.ResponseWriter, resp *http.Response, entry chain.ResolvedEntry, chainID string, attemptNumber, chainLength int, pendingEvents *[]*health.FallbackEvent) (attemptKind, bool) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		d := h.tracker.RecordFailure(entry.AccountID, health.ReasonServerErr, 0)
		*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, health.ReasonServerErr, d, attemptNumber, chainLength))
		return attemptServerError, false
	}

	if reason, ok := embeddedErrorReason(data); ok {
		d := h.tracker.RecordFailure(entry.AccountID, reason, 0)
		*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, reason, d, attemptNumber, chainLength))
		return classifyKindForReason(reason), false
	}

	h.tracker.RecordSuccess(entry.AccountID)
	if in, out, ok := extractUsage(data); ok {
		h.tracker.RecordTokenUsage(entry.AccountID, in, out)
	}

	for k, v := range resp.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, vv := range v {
			w.Header().Add(k, vv)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(data)
	atomic.AddInt64(&h.metrics.successRequests, 1)
	return attemptSuccess, true
}

func (h *Handler) relayStreaming(w http.ResponseWriter, resp *http.Response, entry chain.ResolvedEntry, chainID string, attemptNumber, chainLength int, start time.Time, pendingEvents *[]*health.FallbackEvent) (attemptKind, bool) {
	reader := bufio.NewReader(resp.Body)
	payload, consumed, ok := firstSSEDataLine(reader)
	if !ok {
		d := h.tracker.RecordFailure(entry.AccountID, health.ReasonServerErr, 0)
		*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, health.ReasonServerErr, d, attemptNumber, chainLength))
		return attemptServerError, false
	}
	if payload != "[DONE]" {
		if reason, ok := embeddedErrorReason([]byte(payload)); ok {
			d := h.tracker.RecordFailure(entry.AccountID, reason, 0)
			*pendingEvents = append(*pendingEvents, pendingFallback(chainID, entry, reason, d, attemptNumber, chainLength))
			return classifyKindForReason(reason), false
		}
	}
	h.tracker.RecordLatency(entry.AccountID, time.Since(start).Milliseconds())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	var flush func()
	if flusher != nil {
		flush = flusher.Flush
	}

	if _, err := w.Write(normalizeSSEBuffer(consumed)); err != nil {
		atomic.AddInt64(&h.metrics.successRequests, 1)
		return attemptSuccess, true
	}
	if flush != nil {
		flush()
	}

	// Per §4.8 step 4: once bytes have reached the client, the response is
	// committed — an I/O error mid-stream still counts as a failed attempt
	// for health purposes, but the client has already been served and a
	// second entry cannot be tried.
	if _, copyErr := copySSENormalized(w, flush, reader); copyErr != nil && copyErr != io.EOF {
		h.tracker.RecordFailure(entry.AccountID, health.ReasonServerErr, 0)
		atomic.AddInt64(&h.metrics.successRequests, 1)
		return attemptSuccess, true
	}

	h.tracker.RecordSuccess(entry.AccountID)
	atomic.AddInt64(&h.metrics.successRequests, 1)
	return attemptSuccess, true
}

// normalizeSSEBuffer applies normalizeSSELine to every line in a
// multi-line buffer already consumed from the stream (used for the
// peeked first frame, which must still be forwarded to the client).
func normalizeSSEBuffer(buf []byte) []byte {
	lines := bytes.Split(buf, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimRight(line, "\r")
		if len(trimmed) == 0 {
			continue
		}
		lines[i] = normalizeSSELine(trimmed)
	}
	return bytes.Join(lines, []byte("\n"))
}

func classifyKindForReason(r health.Reason) attemptKind {
	switch r {
	case health.ReasonRateLimit:
		return attemptRateLimited
	case health.ReasonAuthErr:
		return attemptClientError
	default:
		return attemptServerError
	}
}

func pendingFallback(chainID string, entry chain.ResolvedEntry, reason health.Reason, cooldown time.Duration, attemptNumber, chainLength int) *health.FallbackEvent {
	ev := health.NewFallbackEvent(chainID, entry.ProviderID, entry.ModelID, entry.AccountID, reason, cooldown, attemptNumber, chainLength)
	return &ev
}

// embeddedErrorReason inspects a 200-status body for an OpenAI-style
// embedded error envelope (`type: "error"` or an `error` object) per
// §4.8 step 4, classifying it the same way an HTTP-level failure would be.
func embeddedErrorReason(data []byte) (health.Reason, bool) {
	var doc struct {
		Type  string `json:"type"`
		Error *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	if doc.Type != "error" && doc.Error == nil {
		return "", false
	}
	body := ""
	if doc.Error != nil {
		body = doc.Error.Type + " " + doc.Error.Code + " " + doc.Error.Message
	}
	return health.ClassifyBody(body), true
}

func extractUsage(data []byte) (in, out uint64, ok bool) {
	var doc struct {
		Usage struct {
			PromptTokens     uint64 `json:"prompt_tokens"`
			CompletionTokens uint64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, 0, false
	}
	if doc.Usage.PromptTokens == 0 && doc.Usage.CompletionTokens == 0 {
		return 0, 0, false
	}
	return doc.Usage.PromptTokens, doc.Usage.CompletionTokens, true
}

func providerKindOf(id string) providerkind.Kind {
	if info, ok := providerkind.Lookup(id); ok {
		return info.Kind
	}
	return providerkind.Kind(id)
}

// writeExhaustedError implements §4.8 step 6's error-shape selection once
// every chain entry has been attempted without success.
func writeExhaustedError(w http.ResponseWriter, kinds []attemptKind) {
	var made, client, server int
	for _, k := range kinds {
		switch k {
		case attemptSkipped:
		case attemptClientError:
			made++
			client++
		case attemptServerError:
			made++
			server++
		case attemptRateLimited:
			made++
		}
	}

	switch {
	case made == 0:
		writeOpenAIError(w, http.StatusBadGateway, "no chain entry could be attempted", "provider_configuration_error")
	case client == made:
		writeOpenAIError(w, http.StatusBadGateway, "every chain entry returned an upstream error", "upstream_error")
	case server == made:
		writeOpenAIError(w, http.StatusBadGateway, "every chain entry's upstream was unavailable", "upstream_unavailable")
	default:
		writeOpenAIErrorWithCode(w, http.StatusTooManyRequests, "every chain entry is rate limited or cooling down", "rate_limit_exceeded", "rate_limit_exceeded")
	}
}

// HandleModels implements GET /v1/models, listing every known chain id as a
// virtual model.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	chains := h.chains.List()
	data := make([]map[string]any, 0, len(chains))
	now := time.Now().Unix()
	for _, c := range chains {
		data = append(data, map[string]any{
			"id":       c.ID,
			"object":   "model",
			"created":  now,
			"owned_by": "sandboxed",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

func writeOpenAIError(w http.ResponseWriter, status int, message, errType string) {
	writeOpenAIErrorWithCode(w, status, message, errType, errType)
}

func writeOpenAIErrorWithCode(w http.ResponseWriter, status int, message, errType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}

func logf(format string, args ...any) {
	log.Printf("[missionrelay] "+format, args...)
}
