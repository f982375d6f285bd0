// Package health implements the Provider Health Tracker (C6): per-account
// failure cooldowns, latency/ring-buffer bookkeeping, and fallback-event
// history, with an optional Redis-backed store so multiple missionrelayd
// replicas observe the same account cooldowns.
package health

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reason classifies why a backend call failed, driving both the cooldown
// base duration and any downstream reporting.
type Reason string

const (
	ReasonRateLimit  Reason = "rate_limit"
	ReasonOverloaded Reason = "overloaded"
	ReasonServerErr  Reason = "server_error"
	ReasonTimeout    Reason = "timeout"
	ReasonAuthErr    Reason = "auth_error"
)

// baseCooldown is the reason's starting cooldown before exponential backoff.
func baseCooldown(r Reason) time.Duration {
	switch r {
	case ReasonRateLimit:
		return 2 * time.Second
	case ReasonOverloaded:
		return 5 * time.Second
	case ReasonServerErr:
		return time.Second
	case ReasonTimeout:
		return 2 * time.Second
	case ReasonAuthErr:
		return 30 * time.Second
	default:
		return time.Second
	}
}

const maxCooldown = time.Hour

// FallbackEvent records one chain-resolver fallback decision. ToProvider
// and LatencyMs are filled in by the chain driver once a later attempt on
// the chain succeeds (or stay zero if the whole chain failed).
type FallbackEvent struct {
	ID            string
	Timestamp     time.Time
	ChainID       string
	FromProvider  string
	FromModel     string
	FromAccountID string
	Reason        Reason
	CooldownSecs  float64
	ToProvider    string
	LatencyMs     int64
	AttemptNumber int
	ChainLength   int
}

// NewFallbackEvent stamps a fallback event with a fresh id and timestamp.
func NewFallbackEvent(chainID, fromProvider, fromModel, fromAccountID string, reason Reason, cooldown time.Duration, attemptNumber, chainLength int) FallbackEvent {
	return FallbackEvent{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		ChainID:       chainID,
		FromProvider:  fromProvider,
		FromModel:     fromModel,
		FromAccountID: fromAccountID,
		Reason:        reason,
		CooldownSecs:  cooldown.Seconds(),
		AttemptNumber: attemptNumber,
		ChainLength:   chainLength,
	}
}

const (
	latencyRingCapacity  = 64
	fallbackRingCapacity = 64
)

// accountState is the mutable record kept per account id.
type accountState struct {
	notBefore           time.Time
	hasNotBefore        bool
	consecutiveFailures uint32
	lastSuccess         time.Time
	hasLastSuccess      bool
	tokensIn            uint64
	tokensOut           uint64
	latencySamples      *ring[int64]
	fallbackEvents      *ring[FallbackEvent]
}

func newAccountState() *accountState {
	return &accountState{
		latencySamples: newRing[int64](latencyRingCapacity),
		fallbackEvents: newRing[FallbackEvent](fallbackRingCapacity),
	}
}

// Tracker is the Provider Health Tracker. It is safe for concurrent use. If
// a RedisStore is attached, cooldown state is mirrored there so other
// replicas see the same not-before deadlines; all other bookkeeping
// (latency samples, token counters, fallback history) stays local to the
// process that observed it.
type Tracker struct {
	mu       sync.Mutex
	accounts map[string]*accountState
	redis    *RedisStore
}

// NewTracker constructs an empty, in-process Tracker. redis may be nil.
func NewTracker(redis *RedisStore) *Tracker {
	return &Tracker{accounts: make(map[string]*accountState), redis: redis}
}

func (t *Tracker) stateFor(accountID string) *accountState {
	s, ok := t.accounts[accountID]
	if !ok {
		s = newAccountState()
		t.accounts[accountID] = s
	}
	return s
}

// RecordFailure increments the account's consecutive failure count and
// computes its new cooldown: max(retryAfter, base(reason)*2^(failures-1))
// capped at one hour. retryAfter may be zero to mean "no server hint".
func (t *Tracker) RecordFailure(accountID string, reason Reason, retryAfter time.Duration) time.Duration {
	t.mu.Lock()
	s := t.stateFor(accountID)
	s.consecutiveFailures++

	backoff := baseCooldown(reason)
	for i := uint32(1); i < s.consecutiveFailures; i++ {
		backoff *= 2
		if backoff >= maxCooldown {
			backoff = maxCooldown
			break
		}
	}
	d := retryAfter
	if d < backoff {
		d = backoff
	}
	if d > maxCooldown {
		d = maxCooldown
	}

	now := time.Now()
	notBefore := now.Add(d)
	s.notBefore = notBefore
	s.hasNotBefore = true
	t.mu.Unlock()

	if t.redis != nil {
		t.redis.SetCooldown(accountID, notBefore)
	}
	return d
}

// RecordSuccess clears the account's failure state and records the
// success time.
func (t *Tracker) RecordSuccess(accountID string) {
	t.mu.Lock()
	s := t.stateFor(accountID)
	s.consecutiveFailures = 0
	s.hasNotBefore = false
	s.notBefore = time.Time{}
	s.lastSuccess = time.Now()
	s.hasLastSuccess = true
	t.mu.Unlock()

	if t.redis != nil {
		t.redis.ClearCooldown(accountID)
	}
}

// RecordLatency pushes one sample (in milliseconds) into the account's
// ring buffer.
func (t *Tracker) RecordLatency(accountID string, ms int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFor(accountID).latencySamples.push(ms)
}

// RecordTokenUsage adds to the account's running token counters.
func (t *Tracker) RecordTokenUsage(accountID string, in, out uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(accountID)
	s.tokensIn += in
	s.tokensOut += out
}

// RecordFallbackEvent pushes an event into the account's fallback history.
func (t *Tracker) RecordFallbackEvent(accountID string, event FallbackEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFor(accountID).fallbackEvents.push(event)
}

// IsHealthy reports whether accountID may be retried now. When a
// RedisStore is attached it is authoritative (so replicas agree on
// cooldowns); on a Redis error it falls back to local state so a transient
// backing-store outage never wrongly marks every account unhealthy.
func (t *Tracker) IsHealthy(accountID string) bool {
	if t.redis != nil {
		if notBefore, ok, err := t.redis.GetCooldown(accountID); err == nil {
			if !ok {
				return true
			}
			return !notBefore.After(time.Now())
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(accountID)
	if !s.hasNotBefore {
		return true
	}
	return !s.notBefore.After(time.Now())
}

// LatencySamples returns a copy of the account's latency ring buffer, in
// insertion order (oldest first).
func (t *Tracker) LatencySamples(accountID string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateFor(accountID).latencySamples.values()
}

// Percentile computes the pth percentile (0-100) of the account's recorded
// latency samples. Supplements the distilled spec's raw ring buffer with
// the rolling p50/p95 the original Rust implementation tracked per account.
func (t *Tracker) Percentile(accountID string, p float64) (float64, bool) {
	samples := t.LatencySamples(accountID)
	if len(samples) == 0 {
		return 0, false
	}
	sorted := append([]int64(nil), samples...)
	insertionSort(sorted)

	if p <= 0 {
		return float64(sorted[0]), true
	}
	if p >= 100 {
		return float64(sorted[len(sorted)-1]), true
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return float64(sorted[lo]), true
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo]), true
}

func insertionSort(xs []int64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// TokenUsage returns the account's running input/output token counters.
func (t *Tracker) TokenUsage(accountID string) (in, out uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(accountID)
	return s.tokensIn, s.tokensOut
}

// FallbackHistory returns a copy of the account's fallback-event ring
// buffer, oldest first.
func (t *Tracker) FallbackHistory(accountID string) []FallbackEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateFor(accountID).fallbackEvents.values()
}

// ConsecutiveFailures returns the account's current failure streak.
func (t *Tracker) ConsecutiveFailures(accountID string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateFor(accountID).consecutiveFailures
}

// LastSuccess returns the account's last recorded success time, if any.
func (t *Tracker) LastSuccess(accountID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(accountID)
	return s.lastSuccess, s.hasLastSuccess
}
