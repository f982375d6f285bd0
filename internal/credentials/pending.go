package credentials

import (
	"sync"
	"time"
)

// PendingOAuthRegistry holds in-flight authorize->callback state, keyed by
// account id. It is purely in-memory: a crash between authorize and
// callback simply loses the pending record, which is the expected
// behavior (the flow expires after PendingOAuthTTL anyway).
type PendingOAuthRegistry struct {
	mu    sync.Mutex
	byID  map[string]PendingOAuth
	clock func() time.Time
}

// NewPendingOAuthRegistry constructs an empty registry.
func NewPendingOAuthRegistry() *PendingOAuthRegistry {
	return &PendingOAuthRegistry{byID: make(map[string]PendingOAuth), clock: time.Now}
}

// Create starts a pending OAuth flow for accountID and returns the PKCE
// verifier/challenge pair the caller embeds in the authorize URL.
func (r *PendingOAuthRegistry) Create(accountID, mode string) (PendingOAuth, string, error) {
	verifier, challenge, err := NewPKCE()
	if err != nil {
		return PendingOAuth{}, "", err
	}
	state, err := NewState()
	if err != nil {
		return PendingOAuth{}, "", err
	}
	p := PendingOAuth{AccountID: accountID, Verifier: verifier, Mode: mode, State: state, CreatedAt: r.clock()}

	r.mu.Lock()
	r.byID[accountID] = p
	r.mu.Unlock()
	return p, challenge, nil
}

// Consume returns and removes the pending record for accountID, reporting
// ok=false if absent or expired (an expired record is removed as a side
// effect of the lookup).
func (r *PendingOAuthRegistry) Consume(accountID string) (PendingOAuth, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[accountID]
	if !ok {
		return PendingOAuth{}, false
	}
	delete(r.byID, accountID)
	if p.Expired(r.clock()) {
		return PendingOAuth{}, false
	}
	return p, true
}

// Sweep removes every expired pending record; callers may run this
// periodically to bound memory, though Consume already evicts lazily.
func (r *PendingOAuthRegistry) Sweep() {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.byID {
		if p.Expired(now) {
			delete(r.byID, id)
		}
	}
}
