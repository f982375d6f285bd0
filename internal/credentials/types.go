// Package credentials implements the tiered credential store (C1): reading
// and writing OAuth and API-key material across a canonical store, a
// legacy per-tool store, and tool-specific files with their own field
// naming, plus OAuth refresh orchestration.
package credentials

import "time"

// OAuthRecord is the refresh/access/expiry triad for one provider.
type OAuthRecord struct {
	Refresh     string
	Access      string
	ExpiresAtMs int64
}

// expired reports whether the access token needs a refresh, using the
// same 5-minute-early margin as EnsureValid.
func (r OAuthRecord) expired(now time.Time) bool {
	return r.ExpiresAtMs-int64(5*time.Minute/time.Millisecond) < now.UnixMilli()
}

// Expired is the exported form of expired, for callers outside this package
// that need to compare a workspace-local credential's freshness against the
// canonical one (the Backend Driver's credential resolution step).
func (r OAuthRecord) Expired(now time.Time) bool {
	return r.expired(now)
}

// Entry is the canonical on-disk shape for one provider's credential,
// shared by tier 1 (canonical store) and tier 2 (legacy per-tool files).
type Entry struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	Access  string `json:"access,omitempty"`
	Expires int64  `json:"expires,omitempty"`
}

const (
	typeOAuth  = "oauth"
	typeAPIKey = "api_key"
)

func oauthEntry(r OAuthRecord) Entry {
	return Entry{Type: typeOAuth, Refresh: r.Refresh, Access: r.Access, Expires: r.ExpiresAtMs}
}

func apiKeyEntry(key string) Entry {
	return Entry{Type: typeAPIKey, Key: key}
}

func (e Entry) toOAuth() (OAuthRecord, bool) {
	if e.Type != typeOAuth || e.Access == "" {
		return OAuthRecord{}, false
	}
	return OAuthRecord{Refresh: e.Refresh, Access: e.Access, ExpiresAtMs: e.Expires}, true
}

// Account is the unit of authentication the rest of the system resolves
// against: one named credential set for one provider kind.
type Account struct {
	ID          string
	Kind        string
	Name        string
	APIKey      string
	OAuth       *OAuthRecord
	BaseURL     string
	CustomModels []string
	ProjectID   string
	// Region is the AWS region an amazon-bedrock account's models are
	// hosted in. Meaningless for every other Kind.
	Region    string
	Enabled   bool
	Default   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredentials reports whether the account can authenticate a request.
func (a Account) HasCredentials() bool {
	if a.APIKey != "" || a.OAuth != nil {
		return true
	}
	if a.Kind == "amazon-bedrock" {
		return a.Region != ""
	}
	return a.Kind == "custom" && a.BaseURL != ""
}

// PendingOAuth is the short-lived PKCE state created by Authorize and
// consumed by Callback. It expires 10 minutes after creation.
type PendingOAuth struct {
	AccountID string
	Verifier  string
	Mode      string // "max" | "console" | "openai" | "google"
	State     string
	CreatedAt time.Time
}

// PendingOAuthTTL is how long a PendingOAuth record remains valid.
const PendingOAuthTTL = 10 * time.Minute

// Expired reports whether this pending record has outlived PendingOAuthTTL
// as of now.
func (p PendingOAuth) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > PendingOAuthTTL
}
