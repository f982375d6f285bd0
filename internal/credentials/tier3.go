package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// claudeOAuth is the tier-3 field naming for the legacy Claude-family
// credentials file: claudeAiOauth.accessToken instead of the canonical
// store's "access", etc.
type claudeOAuth struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresAt    int64    `json:"expiresAt"`
	Scopes       []string `json:"scopes,omitempty"`
}

var claudeScopes = []string{"user:inference", "user:profile"}

// tier3Path returns the tool-specific credentials file path for provider,
// or "" if that provider has no tier-3 store.
func (s *Store) tier3Path(provider string) string {
	if provider != "anthropic" {
		return ""
	}
	return filepath.Join(s.claudeDir, ".credentials.json")
}

func (s *Store) readTier3(provider string) (OAuthRecord, bool) {
	path := s.tier3Path(provider)
	if path == "" {
		return OAuthRecord{}, false
	}
	return ReadClaudeOAuthFile(path)
}

// ReadClaudeOAuthFile reads a Claude-family tool-specific credentials file
// (the claudeAiOauth-keyed shape) at an arbitrary path. Exported so the
// Backend Driver can compare a per-workspace auth file's freshness against
// the canonical host store without going through a Store bound to one
// claudeDir.
func ReadClaudeOAuthFile(path string) (OAuthRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return OAuthRecord{}, false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return OAuthRecord{}, false
	}
	raw, ok := doc["claudeAiOauth"]
	if !ok {
		return OAuthRecord{}, false
	}
	var c claudeOAuth
	if err := json.Unmarshal(raw, &c); err != nil || c.AccessToken == "" {
		return OAuthRecord{}, false
	}
	return OAuthRecord{Refresh: c.RefreshToken, Access: c.AccessToken, ExpiresAtMs: c.ExpiresAt}, true
}

func (s *Store) writeTier3(provider string, rec OAuthRecord) error {
	path := s.tier3Path(provider)
	if path == "" {
		return nil
	}
	doc, err := readRawDoc(path)
	if err != nil {
		return err
	}
	c := claudeOAuth{AccessToken: rec.Access, RefreshToken: rec.Refresh, ExpiresAt: rec.ExpiresAtMs, Scopes: claudeScopes}
	encoded, err := json.Marshal(c)
	if err != nil {
		return err
	}
	doc["claudeAiOauth"] = encoded
	return writeJSONAtomic(path, doc)
}

func (s *Store) removeTier3(provider string) error {
	path := s.tier3Path(provider)
	if path == "" {
		return nil
	}
	doc, err := readRawDoc(path)
	if err != nil {
		return err
	}
	if _, ok := doc["claudeAiOauth"]; !ok {
		return nil
	}
	delete(doc, "claudeAiOauth")
	return writeJSONAtomic(path, doc)
}

func readRawDoc(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}
