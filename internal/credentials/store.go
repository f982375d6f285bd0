package credentials

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is the process-wide tiered credential store. Reads consult the
// filesystem without locking (callers tolerate momentarily-stale reads);
// every mutation takes writeMu.
type Store struct {
	writeMu   sync.Mutex
	baseDir   string
	claudeDir string
	client    *http.Client
}

// NewStore creates a Store rooted at baseDir (typically
// ~/.missionrelay) with the legacy Claude-family tier-3 file under
// claudeDir (typically ~/.claude).
func NewStore(baseDir, claudeDir string) *Store {
	return &Store{
		baseDir:   baseDir,
		claudeDir: claudeDir,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// DefaultClaudeDir returns ~/.claude, the conventional tier-3 root.
func DefaultClaudeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// ReadOAuth consults tier 1, then tier 2, then tier 3, returning the first
// hit. A hit below tier 1 is written through to tier 1 best-effort. Never
// returns an error; missing material reports ok=false.
func (s *Store) ReadOAuth(provider string) (OAuthRecord, bool) {
	m, err := s.readTier1()
	if err == nil {
		if e, ok := m[provider]; ok {
			if rec, ok := e.toOAuth(); ok {
				return rec, true
			}
		}
	}

	if e, ok := s.readTier2(provider); ok {
		if rec, ok := e.toOAuth(); ok {
			s.writeThroughTier1(provider, e)
			return rec, true
		}
	}

	if rec, ok := s.readTier3(provider); ok {
		s.writeThroughTier1(provider, oauthEntry(rec))
		return rec, true
	}

	return OAuthRecord{}, false
}

// writeThroughTier1 is the best-effort promotion a lower-tier hit performs.
// Failures are logged, never propagated — reads must never fail because a
// write-through couldn't land.
func (s *Store) writeThroughTier1(provider string, e Entry) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.writeTier1Entry(provider, e); err != nil {
		log.Printf("credentials: write-through to tier 1 for %s failed: %v", provider, err)
	}
}

// WriteOAuth persists rec for provider across every applicable tier. Every
// alias of provider's kind is written at tier 2 so legacy tool configs stay
// in sync (e.g. "openai" and "codex").
func (s *Store) WriteOAuth(provider string, rec OAuthRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	e := oauthEntry(rec)
	var firstErr error
	if err := s.writeTier1Entry(provider, e); err != nil {
		log.Printf("credentials: tier 1 write failed for %s: %v", provider, err)
		firstErr = err
	}
	if err := s.writeTier2Entry(provider, e); err != nil {
		log.Printf("credentials: tier 2 write failed for %s: %v", provider, err)
	}
	if err := s.writeTier3(provider, rec); err != nil {
		log.Printf("credentials: tier 3 write failed for %s: %v", provider, err)
	}
	return firstErr
}

// WriteAPIKey persists an API key for provider at tiers 1 and 2 (tier 3's
// only known shape, the Claude-family OAuth file, has no API-key form).
func (s *Store) WriteAPIKey(provider, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	e := apiKeyEntry(key)
	var firstErr error
	if err := s.writeTier1Entry(provider, e); err != nil {
		log.Printf("credentials: tier 1 write failed for %s: %v", provider, err)
		firstErr = err
	}
	if err := s.writeTier2Entry(provider, e); err != nil {
		log.Printf("credentials: tier 2 write failed for %s: %v", provider, err)
	}
	return firstErr
}

// Remove deletes provider's entry from every tier. Missing files are not
// errors.
func (s *Store) Remove(provider string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var firstErr error
	if err := s.removeTier1Entry(provider); err != nil {
		firstErr = err
	}
	_ = s.removeTier2(provider)
	_ = s.removeTier3(provider)
	return firstErr
}

// EnsureOAuthValid refreshes provider's token if it expires within 5
// minutes. Non-OAuth providers (no stored OAuth record) are a no-op.
func (s *Store) EnsureOAuthValid(ctx context.Context, provider string) error {
	rec, ok := s.ReadOAuth(provider)
	if !ok {
		return nil
	}
	if !rec.expired(time.Now()) {
		return nil
	}
	return s.RefreshOAuth(ctx, provider)
}
