package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// AccountStore persists the set of provider accounts (the Management API's
// account CRUD surface, spec §6) to a single JSON document, independent of
// the tiered OAuth/API-key material Store mirrors into tool-specific files.
// Creating or updating an account here does not itself push credentials
// into the tiered store — callers that want a newly-created account's
// material to also reach tool-specific files (so e.g. Claude Code itself
// can use it outside the proxy) call WriteOAuth/WriteAPIKey on Store
// afterward, keyed by the account's provider kind.
type AccountStore struct {
	baseDir string
}

// NewAccountStore creates an AccountStore rooted at baseDir.
func NewAccountStore(baseDir string) *AccountStore {
	return &AccountStore{baseDir: baseDir}
}

func (s *AccountStore) path() string {
	return filepath.Join(s.baseDir, "accounts.json")
}

func (s *AccountStore) read() (map[string]Account, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Account{}, nil
		}
		return nil, err
	}
	var m map[string]Account
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]Account{}
	}
	return m, nil
}

func (s *AccountStore) mutate(fn func(map[string]Account) error) error {
	m, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return writeJSONAtomic(s.path(), m)
}

// Create persists a new account, assigning it a UUID and timestamps. If no
// other account exists yet, the new one is made default regardless of
// acct.Default.
func (s *AccountStore) Create(acct Account) (Account, error) {
	acct.ID = uuid.NewString()
	now := time.Now()
	acct.CreatedAt, acct.UpdatedAt = now, now

	err := s.mutate(func(m map[string]Account) error {
		if len(m) == 0 {
			acct.Default = true
		}
		if acct.Default {
			clearDefaults(m)
		}
		m[acct.ID] = acct
		return nil
	})
	return acct, err
}

// Get returns one account by id.
func (s *AccountStore) Get(id string) (Account, bool) {
	m, err := s.read()
	if err != nil {
		return Account{}, false
	}
	a, ok := m[id]
	return a, ok
}

// List returns every account, in no particular order.
func (s *AccountStore) List() ([]Account, error) {
	m, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out, nil
}

// ListAccounts satisfies proxy.AccountLister, swallowing read errors as an
// empty list so a transient disk error degrades a chain to "no healthy
// entries" rather than panicking the request path.
func (s *AccountStore) ListAccounts() []Account {
	out, err := s.List()
	if err != nil {
		return nil
	}
	return out
}

// Update applies mutate to the stored account with the given id and
// persists the result, bumping UpdatedAt. Clearing Default on the account
// that currently holds it is rejected when it is the only account — the
// spec's invariant that exactly one account is default whenever any exist
// would otherwise be violated.
func (s *AccountStore) Update(id string, mutate func(*Account)) (Account, error) {
	var updated Account
	err := s.mutate(func(m map[string]Account) error {
		a, ok := m[id]
		if !ok {
			return fmt.Errorf("credentials: no account %q", id)
		}
		wasDefault := a.Default
		mutate(&a)
		a.UpdatedAt = time.Now()
		if wasDefault && !a.Default && len(m) == 1 {
			a.Default = true
		}
		if a.Default && !wasDefault {
			clearDefaults(m)
		}
		m[id] = a
		updated = a
		return nil
	})
	return updated, err
}

// SetDefault marks id as the sole default account.
func (s *AccountStore) SetDefault(id string) error {
	return s.mutate(func(m map[string]Account) error {
		a, ok := m[id]
		if !ok {
			return fmt.Errorf("credentials: no account %q", id)
		}
		clearDefaults(m)
		a.Default = true
		a.UpdatedAt = time.Now()
		m[id] = a
		return nil
	})
}

// Delete removes an account. If it was the default and other accounts
// remain, the most-recently-created of them becomes the new default,
// preserving the "exactly one default when any exist" invariant.
func (s *AccountStore) Delete(id string) error {
	return s.mutate(func(m map[string]Account) error {
		a, ok := m[id]
		if !ok {
			return nil
		}
		delete(m, id)
		if a.Default {
			promoteNewDefault(m)
		}
		return nil
	})
}

func clearDefaults(m map[string]Account) {
	for id, a := range m {
		if a.Default {
			a.Default = false
			m[id] = a
		}
	}
}

func promoteNewDefault(m map[string]Account) {
	var newest Account
	var newestID string
	for id, a := range m {
		if newestID == "" || a.CreatedAt.After(newest.CreatedAt) {
			newest, newestID = a, id
		}
	}
	if newestID != "" {
		newest.Default = true
		m[newestID] = newest
	}
}
