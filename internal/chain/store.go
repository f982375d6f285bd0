package chain

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape: a single YAML document keyed by chain id,
// mirroring the canonical credential store's one-file-keyed-by-id layout.
type document struct {
	Chains map[string]storedChain `yaml:"chains"`
}

type storedChain struct {
	Entries []storedEntry `yaml:"entries"`
}

type storedEntry struct {
	Kind       EntryKind `yaml:"kind"`
	AccountID  string    `yaml:"account_id,omitempty"`
	ProviderID string    `yaml:"provider_id,omitempty"`
	ModelID    string    `yaml:"model_id"`
}

// Store persists user-defined chains to a single YAML document under
// baseDir, using the same atomic read-modify-write discipline as the
// credential store's tier 1.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir (typically ~/.missionrelay).
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) path() string {
	return filepath.Join(s.baseDir, "chains.yaml")
}

// Get returns the chain with the given id, if defined.
func (s *Store) Get(id string) (Chain, bool) {
	doc, err := s.read()
	if err != nil {
		return Chain{}, false
	}
	sc, ok := doc.Chains[id]
	if !ok {
		return Chain{}, false
	}
	return fromStored(id, sc), true
}

// List returns every user-defined chain, in no particular order.
func (s *Store) List() []Chain {
	doc, err := s.read()
	if err != nil {
		return nil
	}
	out := make([]Chain, 0, len(doc.Chains))
	for id, sc := range doc.Chains {
		out = append(out, fromStored(id, sc))
	}
	return out
}

// Save creates or replaces a chain definition.
func (s *Store) Save(c Chain) error {
	return s.mutate(func(doc *document) {
		doc.Chains[c.ID] = toStored(c)
	})
}

// Delete removes a chain definition. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) error {
	return s.mutate(func(doc *document) {
		delete(doc.Chains, id)
	})
}

func (s *Store) read() (document, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return document{Chains: map[string]storedChain{}}, nil
		}
		return document{}, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("chain: parsing %s: %w", s.path(), err)
	}
	if doc.Chains == nil {
		doc.Chains = map[string]storedChain{}
	}
	return doc, nil
}

func (s *Store) mutate(fn func(doc *document)) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	fn(&doc)

	if err := os.MkdirAll(s.baseDir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

func toStored(c Chain) storedChain {
	entries := make([]storedEntry, len(c.Entries))
	for i, e := range c.Entries {
		entries[i] = storedEntry{Kind: e.Kind, AccountID: e.AccountID, ProviderID: e.ProviderID, ModelID: e.ModelID}
	}
	return storedChain{Entries: entries}
}

func fromStored(id string, sc storedChain) Chain {
	entries := make([]Entry, len(sc.Entries))
	for i, e := range sc.Entries {
		entries[i] = Entry{Kind: e.Kind, AccountID: e.AccountID, ProviderID: e.ProviderID, ModelID: e.ModelID}
	}
	return Chain{ID: id, Entries: entries}
}
