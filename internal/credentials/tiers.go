package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/missionrelay/missionrelay/internal/providerkind"
)

// tier1Path is the canonical store: a single JSON document keyed by
// provider id.
func (s *Store) tier1Path() string {
	return filepath.Join(s.baseDir, "credentials.json")
}

func (s *Store) readTier1() (map[string]Entry, error) {
	return readEntryMap(s.tier1Path())
}

func (s *Store) writeTier1Entry(provider string, e Entry) error {
	return mutateEntryMap(s.tier1Path(), func(m map[string]Entry) {
		m[provider] = e
	})
}

func (s *Store) removeTier1Entry(provider string) error {
	return mutateEntryMap(s.tier1Path(), func(m map[string]Entry) {
		delete(m, provider)
	})
}

// tier2Dir holds the legacy per-tool stores, one JSON file per provider
// alias, same Entry shape as tier 1.
func (s *Store) tier2Dir() string {
	return filepath.Join(s.baseDir, "legacy")
}

func (s *Store) tier2Path(alias string) string {
	return filepath.Join(s.tier2Dir(), alias+".json")
}

// aliasesFor returns provider plus every registered alias for its kind, so
// a write reaches every legacy key a tool might read (e.g. "openai" and
// "codex").
func aliasesFor(provider string) []string {
	out := []string{provider}
	if info, ok := providerkind.Lookup(provider); ok {
		for _, a := range info.Aliases {
			if a != provider {
				out = append(out, a)
			}
		}
	}
	return out
}

func (s *Store) readTier2(provider string) (Entry, bool) {
	for _, alias := range aliasesFor(provider) {
		m, err := readEntryMap(s.tier2Path(alias))
		if err != nil {
			continue
		}
		if e, ok := m[alias]; ok {
			return e, true
		}
		// Legacy per-tool files may also store the entry unkeyed (the whole
		// file is the entry) — tolerate both shapes.
		if e, ok := m[""]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Store) writeTier2Entry(provider string, e Entry) error {
	var firstErr error
	for _, alias := range aliasesFor(provider) {
		if err := mutateEntryMap(s.tier2Path(alias), func(m map[string]Entry) {
			m[alias] = e
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) removeTier2(provider string) error {
	for _, alias := range aliasesFor(provider) {
		_ = os.Remove(s.tier2Path(alias))
	}
	return nil
}

// readEntryMap reads a JSON object of Entry values, tolerating a missing
// file (returns an empty map, not an error).
func readEntryMap(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, err
	}
	var m map[string]Entry
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]Entry{}
	}
	return m, nil
}

// mutateEntryMap performs an atomic read-modify-write of an Entry map file,
// preserving sibling entries not touched by mutate.
func mutateEntryMap(path string, mutate func(map[string]Entry)) error {
	m, err := readEntryMap(path)
	if err != nil {
		return err
	}
	mutate(m)
	return writeJSONAtomic(path, m)
}

// writeJSONAtomic marshals v with indentation and writes it to path via a
// temp-file-then-rename so a crash mid-write never leaves a truncated
// credential file, creating parent directories as needed.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
