// Package chain implements the Chain Resolver (C7): turning a chain id
// into an ordered, health-filtered list of concrete (provider, account,
// model) triples the Failover Proxy attempts in order.
package chain

import (
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/health"
)

// EntryKind discriminates the two chain entry shapes.
type EntryKind string

const (
	// EntrySpecific names one exact account.
	EntrySpecific EntryKind = "specific"
	// EntryAnyAccount expands to every enabled account of a provider kind,
	// in creation order.
	EntryAnyAccount EntryKind = "any_account"
)

// Entry is one configured step of a Chain, before resolution against the
// account list and health state.
type Entry struct {
	Kind       EntryKind
	AccountID  string // Specific
	ProviderID string // AnyAccount
	ModelID    string
}

// Specific builds a Specific chain entry.
func Specific(accountID, modelID string) Entry {
	return Entry{Kind: EntrySpecific, AccountID: accountID, ModelID: modelID}
}

// AnyAccount builds an AnyAccount chain entry.
func AnyAccount(providerID, modelID string) Entry {
	return Entry{Kind: EntryAnyAccount, ProviderID: providerID, ModelID: modelID}
}

// Chain is an ordered, user-defined failover sequence. ID is its stable
// name; chains named "builtin/..." are well-known defaults shipped by
// missionrelayd rather than user-configured.
type Chain struct {
	ID      string
	Entries []Entry
}

// ResolvedEntry is one concrete, healthy (provider, account, model) triple
// ready for the Failover Proxy to attempt.
type ResolvedEntry struct {
	ProviderID string
	AccountID  string
	APIKey     string
	BaseURL    string
	ModelID    string
	// Region carries an amazon-bedrock account's AWS region through to the
	// proxy's SigV4 signing step; empty for every other provider kind.
	Region string
}

// Resolve expands c's entries against accounts and tracker, in order,
// skipping disabled or cold-downed accounts. AnyAccount entries expand to
// every matching account in accounts' order (callers are expected to
// supply accounts in creation order, per the Account store's own
// ordering). The result may be empty; callers treat that as chain
// exhaustion (HTTP 429 naming the chain, per §4.7).
func Resolve(c Chain, accounts []credentials.Account, tracker *health.Tracker) []ResolvedEntry {
	byID := make(map[string]credentials.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	var out []ResolvedEntry
	for _, entry := range c.Entries {
		switch entry.Kind {
		case EntrySpecific:
			acct, ok := byID[entry.AccountID]
			if !ok || !acct.Enabled || !tracker.IsHealthy(acct.ID) {
				continue
			}
			out = append(out, resolveAccount(acct, entry.ModelID))
		case EntryAnyAccount:
			for _, acct := range accounts {
				if acct.Kind != entry.ProviderID || !acct.Enabled || !tracker.IsHealthy(acct.ID) {
					continue
				}
				out = append(out, resolveAccount(acct, entry.ModelID))
			}
		}
	}
	return out
}

func resolveAccount(acct credentials.Account, modelID string) ResolvedEntry {
	return ResolvedEntry{
		ProviderID: acct.Kind,
		AccountID:  acct.ID,
		APIKey:     acct.APIKey,
		BaseURL:    acct.BaseURL,
		ModelID:    modelID,
		Region:     acct.Region,
	}
}
