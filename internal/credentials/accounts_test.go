package credentials

import "testing"

func newTestAccountStore(t *testing.T) *AccountStore {
	t.Helper()
	return NewAccountStore(t.TempDir())
}

func TestAccountStoreCreateFirstIsDefault(t *testing.T) {
	s := newTestAccountStore(t)
	a, err := s.Create(Account{Kind: "anthropic", Name: "work"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" {
		t.Fatal("expected a generated id")
	}
	if !a.Default {
		t.Fatal("expected the first account created to become default")
	}
}

func TestAccountStoreCreateSecondDoesNotBecomeDefault(t *testing.T) {
	s := newTestAccountStore(t)
	if _, err := s.Create(Account{Kind: "anthropic", Name: "work"}); err != nil {
		t.Fatal(err)
	}
	b, err := s.Create(Account{Kind: "openai", Name: "personal"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Default {
		t.Fatal("expected the second account not to be default")
	}
}

func TestAccountStoreCreateExplicitDefaultClearsOthers(t *testing.T) {
	s := newTestAccountStore(t)
	a, _ := s.Create(Account{Kind: "anthropic", Name: "work"})
	b, err := s.Create(Account{Kind: "openai", Name: "personal", Default: true})
	if err != nil {
		t.Fatal(err)
	}
	if !b.Default {
		t.Fatal("expected explicit default to stick")
	}
	refreshed, ok := s.Get(a.ID)
	if !ok {
		t.Fatal("expected first account still present")
	}
	if refreshed.Default {
		t.Fatal("expected first account's default flag cleared")
	}
}

func TestAccountStoreGetMissing(t *testing.T) {
	s := newTestAccountStore(t)
	if _, ok := s.Get("nope"); ok {
		t.Fatal("expected missing account lookup to fail")
	}
}

func TestAccountStoreListReturnsAll(t *testing.T) {
	s := newTestAccountStore(t)
	if _, err := s.Create(Account{Kind: "anthropic", Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(Account{Kind: "openai", Name: "b"}); err != nil {
		t.Fatal(err)
	}
	all, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(all))
	}
}

func TestAccountStoreUpdateMutatesFields(t *testing.T) {
	s := newTestAccountStore(t)
	a, _ := s.Create(Account{Kind: "anthropic", Name: "work"})
	updated, err := s.Update(a.ID, func(acct *Account) {
		acct.Name = "renamed"
		acct.Enabled = true
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "renamed" || !updated.Enabled {
		t.Fatalf("expected fields to be mutated, got %+v", updated)
	}
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		t.Fatal("expected UpdatedAt to advance")
	}
}

func TestAccountStoreUpdateSoleAccountCannotLoseDefault(t *testing.T) {
	s := newTestAccountStore(t)
	a, _ := s.Create(Account{Kind: "anthropic", Name: "work"})
	updated, err := s.Update(a.ID, func(acct *Account) {
		acct.Default = false
	})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Default {
		t.Fatal("expected the sole account to remain default")
	}
}

func TestAccountStoreUpdateUnknownFails(t *testing.T) {
	s := newTestAccountStore(t)
	if _, err := s.Update("nope", func(*Account) {}); err == nil {
		t.Fatal("expected updating an unknown account to error")
	}
}

func TestAccountStoreSetDefaultSwitchesExclusively(t *testing.T) {
	s := newTestAccountStore(t)
	a, _ := s.Create(Account{Kind: "anthropic", Name: "a"})
	b, _ := s.Create(Account{Kind: "openai", Name: "b"})

	if err := s.SetDefault(b.ID); err != nil {
		t.Fatal(err)
	}
	refreshedA, _ := s.Get(a.ID)
	refreshedB, _ := s.Get(b.ID)
	if refreshedA.Default {
		t.Fatal("expected a to no longer be default")
	}
	if !refreshedB.Default {
		t.Fatal("expected b to be default")
	}
}

func TestAccountStoreDeletePromotesNewDefault(t *testing.T) {
	s := newTestAccountStore(t)
	a, _ := s.Create(Account{Kind: "anthropic", Name: "a"})
	b, _ := s.Create(Account{Kind: "openai", Name: "b"})

	if err := s.Delete(a.ID); err != nil {
		t.Fatal(err)
	}
	refreshedB, ok := s.Get(b.ID)
	if !ok {
		t.Fatal("expected b to remain")
	}
	if !refreshedB.Default {
		t.Fatal("expected remaining account to be promoted to default")
	}
}

func TestAccountStoreDeleteUnknownIsNoOp(t *testing.T) {
	s := newTestAccountStore(t)
	if err := s.Delete("never-created"); err != nil {
		t.Fatalf("expected deleting an unknown account to be a no-op, got %v", err)
	}
}

func TestAccountStoreListAccountsSwallowsReadErrorsToNil(t *testing.T) {
	s := newTestAccountStore(t)
	if got := s.ListAccounts(); len(got) != 0 {
		t.Fatalf("expected no accounts on an empty store, got %v", got)
	}
}

func TestAccountStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s1 := NewAccountStore(dir)
	a, err := s1.Create(Account{Kind: "anthropic", Name: "work"})
	if err != nil {
		t.Fatal(err)
	}

	s2 := NewAccountStore(dir)
	got, ok := s2.Get(a.ID)
	if !ok {
		t.Fatal("expected account to be visible from a new store instance")
	}
	if got.Name != "work" {
		t.Fatalf("expected persisted name %q, got %q", "work", got.Name)
	}
}
