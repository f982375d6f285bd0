package health

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupMiniRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisStoreOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreSetAndGetCooldown(t *testing.T) {
	store := setupMiniRedisStore(t)
	notBefore := time.Now().Add(30 * time.Second)
	store.SetCooldown("acc1", notBefore)

	got, ok, err := store.GetCooldown("acc1")
	if err != nil {
		t.Fatalf("GetCooldown: %v", err)
	}
	if !ok {
		t.Fatal("expected a stored cooldown")
	}
	if got.UnixMilli() != notBefore.UnixMilli() {
		t.Fatalf("got %v, want %v", got, notBefore)
	}
}

func TestRedisStoreGetCooldownMissing(t *testing.T) {
	store := setupMiniRedisStore(t)
	_, ok, err := store.GetCooldown("never-set")
	if err != nil {
		t.Fatalf("GetCooldown: %v", err)
	}
	if ok {
		t.Fatal("expected no cooldown for an untouched account")
	}
}

func TestRedisStoreClearCooldown(t *testing.T) {
	store := setupMiniRedisStore(t)
	store.SetCooldown("acc1", time.Now().Add(time.Minute))
	store.ClearCooldown("acc1")

	_, ok, err := store.GetCooldown("acc1")
	if err != nil {
		t.Fatalf("GetCooldown: %v", err)
	}
	if ok {
		t.Fatal("expected cooldown to be cleared")
	}
}

func TestRedisStorePastCooldownIsNotStored(t *testing.T) {
	store := setupMiniRedisStore(t)
	store.SetCooldown("acc1", time.Now().Add(-time.Second))

	_, ok, err := store.GetCooldown("acc1")
	if err != nil {
		t.Fatalf("GetCooldown: %v", err)
	}
	if ok {
		t.Fatal("a cooldown already in the past should not be stored")
	}
}

func TestTrackerWithRedisSharesCooldownAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	store1, err := NewRedisStore(RedisStoreOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	store2, err := NewRedisStore(RedisStoreOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store1.Close(); _ = store2.Close() })

	tr1 := NewTracker(store1)
	tr2 := NewTracker(store2)

	tr1.RecordFailure("acc1", ReasonRateLimit, 0)

	if tr1.IsHealthy("acc1") {
		t.Fatal("tracker that recorded the failure should see it as unhealthy")
	}
	if tr2.IsHealthy("acc1") {
		t.Fatal("a second tracker instance sharing redis should also see acc1 as unhealthy")
	}
}
