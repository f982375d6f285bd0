package events

import "testing"

func TestBusPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	bus.Publish(TextDelta("m1", "hello"))

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.C():
			if ev.Content != "hello" {
				t.Errorf("Content = %q, want hello", ev.Content)
			}
		default:
			t.Fatal("expected buffered event")
		}
	}
}

func TestBusDropsOldestOnOverflow(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	for i := 0; i < busCapacity+10; i++ {
		bus.Publish(TextDelta("m1", "x"))
	}

	count := 0
	for {
		select {
		case <-sub.C():
			count++
		default:
			if count > busCapacity {
				t.Fatalf("buffered %d events, want <= %d", count, busCapacity)
			}
			return
		}
	}
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Close()

	bus.mu.RLock()
	_, present := bus.subs[sub]
	bus.mu.RUnlock()
	if present {
		t.Error("subscription should be removed from bus after Close")
	}

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after Close")
	}
}

func TestBusCloseClosesAllSubscriptions(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Close()

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after bus Close")
	}

	// Subscribing after close should yield an already-closed channel.
	late := bus.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("post-close subscription channel should already be closed")
	}
}
