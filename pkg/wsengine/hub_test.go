package wsengine

import (
	"testing"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

func TestSubscribeUnsubscribe_UpdatesStoreAndStats(t *testing.T) {
	h := NewHub(Config{})
	conn1 := h.register(ConnectionID("c1"))

	sub := h.subscribe(conn1, SubscriptionID("s1"), "", event.Filter{Chains: []event.ChainID{"ethereum"}})
	if !sub.Active {
		t.Fatal("expected newly created subscription to be active")
	}

	stats := h.Stats()
	if stats.TotalConnections != 1 || stats.TotalSubscriptions != 1 || stats.PersistentSubscriptions != 1 {
		t.Fatalf("unexpected stats after subscribe: %+v", stats)
	}

	if ok := h.unsubscribe(conn1, "s1"); !ok {
		t.Fatal("expected unsubscribe of an existing subscription to succeed")
	}
	stats = h.Stats()
	if stats.TotalSubscriptions != 0 {
		t.Fatalf("expected zero live subscriptions after unsubscribe, got %d", stats.TotalSubscriptions)
	}
	persisted, ok := h.store.Get("s1")
	if !ok || persisted.Active {
		t.Fatal("expected persisted subscription to be marked inactive, not removed")
	}
}

// TestRecoverSubscriptions subscribes on one connection and then disconnects it.
// Closing a connection deactivates its subscriptions, so recovering by the old
// connection id returns no active subscription.
func TestRecoverSubscriptions(t *testing.T) {
	h := NewHub(Config{})
	c1 := h.register(ConnectionID("c1"))
	h.subscribe(c1, SubscriptionID("s1"), "", event.Filter{Chains: []event.ChainID{"ethereum"}})

	// c1 disconnects without explicitly unsubscribing.
	h.unregister(c1.id)

	recovered := h.RecoverSubscriptions(ConnectionID("c1"))
	if len(recovered) != 0 {
		t.Fatalf("expected unregister to deactivate subscriptions (connection close implies deactivation), got %d active", len(recovered))
	}
}

func TestRecoverSubscriptions_StillActiveWithoutDisconnectCleanup(t *testing.T) {
	h := NewHub(Config{})
	// Simulate a subscription surviving only in the store (as if persisted by another
	// process instance) without the live connection ever being unregistered.
	h.store.Put(Subscription{ID: "s1", ConnectionID: "c1", Active: true, CreatedAt: time.Now(), Filter: event.Filter{}})

	recovered := h.RecoverSubscriptions("c1")
	if len(recovered) != 1 || recovered[0].ID != "s1" {
		t.Fatalf("expected to recover one active subscription, got %+v", recovered)
	}
}

func TestCleanupInactiveSubscriptions_RemovesOnlyStaleInactive(t *testing.T) {
	h := NewHub(Config{SubscriptionRetention: time.Hour})
	old := time.Now().Add(-2 * time.Hour)
	h.store.Put(Subscription{ID: "stale", Active: false, CreatedAt: old})
	h.store.Put(Subscription{ID: "fresh-inactive", Active: false, CreatedAt: time.Now()})
	h.store.Put(Subscription{ID: "fresh-active", Active: true, CreatedAt: old})

	n := h.CleanupInactiveSubscriptions()
	if n != 1 {
		t.Fatalf("expected exactly one stale subscription removed, got %d", n)
	}
	if _, ok := h.store.Get("stale"); ok {
		t.Fatal("expected stale subscription to be gone")
	}
	if _, ok := h.store.Get("fresh-inactive"); !ok {
		t.Fatal("expected fresh-inactive subscription to survive cleanup")
	}
	if _, ok := h.store.Get("fresh-active"); !ok {
		t.Fatal("expected active subscription to survive cleanup regardless of age")
	}
}

func TestPublish_FansOutOnlyToMatchingSubscriptions(t *testing.T) {
	h := NewHub(Config{OutboundBufferSize: 4})
	cEth := h.register("eth-conn")
	cBtc := h.register("btc-conn")
	h.subscribe(cEth, "s-eth", "", event.Filter{Chains: []event.ChainID{"ethereum"}})
	h.subscribe(cBtc, "s-btc", "", event.Filter{Chains: []event.ChainID{"bitcoin"}})

	h.Publish(event.Event{ID: "e1", Chain: "ethereum", EventType: "transfer"})

	select {
	case <-cEth.outbound:
	default:
		t.Fatal("expected matching subscription to receive the event")
	}
	select {
	case <-cBtc.outbound:
		t.Fatal("did not expect non-matching subscription to receive the event")
	default:
	}
}

func TestPublish_ShedsConnectionOnBackpressure(t *testing.T) {
	h := NewHub(Config{OutboundBufferSize: 1})
	cs := h.register("slow-conn")
	h.subscribe(cs, "s1", "", event.Filter{})

	// Fill the outbound buffer so the next publish must shed.
	cs.outbound <- []byte("x")

	h.Publish(event.Event{ID: "e1", EventType: "transfer"})

	h.mu.RLock()
	_, stillConnected := h.connections["slow-conn"]
	h.mu.RUnlock()
	if stillConnected {
		t.Fatal("expected backpressured connection to be shed")
	}
}
