package chainsync

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timewave-computer/almanac/pkg/event"
)

func newTestTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewTracker(cfg, WithRegisterer(reg))
}

func TestUpdateProgress_CatchingUpThenSynced(t *testing.T) {
	tr := newTestTracker(t, Config{Confirmations: 2, MaxLagBlocks: 100})
	chain := event.ChainID("ethereum")

	tr.Start(chain, 0, nil)
	tr.UpdateProgress(chain, 10, 500, 5)

	snap, err := tr.Snapshot(chain)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != CatchingUp {
		t.Fatalf("expected CatchingUp with large lag, got %s", snap.Status)
	}

	tr.UpdateProgress(chain, 499, 500, 1)
	snap, _ = tr.Snapshot(chain)
	if snap.Status != Synced {
		t.Fatalf("expected Synced once lag <= confirmations, got %s", snap.Status)
	}
}

func TestUpdateProgress_FailedAfterManyErrors(t *testing.T) {
	tr := newTestTracker(t, Config{MaxErrorCount: 2, Confirmations: 0, MaxLagBlocks: 1000})
	chain := event.ChainID("polygon")
	tr.Start(chain, 0, nil)
	tr.UpdateProgress(chain, 1, 1000, 1)

	tr.RecordError(chain, errors.New("rpc timeout"))
	tr.RecordError(chain, errors.New("rpc timeout"))
	tr.RecordError(chain, errors.New("rpc timeout"))

	snap, err := tr.Snapshot(chain)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != Failed {
		t.Fatalf("expected Failed after exceeding max error count, got %s", snap.Status)
	}
	if snap.ConsecutiveErrors != 3 {
		t.Fatalf("expected 3 consecutive errors, got %d", snap.ConsecutiveErrors)
	}

	tr.UpdateProgress(chain, 2, 1000, 1)
	snap, _ = tr.Snapshot(chain)
	if snap.ConsecutiveErrors != 0 {
		t.Fatalf("expected error counter reset on positive progress, got %d", snap.ConsecutiveErrors)
	}
}

func TestUpdateProgress_Stalled(t *testing.T) {
	tr := newTestTracker(t, Config{StallThreshold: time.Millisecond, Confirmations: 0, MaxLagBlocks: 1000})
	chain := event.ChainID("osmosis")
	tr.Start(chain, 0, nil)
	tr.UpdateProgress(chain, 1, 1000, 1)

	time.Sleep(5 * time.Millisecond)
	tr.UpdateProgress(chain, 1, 1000, 0) // no forward progress, time has elapsed past threshold

	snap, err := tr.Snapshot(chain)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != Stalled {
		t.Fatalf("expected Stalled after exceeding stall threshold with no progress, got %s", snap.Status)
	}
}

func TestHealth_ClassifiesByStatus(t *testing.T) {
	tr := newTestTracker(t, Config{Confirmations: 0, MaxLagBlocks: 1000})
	chain := event.ChainID("ethereum")
	tr.Start(chain, 0, nil)
	tr.UpdateProgress(chain, 1, 1000, 1)

	h, err := tr.Health(chain)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Healthy {
		t.Fatalf("expected healthy status for %s, got %s", chain, h.Status)
	}

	if _, err := tr.Health("unknown-chain"); !errors.Is(err, ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
}

func TestListeners_InvokedSequentiallyAndErrorsSwallowed(t *testing.T) {
	tr := newTestTracker(t, Config{Confirmations: 0, MaxLagBlocks: 1000})
	chain := event.ChainID("ethereum")

	var seen []SyncEventType
	tr.Subscribe(func(ev SyncEvent) error {
		seen = append(seen, ev.Type)
		return errors.New("listener failure, must not propagate")
	})

	tr.Start(chain, 0, nil)
	tr.UpdateProgress(chain, 1, 1000, 1)

	if len(seen) == 0 {
		t.Fatal("expected at least one event delivered to listener")
	}
}
