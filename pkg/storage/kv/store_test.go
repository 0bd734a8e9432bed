package kv

import (
	"context"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/timewave-computer/almanac/pkg/event"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbm.NewMemDB()
	return NewWithDB(db)
}

func TestStoreThenQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := event.Event{
		ID:          "e1",
		Chain:       "ethereum",
		BlockNumber: 100,
		Timestamp:   time.Unix(1_700_000_000, 0),
		EventType:   "Transfer",
		RawData:     []byte(`{"from":"0xA","to":"0xB","value":"10"}`),
	}
	if err := s.StoreEvent(ctx, e); err != nil {
		t.Fatalf("store event: %v", err)
	}

	got, err := s.GetEvents(ctx, []event.Filter{{
		Chains:      []event.ChainID{"ethereum"},
		BlockRanges: []event.BlockRange{{Start: 90, End: 110}},
	}})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("expected exactly [e1], got %v", got)
	}

	none, err := s.GetEvents(ctx, []event.Filter{{Chains: []event.ChainID{"polygon"}}})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events on polygon, got %v", none)
	}

	textMatch, err := s.GetEvents(ctx, []event.Filter{{
		EventTypesInclude: []string{"Transfer"},
		Text:              &event.TextQuery{Query: "0xA", Mode: event.TextContains},
	}})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(textMatch) != 1 || textMatch[0].ID != "e1" {
		t.Fatalf("expected exactly [e1] for text filter, got %v", textMatch)
	}
}

func TestStoreEvent_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := event.Event{ID: "e1", Chain: "ethereum", BlockNumber: 5, EventType: "Transfer"}

	if err := s.StoreEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEvents(ctx, []event.Filter{{Chains: []event.ChainID{"ethereum"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one stored event after duplicate store_event, got %d", len(got))
	}
}

func TestBlockStatusMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpdateBlockStatus(ctx, "eth", 100, event.StatusConfirmed); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateBlockStatus(ctx, "eth", 100, event.StatusFinalized); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateBlockStatus(ctx, "eth", 100, event.StatusSafe); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetLatestBlockWithStatus(ctx, "eth", event.StatusFinalized)
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Fatalf("expected latest finalized block 100, got %d", got)
	}
}

func TestValenceAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	if err := s.StoreValenceAccountInstantiation(ctx, "acct1", "owner1", 1, 0, "0xtx", now); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreValenceLibraryApproval(ctx, "acct1", "libB", 2, 0, "0xtx2", now); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreValenceLibraryApproval(ctx, "acct1", "libA", 3, 0, "0xtx3", now); err != nil {
		t.Fatal(err)
	}

	st, err := s.GetValenceAccountState(ctx, "acct1")
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentOwner != "owner1" {
		t.Fatalf("expected owner1, got %s", st.CurrentOwner)
	}
	if len(st.Libraries) != 2 || st.Libraries[0] != "libA" || st.Libraries[1] != "libB" {
		t.Fatalf("expected sorted [libA libB], got %v", st.Libraries)
	}

	if err := s.StoreValenceLibraryRemoval(ctx, "acct1", "libA", 4, 0, "0xtx4", now); err != nil {
		t.Fatal(err)
	}
	st, err = s.GetValenceAccountState(ctx, "acct1")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Libraries) != 1 || st.Libraries[0] != "libB" {
		t.Fatalf("expected [libB] after removal, got %v", st.Libraries)
	}
}
