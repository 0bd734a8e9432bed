package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/timewave-computer/almanac/pkg/event"
)

// Integration tests require a live Postgres, configured via ALMANAC_TEST_DB (e.g.
// "postgres://localhost/almanac_test?sslmode=disable"). They're skipped otherwise,
// mirroring the teacher's gated database tests.
var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("ALMANAC_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testDB == nil {
		t.Skip("ALMANAC_TEST_DB not configured")
	}
	client := NewClientFromDB(testDB)
	ctx := context.Background()
	if err := NewMigrator(client).MigrateUp(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	t.Cleanup(func() {
		testDB.Exec("TRUNCATE events, block_status, valence_account_libraries, valence_account_executions, valence_ownership_history, valence_accounts")
	})
	return New(client)
}

func TestStore_StoreThenQuery(t *testing.T) {
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
}

func TestStore_StoreEvent_Idempotent(t *testing.T) {
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
		t.Fatalf("expected exactly one stored event after duplicate store, got %d", len(got))
	}
}

func TestStore_BlockStatusMonotonicity(t *testing.T) {
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

func TestStore_ValenceAccountLifecycle(t *testing.T) {
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
