package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage/kv"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	store := kv.NewWithDB(dbm.NewMemDB())
	e := event.Event{
		ID:          "e1",
		Chain:       "ethereum",
		BlockNumber: 100,
		Timestamp:   time.Unix(1_700_000_000, 0),
		EventType:   "Transfer",
		RawData:     []byte(`{"from":"0xA","to":"0xB","value":"10"}`),
	}
	if err := store.StoreEvent(context.Background(), e); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return NewHandlers(store, nil, nil, nil)
}

func TestHandleEvents_FiltersByChainAndBlockRange(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/events?chain=ethereum&from_block=90&to_block=110", nil)
	w := httptest.NewRecorder()

	h.handleEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}
}

func TestHandleEvents_NoMatchOnOtherChain(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/events?chain=polygon", nil)
	w := httptest.NewRecorder()

	h.handleEvents(w, req)

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data != nil {
		if data, ok := env.Data.([]interface{}); !ok || len(data) != 0 {
			t.Fatalf("expected empty result for non-matching chain, got %v", env.Data)
		}
	}
}

func TestHandleSync_NoTrackerConfigured(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/sync/ethereum/health", nil)
	w := httptest.NewRecorder()

	h.handleSync(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a tracker, got %d", w.Code)
	}
}

func TestHandleContract_CallIsNotImplemented(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/contract/0xabc/call/balanceOf", nil)
	w := httptest.NewRecorder()

	h.handleContract(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for contract execution, got %d", w.Code)
	}
}

func TestHandleAggregate_CountsEvents(t *testing.T) {
	h := newTestHandlers(t)
	body := `{"filter":{"Chains":["ethereum"]},"func":"count"}`
	req := httptest.NewRequest(http.MethodPost, "/aggregate", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.handleAggregate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
