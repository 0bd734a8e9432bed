package correlate

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

func bridgeScenarioEvents() []event.Event {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []event.Event{
		{
			ID: "e1", Chain: "ethereum", EventType: "TokenLock", Timestamp: base,
			RawData: []byte(`{"contract":"0xbridge1","amount":"500","token":"DAI"}`),
		},
		{
			ID: "e2", Chain: "polygon", EventType: "TokenMint", Timestamp: base.Add(20 * time.Second),
			RawData: []byte(`{"contract":"0xbridge2","amount":"500","token":"DAI"}`),
		},
	}
}

// TestCorrelate_BridgeTransfer mirrors spec scenario 5 exactly.
func TestCorrelate_BridgeTransfer(t *testing.T) {
	c := NewCorrelator()
	cfg := CrossChainConfig{
		MaxTimeDiff:       300 * time.Second,
		CorrelationFields: []string{"amount", "token"},
	}
	corrs, err := c.Correlate(context.Background(), bridgeScenarioEvents(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(corrs) != 1 {
		t.Fatalf("expected exactly one correlation, got %d", len(corrs))
	}
	corr := corrs[0]
	if corr.Type != TypeBridgeTransfer {
		t.Fatalf("expected BridgeTransfer, got %s", corr.Type)
	}
	if corr.Confidence < 0.7 {
		t.Fatalf("expected confidence >= 0.7, got %f", corr.Confidence)
	}
	if corr.BridgeInfo == nil {
		t.Fatal("expected non-nil bridge metadata")
	}
	if corr.BridgeInfo.Token != "DAI" || corr.BridgeInfo.Amount != "500" {
		t.Fatalf("unexpected bridge metadata: %+v", corr.BridgeInfo)
	}
}

// TestCorrelate_Symmetry is the §8 correlation-symmetry property: shuffling the input
// batch yields the same set of correlations (by id-pair and type), independent of order.
func TestCorrelate_Symmetry(t *testing.T) {
	c := NewCorrelator()
	cfg := CrossChainConfig{MaxTimeDiff: 300 * time.Second, CorrelationFields: []string{"amount", "token"}}

	events := bridgeScenarioEvents()
	base, err := c.Correlate(context.Background(), events, cfg)
	if err != nil {
		t.Fatal(err)
	}

	shuffled := append([]event.Event{}, events...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	got, err := c.Correlate(context.Background(), shuffled, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if len(base) != len(got) {
		t.Fatalf("expected same correlation count regardless of input order: %d vs %d", len(base), len(got))
	}
	for i := range base {
		if base[i].Type != got[i].Type || base[i].Confidence != got[i].Confidence {
			t.Fatalf("correlation %d differs after shuffling input: %+v vs %+v", i, base[i], got[i])
		}
	}
}

func TestCorrelate_DifferentChainsRequired(t *testing.T) {
	c := NewCorrelator()
	base := time.Now()
	events := []event.Event{
		{ID: "e1", Chain: "ethereum", EventType: "Transfer", Timestamp: base, RawData: []byte(`{"sender":"0xA"}`)},
		{ID: "e2", Chain: "ethereum", EventType: "Transfer", Timestamp: base, RawData: []byte(`{"sender":"0xA"}`)},
	}
	corrs, err := c.Correlate(context.Background(), events, CrossChainConfig{CorrelationFields: []string{"sender"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(corrs) != 0 {
		t.Fatalf("expected no correlation for same-chain events, got %d", len(corrs))
	}
}

func TestCorrelate_MultiChainTransactionBySharedSender(t *testing.T) {
	c := NewCorrelator()
	base := time.Now()
	events := []event.Event{
		{ID: "e1", Chain: "ethereum", EventType: "Deposit", Timestamp: base, RawData: []byte(`{"sender":"0xA"}`)},
		{ID: "e2", Chain: "polygon", EventType: "Deposit", Timestamp: base.Add(5 * time.Second), RawData: []byte(`{"sender":"0xA"}`)},
	}
	corrs, err := c.Correlate(context.Background(), events, CrossChainConfig{CorrelationFields: []string{"sender"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(corrs) != 1 || corrs[0].Type != TypeMultiChainTransaction {
		t.Fatalf("expected one MultiChainTransaction correlation, got %+v", corrs)
	}
}

func TestCorrelate_MinConfidenceThreshold(t *testing.T) {
	c := NewCorrelator()
	base := time.Now()
	events := []event.Event{
		{ID: "e1", Chain: "ethereum", EventType: "Generic", Timestamp: base, RawData: []byte(`{"amount":"1"}`)},
		{ID: "e2", Chain: "polygon", EventType: "Generic", Timestamp: base.Add(299 * time.Second), RawData: []byte(`{"amount":"1"}`)},
	}
	cfg := CrossChainConfig{CorrelationFields: []string{"amount"}, MinConfidence: 0.95}
	corrs, err := c.Correlate(context.Background(), events, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(corrs) != 0 {
		t.Fatalf("expected correlation dropped below min_confidence, got %+v", corrs)
	}
}
