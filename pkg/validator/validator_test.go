package validator

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

func ethConfig() ChainConfig {
	return ChainConfig{
		ChainName:       "ethereum",
		ExpectedChainID: "ethereum",
		AddressFormat:   AddressEthereum,
		TxHashFormat:    HashKeccak256,
		BlockHashFormat: HashKeccak256,
		MinBlockNumber:  1,
		StrictMode:      true,
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestValidate_WellFormedEthereumEvent(t *testing.T) {
	v := NewValidator(ethConfig())
	e := event.Event{
		Chain:       "ethereum",
		BlockNumber: 100,
		TxHash:      "0x" + hexRepeat("ab", 32),
		BlockHash:   "0x" + hexRepeat("cd", 32),
		EventType:   "transfer",
		Timestamp:   time.Now(),
		RawData:     mustJSON(t, map[string]interface{}{"address": "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"}),
	}
	res := v.Validate(e)
	if !res.IsValid {
		t.Fatalf("expected valid, got errors: %+v", res.Errors)
	}
}

func TestValidate_BadAddressFormat(t *testing.T) {
	v := NewValidator(ethConfig())
	e := event.Event{
		Chain:       "ethereum",
		BlockNumber: 100,
		TxHash:      "0x" + hexRepeat("ab", 32),
		BlockHash:   "0x" + hexRepeat("cd", 32),
		EventType:   "transfer",
		RawData:     mustJSON(t, map[string]interface{}{"address": "not-an-address"}),
	}
	res := v.Validate(e)
	if res.IsValid {
		t.Fatal("expected invalid due to bad address format")
	}
	if !hasCode(res.Errors, ErrBadAddressFormat) {
		t.Fatalf("expected ErrBadAddressFormat, got %+v", res.Errors)
	}
}

func TestValidate_BlockOutOfBounds(t *testing.T) {
	cfg := ethConfig()
	max := uint64(50)
	cfg.MaxBlockNumber = &max
	v := NewValidator(cfg)
	e := event.Event{
		Chain:       "ethereum",
		BlockNumber: 100,
		TxHash:      "0x" + hexRepeat("ab", 32),
		BlockHash:   "0x" + hexRepeat("cd", 32),
	}
	res := v.Validate(e)
	if !hasCode(res.Errors, ErrBlockOutOfBounds) {
		t.Fatalf("expected ErrBlockOutOfBounds, got %+v", res.Errors)
	}
}

func TestValidate_ChainMismatchStrictVsLenient(t *testing.T) {
	cfg := ethConfig()
	cfg.ChainName = "polygon" // registered for the event's chain, but expecting "ethereum"
	v := NewValidator(cfg)
	e := event.Event{Chain: "polygon", BlockNumber: 10, TxHash: "0x" + hexRepeat("ab", 32), BlockHash: "0x" + hexRepeat("cd", 32)}
	res := v.Validate(e)
	if res.IsValid {
		t.Fatal("strict mode should reject chain mismatch")
	}

	cfg.StrictMode = false
	v2 := NewValidator(cfg)
	res2 := v2.Validate(e)
	if !res2.IsValid {
		t.Fatalf("lenient mode should warn, not fail: %+v", res2.Errors)
	}
	if len(res2.Warnings) == 0 {
		t.Fatal("expected a chain mismatch warning")
	}
}

func TestValidate_EventTypeRuleRequiredField(t *testing.T) {
	cfg := ethConfig()
	cfg.EventTypeRules = []EventTypeRule{{
		Pattern: regexp.MustCompile("^transfer$"),
		RequiredFields: []FieldRule{
			{Name: "amount", Type: FieldNumber, MinValue: floatPtr(0)},
		},
	}}
	v := NewValidator(cfg)
	e := event.Event{
		Chain: "ethereum", BlockNumber: 10, EventType: "transfer",
		TxHash: "0x" + hexRepeat("ab", 32), BlockHash: "0x" + hexRepeat("cd", 32),
		RawData: mustJSON(t, map[string]interface{}{"address": "0x71C7656EC7ab88b098defB751B7401B5f6d8976"}),
	}
	res := v.Validate(e)
	if !hasCode(res.Errors, ErrMissingField) {
		t.Fatalf("expected missing amount field, got %+v", res.Errors)
	}
}

func TestValidate_CosmosAddressRejectsGarbage(t *testing.T) {
	cfg := ChainConfig{ChainName: "osmosis", AddressFormat: AddressCosmos, AddressPrefix: "cosmos"}
	v := NewValidator(cfg)
	e := event.Event{
		Chain:   "osmosis",
		RawData: mustJSON(t, map[string]interface{}{"address": "not-bech32-at-all"}),
	}
	res := v.Validate(e)
	if res.IsValid {
		t.Fatal("expected invalid for non-bech32 address")
	}
	if !hasCode(res.Errors, ErrBadAddressFormat) {
		t.Fatalf("expected ErrBadAddressFormat, got %+v", res.Errors)
	}
}

func TestValidate_UnregisteredChain(t *testing.T) {
	v := NewValidator(ethConfig())
	res := v.Validate(event.Event{Chain: "bitcoin"})
	if res.IsValid {
		t.Fatal("expected invalid for unregistered chain")
	}
	if !hasCode(res.Errors, ErrChainMismatch) {
		t.Fatalf("expected ErrChainMismatch, got %+v", res.Errors)
	}
}

func hasCode(errs []ValidationError, code ValidationErrorCode) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

func floatPtr(f float64) *float64 { return &f }

func hexRepeat(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
