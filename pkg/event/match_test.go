package event

import (
	"strings"
	"testing"
	"time"
)

func sampleEvent() Event {
	return Event{
		ID:          "e1",
		Chain:       "ethereum",
		BlockNumber: 100,
		BlockHash:   "0xblock",
		TxHash:      "0xtx",
		Timestamp:   time.Unix(1_700_000_000, 0),
		EventType:   "Transfer",
		RawData:     []byte(`{"from":"0xA","to":"0xB","value":"10"}`),
	}
}

func TestMatches_BlockRangeAndChain(t *testing.T) {
	e := sampleEvent()

	f := Filter{Chains: []ChainID{"ethereum"}, BlockRanges: []BlockRange{{Start: 90, End: 110}}}
	if !Matches(e, f) {
		t.Fatal("expected match within block range on ethereum")
	}

	f2 := Filter{Chains: []ChainID{"polygon"}}
	if Matches(e, f2) {
		t.Fatal("expected no match on a different chain")
	}

	f3 := Filter{
		EventTypesInclude: []string{"Transfer"},
		Text:              &TextQuery{Query: "0xA", Mode: TextContains},
	}
	if !Matches(e, f3) {
		t.Fatal("expected match on event type and contains-text")
	}
}

func TestMatches_ContradictoryBlockRange(t *testing.T) {
	e := sampleEvent()
	f := Filter{BlockRanges: []BlockRange{{Start: 10, End: 5}}}
	if Matches(e, f) {
		t.Fatal("contradictory block range must never match")
	}
}

func TestMatches_EmptyFilterMatchesEverything(t *testing.T) {
	if !Matches(sampleEvent(), Filter{}) {
		t.Fatal("empty filter should match any event")
	}
}

func TestMatches_FuzzyText(t *testing.T) {
	e := sampleEvent()
	e.RawData = []byte("Alicia sent tokens")

	f := Filter{Text: &TextQuery{Query: "Alice", Mode: TextFuzzy, MaxDistance: 2}}
	if !Matches(e, f) {
		t.Fatal("expected fuzzy match within edit distance 2")
	}

	f0 := Filter{Text: &TextQuery{Query: "Alice", Mode: TextFuzzy, MaxDistance: 0}}
	if Matches(e, f0) {
		t.Fatal("max_distance=0 fuzzy should behave like an exact-token contains check and not match")
	}
}

func TestMatches_BooleanQuery(t *testing.T) {
	e := sampleEvent()
	// textMatches folds case before calling evalBooleanQuery when CaseSensitive is false.
	haystack := strings.ToLower(newParsedEvent(e).searchableText())

	if !evalBooleanQuery(haystack, "0xa and transfer") {
		t.Fatal("expected 'and' query to match")
	}
	if evalBooleanQuery(haystack, "not 0xa") {
		t.Fatal("expected leading 'not' to exclude a present token")
	}
	if !evalBooleanQuery(haystack, "nonexistent or transfer") {
		t.Fatal("expected 'or' query to match on the second operand")
	}
}

func TestLevenshtein_Properties(t *testing.T) {
	cases := []struct{ a, b string }{
		{"kitten", "sitting"},
		{"", "abc"},
		{"flaw", "lawn"},
	}
	for _, c := range cases {
		if Levenshtein(c.a, c.b) != Levenshtein(c.b, c.a) {
			t.Fatalf("levenshtein not symmetric for %q/%q", c.a, c.b)
		}
	}
	if Levenshtein("abc", "abc") != 0 {
		t.Fatal("levenshtein of equal strings must be 0")
	}
	if Levenshtein("abc", "") != 3 {
		t.Fatal("levenshtein against empty string must equal the length")
	}
}

func TestApplySort_AttributeMissingLast(t *testing.T) {
	e1 := sampleEvent()
	e1.ID = "e1"
	e1.RawData = []byte(`{"amount":"5"}`)
	e2 := sampleEvent()
	e2.ID = "e2"
	e2.RawData = []byte(`{}`)
	e3 := sampleEvent()
	e3.ID = "e3"
	e3.RawData = []byte(`{"amount":"1"}`)

	events := []Event{e1, e2, e3}
	ApplySort(events, &Sort{Field: SortAttribute, AttributeName: "amount", Direction: Ascending})

	if events[len(events)-1].ID != "e2" {
		t.Fatalf("expected event missing the sort attribute to sort last, got order %v", ids(events))
	}
}

func ids(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestApplyPagination(t *testing.T) {
	events := []Event{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := ApplyPagination(events, 1, 1)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected pagination result: %v", ids(got))
	}
}
