package event

import "time"

// AttributeOperator is one of the comparison operators usable in an advanced attribute
// filter against a JSON field of RawData.
type AttributeOperator string

const (
	OpEquals      AttributeOperator = "equals"
	OpNotEquals   AttributeOperator = "not_equals"
	OpContains    AttributeOperator = "contains"
	OpNotContains AttributeOperator = "not_contains"
	OpStartsWith  AttributeOperator = "starts_with"
	OpEndsWith    AttributeOperator = "ends_with"
	OpGt          AttributeOperator = "gt"
	OpGe          AttributeOperator = "ge"
	OpLt          AttributeOperator = "lt"
	OpLe          AttributeOperator = "le"
	OpIn          AttributeOperator = "in"
	OpNotIn       AttributeOperator = "not_in"
	OpRegex       AttributeOperator = "regex"
	OpExists      AttributeOperator = "exists"
	OpNotExists   AttributeOperator = "not_exists"
)

// AttributeFilter is a single (key, operator, value) predicate evaluated against the
// parsed JSON form of RawData.
type AttributeFilter struct {
	Key      string
	Operator AttributeOperator
	Value    interface{}
}

// TextMode selects how a TextQuery is interpreted.
type TextMode string

const (
	TextContains TextMode = "contains"
	TextFullText TextMode = "full_text"
	TextFuzzy    TextMode = "fuzzy"
	TextRegex    TextMode = "regex"
	TextPhrase   TextMode = "phrase"
	TextBoolean  TextMode = "boolean"
)

// TextQuery is the free-text search portion of a filter.
type TextQuery struct {
	Query         string
	Mode          TextMode
	MaxDistance   int // used only when Mode == TextFuzzy
	CaseSensitive bool
}

// SortField selects which attribute to order results by.
type SortField string

const (
	SortBlockNumber SortField = "block_number"
	SortTimestamp   SortField = "timestamp"
	SortEventType   SortField = "event_type"
	SortChain       SortField = "chain"
	SortTxHash      SortField = "tx_hash"
	SortAttribute   SortField = "attribute" // AttributeName names the attribute
)

// SortDirection is ascending or descending.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

// Sort describes the requested ordering.
type Sort struct {
	Field         SortField
	AttributeName string // set only when Field == SortAttribute
	Direction     SortDirection
}

// BlockRange is an inclusive [Start, End] bound over block numbers.
type BlockRange struct {
	Start uint64
	End   uint64
}

// TimeRange is an inclusive [Start, End] bound over event timestamps.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Filter is a composite predicate over events. All populated predicates combine by AND;
// within a multi-valued predicate, values combine by OR. A zero-value Filter matches
// every event.
type Filter struct {
	Chains []ChainID

	BlockRanges []BlockRange
	TimeRanges  []TimeRange

	EventTypesInclude []string
	EventTypesExclude []string

	AddressesInclude []string
	AddressesExclude []string

	TxHashesInclude    []string
	BlockHashesInclude []string

	Attributes []AttributeFilter // custom key=value equality map, expressed as Equals ops
	Advanced   []AttributeFilter // (key, operator, value) filters proper

	Text *TextQuery

	Sort *Sort

	Limit  int // 0 means unbounded
	Offset int
}

// Empty reports whether the filter has no predicates at all (matches everything).
func (f Filter) Empty() bool {
	return len(f.Chains) == 0 && len(f.BlockRanges) == 0 && len(f.TimeRanges) == 0 &&
		len(f.EventTypesInclude) == 0 && len(f.EventTypesExclude) == 0 &&
		len(f.AddressesInclude) == 0 && len(f.AddressesExclude) == 0 &&
		len(f.TxHashesInclude) == 0 && len(f.BlockHashesInclude) == 0 &&
		len(f.Attributes) == 0 && len(f.Advanced) == 0 && f.Text == nil
}
