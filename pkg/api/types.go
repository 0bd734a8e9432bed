// Package api implements Almanac's C10 query/aggregation surface: a REST handler set
// and a GraphQL schema, both answering reads from the same storage.Storage contract C2
// defines, per spec §4.10.
package api

import (
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

// Envelope is the shared REST/GraphQL response shape of §4.10:
// {success, data?, error?, metadata?}.
type Envelope struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Metadata *Metadata   `json:"metadata,omitempty"`
}

// Metadata carries the optional context fields named in §4.10.
type Metadata struct {
	BlockNumber     *uint64   `json:"block_number,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	GasUsed         *uint64   `json:"gas_used,omitempty"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
}

// AggregationFunc names one time-bucketed aggregation operator.
type AggregationFunc string

const (
	AggCount    AggregationFunc = "count"
	AggSum      AggregationFunc = "sum"
	AggAvg      AggregationFunc = "avg"
	AggMin      AggregationFunc = "min"
	AggMax      AggregationFunc = "max"
	AggDistinct AggregationFunc = "distinct"
)

// AggregationConfig parameterizes one aggregation query over the event set matched by
// Filter.
type AggregationConfig struct {
	Filter     event.Filter
	Func       AggregationFunc
	Field      string        // attribute name Func operates over; ignored for Count
	BucketSize time.Duration // 0 means one bucket for the whole range
	GroupBy    string        // optional attribute name to additionally group by
	MaxBuckets int           // 0 means unbounded
}

// AggregationBucket is one time-bucketed (and optionally grouped) aggregation result.
type AggregationBucket struct {
	BucketStart time.Time   `json:"bucket_start"`
	Group       string      `json:"group,omitempty"`
	Value       float64     `json:"value"`
	Distinct    []string    `json:"distinct,omitempty"`
	Count       int         `json:"count"`
}

// AggregationResult is the full, possibly-truncated set of buckets for one query.
type AggregationResult struct {
	Buckets  []AggregationBucket `json:"buckets"`
	Truncated bool               `json:"truncated"`
}
