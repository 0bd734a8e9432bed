package api

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
)

// Aggregate answers cfg against store, bucketing matched events by cfg.BucketSize (a
// single bucket when zero) and optionally by cfg.GroupBy, per §4.10's AggregationConfig.
// The SQL fast-path noted in SPEC_FULL §3.10 is left to sqlstore.Store as an extension
// point; this in-process path is the one exercised by tests and is authoritative.
func Aggregate(ctx context.Context, store storage.Storage, cfg AggregationConfig) (AggregationResult, error) {
	events, err := store.GetEvents(ctx, []event.Filter{cfg.Filter})
	if err != nil {
		return AggregationResult{}, err
	}

	type key struct {
		bucket int64
		group  string
	}
	groups := make(map[key][]event.Event)
	for _, e := range events {
		b := int64(0)
		if cfg.BucketSize > 0 {
			b = e.Timestamp.Unix() / int64(cfg.BucketSize.Seconds())
		}
		g := ""
		if cfg.GroupBy != "" {
			g, _ = attributeString(e, cfg.GroupBy)
		}
		k := key{bucket: b, group: g}
		groups[k] = append(groups[k], e)
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].bucket != keys[j].bucket {
			return keys[i].bucket < keys[j].bucket
		}
		return keys[i].group < keys[j].group
	})

	truncated := false
	if cfg.MaxBuckets > 0 && len(keys) > cfg.MaxBuckets {
		keys = keys[:cfg.MaxBuckets]
		truncated = true
	}

	result := AggregationResult{Buckets: make([]AggregationBucket, 0, len(keys)), Truncated: truncated}
	for _, k := range keys {
		es := groups[k]
		bucket := AggregationBucket{Group: k.group, Count: len(es)}
		if cfg.BucketSize > 0 {
			bucket.BucketStart = time.Unix(k.bucket*int64(cfg.BucketSize.Seconds()), 0).UTC()
		}
		switch cfg.Func {
		case AggCount, "":
			bucket.Value = float64(len(es))
		case AggSum, AggAvg, AggMin, AggMax:
			bucket.Value = numericAgg(es, cfg.Field, cfg.Func)
		case AggDistinct:
			bucket.Distinct = distinctValues(es, cfg.Field)
			bucket.Value = float64(len(bucket.Distinct))
		}
		result.Buckets = append(result.Buckets, bucket)
	}
	return result, nil
}

func attributeString(e event.Event, field string) (string, bool) {
	switch field {
	case "chain":
		return string(e.Chain), true
	case "event_type":
		return e.EventType, true
	case "tx_hash":
		return e.TxHash, true
	}
	var attrs map[string]interface{}
	if len(e.RawData) == 0 {
		return "", false
	}
	if err := json.Unmarshal(e.RawData, &attrs); err != nil {
		return "", false
	}
	v, ok := attrs[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		b, _ := json.Marshal(t)
		return string(b), true
	}
}

func attributeFloat(e event.Event, field string) (float64, bool) {
	s, ok := attributeString(e, field)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func numericAgg(events []event.Event, field string, fn AggregationFunc) float64 {
	var sum float64
	var min, max float64
	n := 0
	for _, e := range events {
		v, ok := attributeFloat(e, field)
		if !ok {
			continue
		}
		if n == 0 {
			min, max = v, v
		} else {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	switch fn {
	case AggSum:
		return sum
	case AggAvg:
		return sum / float64(n)
	case AggMin:
		return min
	case AggMax:
		return max
	default:
		return 0
	}
}

func distinctValues(events []event.Event, field string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range events {
		v, ok := attributeString(e, field)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
