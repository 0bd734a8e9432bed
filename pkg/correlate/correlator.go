package correlate

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timewave-computer/almanac/pkg/event"
)

// baseConfidence is the starting score per classified type before the field-match and
// time-proximity bonuses of §4.8 step 5 are added. No example repo in the pack sizes
// these constants, so they were chosen so the worked bridge-correlation scenario
// (two exact-matching fields, a 20s span against a 300s max) clears the spec's stated
// confidence ≥ 0.7 threshold while leaving room for the bonuses to matter.
var baseConfidence = map[CorrelationType]float64{
	TypeBridgeTransfer:        0.5,
	TypeArbitrage:             0.4,
	TypeCrossChainSwap:        0.45,
	TypeMessagePassing:        0.4,
	TypeMultiChainTransaction: 0.45,
	TypeGeneral:               0.3,
}

// Correlator runs the cross-chain correlation algorithm over a batch of events. It
// holds no state between calls; built from plain data structures per SPEC_FULL's
// domain-stack note that no graph library in the pack targets this kind of small
// bucket-and-pair correlation.
type Correlator struct{}

// NewCorrelator builds a Correlator.
func NewCorrelator() *Correlator { return &Correlator{} }

// Correlate implements §4.8's eight-step algorithm: project, bucket, pair-enumerate,
// classify, score, threshold, enrich bridge metadata, and sort by confidence
// descending. It is order-insensitive in its input (§8's correlation-symmetry
// property): shuffling events yields the same set of correlations.
func (c *Correlator) Correlate(ctx context.Context, events []event.Event, cfg CrossChainConfig) ([]Correlation, error) {
	cfg = cfg.withDefaults()

	projected := make([]crossChainEvent, len(events))
	for i, e := range events {
		projected[i] = project(e, cfg.CorrelationFields)
	}

	buckets := bucket(projected, cfg.CorrelationFields)

	type pairKey struct{ a, b string }
	seen := make(map[pairKey]bool)

	var correlations []Correlation
	for _, group := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				key := pairKey{a.event.ID, b.event.ID}
				if a.event.ID > b.event.ID {
					key = pairKey{b.event.ID, a.event.ID}
				}
				if seen[key] {
					continue
				}
				seen[key] = true

				if !eligiblePair(a, b, cfg) {
					continue
				}
				corr := classifyAndScore(a, b, cfg)
				if corr.Confidence < cfg.MinConfidence {
					continue
				}
				correlations = append(correlations, corr)
			}
		}
	}

	sort.SliceStable(correlations, func(i, j int) bool {
		return correlations[i].Confidence > correlations[j].Confidence
	})
	return correlations, nil
}

func project(e event.Event, fields []string) crossChainEvent {
	var attrs map[string]interface{}
	if len(e.RawData) > 0 {
		_ = json.Unmarshal(e.RawData, &attrs)
	}
	vals := make(map[string]string)
	for _, f := range fields {
		if v, ok := resolveField(e, attrs, f); ok {
			vals[f] = v
		}
	}
	return crossChainEvent{event: e, fields: vals}
}

func resolveField(e event.Event, attrs map[string]interface{}, field string) (string, bool) {
	switch field {
	case "tx_hash":
		if e.TxHash != "" {
			return e.TxHash, true
		}
		return "", false
	case "block_hash":
		if e.BlockHash != "" {
			return e.BlockHash, true
		}
		return "", false
	case "chain":
		return string(e.Chain), true
	}
	if attrs == nil {
		return "", false
	}
	v, ok := attrs[field]
	if !ok || v == nil {
		return "", false
	}
	return stringify(v), true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// bucket implements §4.8 step 2: group events by (field, value) for every correlation
// field with a non-empty value.
func bucket(events []crossChainEvent, fields []string) map[string][]crossChainEvent {
	buckets := make(map[string][]crossChainEvent)
	for _, ce := range events {
		for _, f := range fields {
			v, ok := ce.fields[f]
			if !ok || v == "" {
				continue
			}
			key := f + "=" + v
			buckets[key] = append(buckets[key], ce)
		}
	}
	return buckets
}

func eligiblePair(a, b crossChainEvent, cfg CrossChainConfig) bool {
	if a.event.Chain == b.event.Chain {
		return false
	}
	span := timeDiff(a.event.Timestamp, b.event.Timestamp)
	if span > cfg.MaxTimeDiff {
		return false
	}
	if len(cfg.MaxBlockDiff) > 0 {
		if cap1, ok := cfg.MaxBlockDiff[a.event.Chain]; ok && blockDiff(a.event.BlockNumber, b.event.BlockNumber) > cap1 {
			return false
		}
		if cap2, ok := cfg.MaxBlockDiff[b.event.Chain]; ok && blockDiff(a.event.BlockNumber, b.event.BlockNumber) > cap2 {
			return false
		}
	}
	return matchedFields(a, b, cfg.CorrelationFields) > 0
}

func timeDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

func blockDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func matchedFields(a, b crossChainEvent, fields []string) int {
	n := 0
	for _, f := range fields {
		va, oka := a.fields[f]
		vb, okb := b.fields[f]
		if oka && okb && va == vb {
			n++
		}
	}
	return n
}

func classifyAndScore(a, b crossChainEvent, cfg CrossChainConfig) Correlation {
	typ := classify(a, b, cfg)

	matched := matchedFields(a, b, cfg.CorrelationFields)
	total := len(cfg.CorrelationFields)
	fieldBonus := 0.0
	if total > 0 {
		fieldBonus = 0.3 * float64(matched) / float64(total)
	}

	span := timeDiff(a.event.Timestamp, b.event.Timestamp)
	proximity := 0.0
	if cfg.MaxTimeDiff > 0 {
		proximity = 1 - float64(span)/float64(cfg.MaxTimeDiff)
		if proximity < 0 {
			proximity = 0
		}
	}
	timeBonus := 0.2 * proximity

	confidence := baseConfidence[typ] + fieldBonus + timeBonus
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	participants, source, targets := assignRoles(a, b, typ, cfg)

	corr := Correlation{
		ID:           uuid.New().String(),
		Events:       participants,
		Type:         typ,
		Confidence:   confidence,
		SourceChain:  source,
		TargetChains: targets,
		TimeSpan:     span,
	}
	if typ == TypeBridgeTransfer {
		corr.BridgeInfo = extractBridgeMetadata(a, b, cfg)
	}
	return corr
}

func classify(a, b crossChainEvent, cfg CrossChainConfig) CorrelationType {
	t1, t2 := strings.ToLower(a.event.EventType), strings.ToLower(b.event.EventType)

	lockLike := func(t string) bool { return strings.Contains(t, "lock") && !strings.Contains(t, "unlock") }
	unlockLike := func(t string) bool { return strings.Contains(t, "unlock") }
	mintLike := func(t string) bool { return strings.Contains(t, "mint") }
	burnLike := func(t string) bool { return strings.Contains(t, "burn") }
	swapLike := func(t string) bool { return strings.Contains(t, "swap") }
	messageLike := func(t string) bool { return strings.Contains(t, "message") || strings.Contains(t, "relay") }

	if (lockLike(t1) && mintLike(t2)) || (lockLike(t2) && mintLike(t1)) ||
		(burnLike(t1) && unlockLike(t2)) || (burnLike(t2) && unlockLike(t1)) ||
		isBridgeContractParticipant(a, cfg) || isBridgeContractParticipant(b, cfg) {
		return TypeBridgeTransfer
	}
	if swapLike(t1) && swapLike(t2) {
		return TypeArbitrage
	}
	if strings.Contains(t1, "swap") || strings.Contains(t2, "swap") {
		return TypeCrossChainSwap
	}
	if messageLike(t1) || messageLike(t2) {
		return TypeMessagePassing
	}
	if sharesSender(a, b) {
		return TypeMultiChainTransaction
	}
	return TypeGeneral
}

func sharesSender(a, b crossChainEvent) bool {
	sa, oka := a.fields["sender"]
	sb, okb := b.fields["sender"]
	return oka && okb && sa != "" && sa == sb
}

func isBridgeContractParticipant(ce crossChainEvent, cfg CrossChainConfig) bool {
	contracts, ok := cfg.BridgeContracts[ce.event.Chain]
	if !ok {
		return false
	}
	var attrs map[string]interface{}
	if len(ce.event.RawData) > 0 {
		_ = json.Unmarshal(ce.event.RawData, &attrs)
	}
	if attrs == nil {
		return false
	}
	for _, key := range []string{"contract", "address", "from", "to"} {
		v, ok := attrs[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, c := range contracts {
			if strings.EqualFold(s, c) {
				return true
			}
		}
	}
	return false
}

// assignRoles picks a deterministic Source/Target ordering: cfg.ChainPriority wins if
// it names either chain, otherwise the earlier-timestamped event is Source.
func assignRoles(a, b crossChainEvent, typ CorrelationType, cfg CrossChainConfig) ([]ParticipantEvent, event.ChainID, []event.ChainID) {
	sourceFirst := true
	if pa, pb := priorityRank(a.event.Chain, cfg.ChainPriority), priorityRank(b.event.Chain, cfg.ChainPriority); pa != pb {
		sourceFirst = pa < pb
	} else {
		sourceFirst = !a.event.Timestamp.After(b.event.Timestamp)
	}

	src, tgt := a, b
	if !sourceFirst {
		src, tgt = b, a
	}
	return []ParticipantEvent{
		{Event: src.event, Role: RoleSource},
		{Event: tgt.event, Role: RoleTarget},
	}, src.event.Chain, []event.ChainID{tgt.event.Chain}
}

func priorityRank(chain event.ChainID, priority []event.ChainID) int {
	for i, c := range priority {
		if c == chain {
			return i
		}
	}
	return len(priority) + 1
}

func extractBridgeMetadata(a, b crossChainEvent, cfg CrossChainConfig) *BridgeMetadata {
	attrsOf := func(ce crossChainEvent) map[string]interface{} {
		var attrs map[string]interface{}
		if len(ce.event.RawData) > 0 {
			_ = json.Unmarshal(ce.event.RawData, &attrs)
		}
		return attrs
	}
	aAttrs, bAttrs := attrsOf(a), attrsOf(b)

	contractOf := func(attrs map[string]interface{}) string {
		if v, ok := attrs["contract"]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	fieldOf := func(attrs map[string]interface{}, key string) string {
		if v, ok := attrs[key]; ok {
			return stringify(v)
		}
		return ""
	}

	meta := &BridgeMetadata{
		SourceContract:    contractOf(aAttrs),
		TargetContract:    contractOf(bAttrs),
		TransactionHashes: []string{a.event.TxHash, b.event.TxHash},
	}
	if token := fieldOf(aAttrs, "token"); token != "" {
		meta.Token = token
	} else {
		meta.Token = fieldOf(bAttrs, "token")
	}
	if amount := fieldOf(aAttrs, "amount"); amount != "" {
		meta.Amount = amount
	} else {
		meta.Amount = fieldOf(bAttrs, "amount")
	}
	return meta
}
