// Package correlate implements Almanac's cross-chain correlation engine: given a batch
// of normalized events from potentially many chains, it groups and scores the ones that
// plausibly describe one logical cross-chain operation (a bridge transfer, a relayed
// message, arbitrage, or a general multi-chain transaction).
package correlate

import (
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

// CrossChainConfig parameterizes one correlation run.
type CrossChainConfig struct {
	SupportedChains []event.ChainID

	MaxTimeDiff time.Duration // default 300s if zero
	MaxBlockDiff map[event.ChainID]uint64 // optional per-chain block-distance cap

	CorrelationFields []string // default {"tx_hash", "sender", "amount"} if empty

	BridgeContracts map[event.ChainID][]string // known bridge contract addresses, lowercased

	MinConfidence float64 // correlations scoring below this are dropped
	ChainPriority []event.ChainID // earlier entries preferred as the Source chain
}

func (c CrossChainConfig) withDefaults() CrossChainConfig {
	if c.MaxTimeDiff <= 0 {
		c.MaxTimeDiff = 300 * time.Second
	}
	if len(c.CorrelationFields) == 0 {
		c.CorrelationFields = []string{"tx_hash", "sender", "amount"}
	}
	return c
}

// CorrelationType classifies what kind of cross-chain operation a Correlation
// represents.
type CorrelationType string

const (
	TypeBridgeTransfer       CorrelationType = "bridge_transfer"
	TypeArbitrage            CorrelationType = "arbitrage"
	TypeCrossChainSwap       CorrelationType = "cross_chain_swap"
	TypeMessagePassing       CorrelationType = "message_passing"
	TypeMultiChainTransaction CorrelationType = "multi_chain_transaction"
	TypeGeneral              CorrelationType = "general"
)

// EventRole tags an event's part within a Correlation.
type EventRole string

const (
	RoleSource       EventRole = "source"
	RoleTarget       EventRole = "target"
	RoleIntermediate EventRole = "intermediate"
	RoleSupporting   EventRole = "supporting"
)

// ParticipantEvent is one event's membership in a Correlation.
type ParticipantEvent struct {
	Event event.Event
	Role  EventRole
}

// BridgeMetadata is populated only for TypeBridgeTransfer correlations, per §4.7's
// supplemented bridge metadata protocol.
type BridgeMetadata struct {
	Protocol        string
	SourceContract  string
	TargetContract  string
	Token           string
	Amount          string
	TransactionHashes []string
}

// Correlation is a scored, typed grouping of related cross-chain events.
type Correlation struct {
	ID           string
	Events       []ParticipantEvent
	Type         CorrelationType
	Confidence   float64
	SourceChain  event.ChainID
	TargetChains []event.ChainID
	TimeSpan     time.Duration
	BridgeInfo   *BridgeMetadata
}

// crossChainEvent is the §4.8 step-1 projection: an event plus its correlation-field
// values extracted from raw_data (parsed once, cached on the wrapper per §9's
// lazy-parse-and-cache guidance).
type crossChainEvent struct {
	event  event.Event
	fields map[string]string // correlation field name -> stringified value, only when present
}
