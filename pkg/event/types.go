// Package event defines Almanac's uniform cross-chain event shape and the filter
// algebra used to query it, independent of which storage backend answers the query.
package event

import "time"

// ChainID tags a blockchain namespace, e.g. "ethereum" or "osmosis-1". Comparison is
// case-sensitive.
type ChainID string

// BlockStatus is a point on the finality lattice Confirmed < Safe < Justified < Finalized.
type BlockStatus int

const (
	StatusConfirmed BlockStatus = iota
	StatusSafe
	StatusJustified
	StatusFinalized
)

// String renders the status the way it is stored (block_status:<chain>:<block> tag and
// the SQL block_status.status column).
func (s BlockStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusSafe:
		return "safe"
	case StatusJustified:
		return "justified"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// ParseBlockStatus inverts String; an unrecognized tag yields (_, false).
func ParseBlockStatus(s string) (BlockStatus, bool) {
	switch s {
	case "confirmed":
		return StatusConfirmed, true
	case "safe":
		return StatusSafe, true
	case "justified":
		return StatusJustified, true
	case "finalized":
		return StatusFinalized, true
	default:
		return 0, false
	}
}

// Event is a normalized record of one on-chain occurrence. It is never mutated once
// created; archival migrations are the only process allowed to logically delete one.
type Event struct {
	ID          string    `json:"id"`
	Chain       ChainID   `json:"chain"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint32    `json:"log_index"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	RawData     []byte    `json:"raw_data"`
}

// The polymorphic "capability set" contract is four narrow interfaces with getters only
// (§9: no inheritance). Event implements all four directly.

// Identifiable exposes the globally unique identity of an event.
type Identifiable interface {
	EventID() string
}

// Locatable exposes where on-chain the event occurred.
type Locatable interface {
	ChainTag() ChainID
	Block() uint64
	BlockHashHex() string
	TransactionHash() string
}

// Classifiable exposes the event's type tag.
type Classifiable interface {
	Type() string
}

// PayloadCarrier exposes the opaque payload.
type PayloadCarrier interface {
	Payload() []byte
}

func (e Event) EventID() string            { return e.ID }
func (e Event) ChainTag() ChainID          { return e.Chain }
func (e Event) Block() uint64              { return e.BlockNumber }
func (e Event) BlockHashHex() string       { return e.BlockHash }
func (e Event) TransactionHash() string    { return e.TxHash }
func (e Event) Type() string               { return e.EventType }
func (e Event) Payload() []byte            { return e.RawData }

// Key returns the (chain, tx_hash, log_index) triple that identifies a log, per §3's
// invariant.
func (e Event) Key() (ChainID, string, uint32) {
	return e.Chain, e.TxHash, e.LogIndex
}
