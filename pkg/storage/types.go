package storage

import (
	"context"
	"sort"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

// ValenceAccountState is the small per-account state record the Valence operations
// maintain: the current owner and a sorted, de-duplicated set of approved libraries.
type ValenceAccountState struct {
	AccountID      string    `json:"account_id"`
	CurrentOwner   string    `json:"current_owner"`
	Libraries      []string  `json:"libraries"`
	LastUpdated    time.Time `json:"last_updated"`
	LastBlock      uint64    `json:"last_block"`
}

// AddLibrary inserts lib into the sorted, de-duplicated library set.
func (s *ValenceAccountState) AddLibrary(lib string) {
	i := sort.SearchStrings(s.Libraries, lib)
	if i < len(s.Libraries) && s.Libraries[i] == lib {
		return
	}
	s.Libraries = append(s.Libraries, "")
	copy(s.Libraries[i+1:], s.Libraries[i:])
	s.Libraries[i] = lib
}

// RemoveLibrary deletes lib from the library set, if present.
func (s *ValenceAccountState) RemoveLibrary(lib string) {
	i := sort.SearchStrings(s.Libraries, lib)
	if i < len(s.Libraries) && s.Libraries[i] == lib {
		s.Libraries = append(s.Libraries[:i], s.Libraries[i+1:]...)
	}
}

// ValenceExecution records one execution against a Valence account, used to build the
// history-preserving audit trail of spec §4.4.
type ValenceExecution struct {
	AccountID   string    `json:"account_id"`
	Library     string    `json:"library"`
	Function    string    `json:"function"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint32    `json:"log_index"`
	TxHash      string    `json:"tx_hash"`
	Executed    time.Time `json:"executed"`
}

// ValenceOwnershipChange records one ownership transfer for the history table.
type ValenceOwnershipChange struct {
	AccountID   string    `json:"account_id"`
	PreviousOwner string  `json:"previous_owner"`
	NewOwner    string    `json:"new_owner"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint32    `json:"log_index"`
	TxHash      string    `json:"tx_hash"`
	Changed     time.Time `json:"changed"`
}

// Storage is the contract both backends (hot KV, relational) implement identically. It
// is safe for concurrent use; implementations own their own synchronization.
type Storage interface {
	// StoreEvent persists and indexes e. Idempotent on e.ID.
	StoreEvent(ctx context.Context, e event.Event) error

	// GetEvents returns events matching the union (OR) of the given filters; each
	// filter's own predicates are ANDed. Results are de-duplicated by event ID.
	GetEvents(ctx context.Context, filters []event.Filter) ([]event.Event, error)

	// GetEventsWithStatus additionally constrains results to blocks whose stored status
	// is at least the given finality status.
	GetEventsWithStatus(ctx context.Context, filters []event.Filter, status event.BlockStatus) ([]event.Event, error)

	// GetLatestBlock returns the highest block number observed for chain, or 0 if unknown.
	GetLatestBlock(ctx context.Context, chain event.ChainID) (uint64, error)

	// UpdateBlockStatus is monotone: it never demotes a block's recorded status.
	UpdateBlockStatus(ctx context.Context, chain event.ChainID, block uint64, status event.BlockStatus) error

	// GetLatestBlockWithStatus returns the max block whose stored status is >= status.
	GetLatestBlockWithStatus(ctx context.Context, chain event.ChainID, status event.BlockStatus) (uint64, error)

	// Valence account operations maintain the small per-account state record described
	// by ValenceAccountState, consistent with the update history below.
	StoreValenceAccountInstantiation(ctx context.Context, accountID, owner string, block uint64, logIndex uint32, txHash string, at time.Time) error
	StoreValenceLibraryApproval(ctx context.Context, accountID, library string, block uint64, logIndex uint32, txHash string, at time.Time) error
	StoreValenceLibraryRemoval(ctx context.Context, accountID, library string, block uint64, logIndex uint32, txHash string, at time.Time) error
	StoreValenceOwnershipUpdate(ctx context.Context, accountID, newOwner string, block uint64, logIndex uint32, txHash string, at time.Time) error
	StoreValenceExecution(ctx context.Context, exec ValenceExecution) error
	GetValenceAccountState(ctx context.Context, accountID string) (*ValenceAccountState, error)

	// Close releases any resources (connections, file handles) held by the backend.
	Close() error
}
