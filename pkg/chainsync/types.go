// Package chainsync tracks each chain's sync progress as a small state machine,
// deriving status on every progress update and emitting events to registered
// listeners, in the style of the mutex-guarded HealthStatus tracker it's grounded on.
package chainsync

import (
	"errors"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

// ErrUnknownChain is returned when a chain has no tracked sync state yet.
var ErrUnknownChain = errors.New("chainsync: unknown chain")

// Status is a point in the sync state machine.
type Status int

const (
	NotSyncing Status = iota
	Syncing
	Synced
	Failed
	Paused
	CatchingUp
	Stalled
)

func (s Status) String() string {
	switch s {
	case NotSyncing:
		return "not_syncing"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Failed:
		return "failed"
	case Paused:
		return "paused"
	case CatchingUp:
		return "catching_up"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Healthy reports whether status is one of the chain's acceptable operating states.
func (s Status) Healthy() bool {
	return s == Syncing || s == Synced || s == CatchingUp
}

// State is the full per-chain sync record.
type State struct {
	Chain       event.ChainID
	Status      Status
	CurrentBlock uint64
	HeadBlock    uint64
	StartBlock   uint64
	TargetBlock  *uint64

	BlocksProcessed  uint64
	EventsExtracted  uint64
	SyncStartTime    time.Time
	LastSyncTime     time.Time
	EstimatedCompletion *time.Time

	InstantaneousSpeed float64 // blocks/sec
	AverageSpeed       float64 // blocks/sec
	PeakSpeed          float64 // blocks/sec

	LastError     error
	ConsecutiveErrors int
}

// Snapshot is a read-only copy of State safe to hand to callers without the mutex.
type Snapshot struct {
	Chain               event.ChainID
	Status              Status
	CurrentBlock        uint64
	HeadBlock           uint64
	StartBlock          uint64
	TargetBlock         *uint64
	BlocksProcessed     uint64
	EventsExtracted     uint64
	SyncStartTime       time.Time
	LastSyncTime        time.Time
	EstimatedCompletion *time.Time
	InstantaneousSpeed  float64
	AverageSpeed        float64
	PeakSpeed           float64
	LastError           error
	ConsecutiveErrors   int
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		Chain: s.Chain, Status: s.Status, CurrentBlock: s.CurrentBlock, HeadBlock: s.HeadBlock,
		StartBlock: s.StartBlock, TargetBlock: s.TargetBlock, BlocksProcessed: s.BlocksProcessed,
		EventsExtracted: s.EventsExtracted, SyncStartTime: s.SyncStartTime, LastSyncTime: s.LastSyncTime,
		EstimatedCompletion: s.EstimatedCompletion, InstantaneousSpeed: s.InstantaneousSpeed,
		AverageSpeed: s.AverageSpeed, PeakSpeed: s.PeakSpeed, LastError: s.LastError,
		ConsecutiveErrors: s.ConsecutiveErrors,
	}
}

// HealthReport is the richer per-chain report exposed by Tracker.Health, supplementing
// the bare status enum with lag and error detail.
type HealthReport struct {
	Chain             event.ChainID
	Status            Status
	Healthy           bool
	Lag               uint64
	LastError         string
	ConsecutiveErrors int
}

// SyncEventType tags the kind of event a status transition or progress tick emits.
type SyncEventType string

const (
	EventProgressUpdate SyncEventType = "progress_update"
	EventStatusChanged  SyncEventType = "status_changed"
	EventErrorOccurred  SyncEventType = "error_occurred"
	EventSyncResumed    SyncEventType = "sync_resumed"
)

// SyncEvent is delivered to listeners on every status transition, progress update,
// recorded error, or resume.
type SyncEvent struct {
	Type      SyncEventType
	Chain     event.ChainID
	Status    Status
	Previous  Status
	Snapshot  Snapshot
	Err       error
}

// Listener receives sync events. An error returned by a listener is logged and
// swallowed — it never interrupts the emitting goroutine.
type Listener func(SyncEvent) error
