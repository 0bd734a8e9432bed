package chainsync

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timewave-computer/almanac/pkg/event"
)

// Config tunes the thresholds the status-derivation rules use.
type Config struct {
	StallThreshold   time.Duration // rule 1: now - last_sync_time > this => Stalled
	MaxErrorCount    int           // rule 2: error_count > this => Failed
	Confirmations    uint64        // rule 4: head - current <= this => Synced
	MaxLagBlocks     uint64        // rule 5: head - current > this => CatchingUp
}

func (c Config) withDefaults() Config {
	if c.StallThreshold == 0 {
		c.StallThreshold = 5 * time.Minute
	}
	if c.MaxErrorCount == 0 {
		c.MaxErrorCount = 10
	}
	if c.MaxLagBlocks == 0 {
		c.MaxLagBlocks = 1000
	}
	return c
}

// Tracker holds sync state for every chain behind one RWMutex, following the teacher's
// mutex-guarded HealthStatus shape: lock only for the mutation, release before notifying
// listeners.
type Tracker struct {
	cfg    Config
	mu     sync.RWMutex
	states map[event.ChainID]*State

	listenersMu sync.Mutex
	listeners   []Listener

	logger *log.Logger

	gaugeBlock  *prometheus.GaugeVec
	gaugeSpeed  *prometheus.GaugeVec
	gaugeStatus *prometheus.GaugeVec
	registered  bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithRegisterer registers the tracker's gauges against a custom Prometheus registerer
// instead of the default one, useful in tests to avoid duplicate-registration panics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		reg.MustRegister(t.gaugeBlock, t.gaugeSpeed, t.gaugeStatus)
		t.registered = true
	}
}

// NewTracker builds a Tracker and registers its gauges with the default registerer
// unless WithRegisterer overrides that.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:    cfg.withDefaults(),
		states: make(map[event.ChainID]*State),
		logger: log.New(log.Writer(), "[chainsync] ", log.LstdFlags),
		gaugeBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "almanac_sync_current_block", Help: "current synced block per chain",
		}, []string{"chain"}),
		gaugeSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "almanac_sync_speed_bps", Help: "instantaneous sync speed in blocks/sec",
		}, []string{"chain"}),
		gaugeStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "almanac_sync_status", Help: "sync status enum value per chain",
		}, []string{"chain"}),
	}

	for _, opt := range opts {
		opt(t)
	}
	if !t.registered {
		prometheus.MustRegister(t.gaugeBlock, t.gaugeSpeed, t.gaugeStatus)
	}
	return t
}

// Subscribe registers a listener invoked sequentially on every emitted SyncEvent.
func (t *Tracker) Subscribe(l Listener) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *Tracker) notify(ev SyncEvent) {
	t.listenersMu.Lock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.listenersMu.Unlock()

	for _, l := range listeners {
		if err := l(ev); err != nil {
			t.logger.Printf("listener error for chain %s event %s: %v", ev.Chain, ev.Type, err)
		}
	}
}

func (t *Tracker) stateFor(chain event.ChainID) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[chain]
	if !ok {
		s = &State{Chain: chain, Status: NotSyncing, SyncStartTime: time.Now()}
		t.states[chain] = s
	}
	return s
}

// Start marks chain as beginning sync from startBlock toward an optional target.
func (t *Tracker) Start(chain event.ChainID, startBlock uint64, target *uint64) {
	s := t.stateFor(chain)
	t.mu.Lock()
	s.StartBlock = startBlock
	s.CurrentBlock = startBlock
	s.TargetBlock = target
	s.SyncStartTime = time.Now()
	prev := s.Status
	s.Status = Syncing
	snap := s.snapshot()
	t.mu.Unlock()

	t.emitStatusChange(chain, prev, Syncing, snap)
}

// Pause transitions chain to Paused.
func (t *Tracker) Pause(chain event.ChainID) {
	s := t.stateFor(chain)
	t.mu.Lock()
	prev := s.Status
	s.Status = Paused
	snap := s.snapshot()
	t.mu.Unlock()
	t.emitStatusChange(chain, prev, Paused, snap)
}

// Resume transitions a Paused chain back to Syncing and emits SyncResumed.
func (t *Tracker) Resume(chain event.ChainID) {
	s := t.stateFor(chain)
	t.mu.Lock()
	prev := s.Status
	s.Status = Syncing
	s.ConsecutiveErrors = 0
	snap := s.snapshot()
	t.mu.Unlock()

	t.notify(SyncEvent{Type: EventSyncResumed, Chain: chain, Status: Syncing, Previous: prev, Snapshot: snap})
	if prev != Syncing {
		t.emitStatusChange(chain, prev, Syncing, snap)
	}
}

// Stop transitions chain back to NotSyncing.
func (t *Tracker) Stop(chain event.ChainID) {
	s := t.stateFor(chain)
	t.mu.Lock()
	prev := s.Status
	s.Status = NotSyncing
	snap := s.snapshot()
	t.mu.Unlock()
	t.emitStatusChange(chain, prev, NotSyncing, snap)
}

// UpdateProgress records a progress tick and re-derives status per the seven rules,
// updating speed metrics and emitting ProgressUpdate (and StatusChanged, if the status
// moved).
func (t *Tracker) UpdateProgress(chain event.ChainID, current, head uint64, eventCount uint64) {
	s := t.stateFor(chain)

	t.mu.Lock()
	now := time.Now()
	deltaBlocks := int64(current) - int64(s.CurrentBlock)
	deltaTime := now.Sub(s.LastSyncTime)
	if s.LastSyncTime.IsZero() {
		deltaTime = 0
	}

	if deltaBlocks > 0 && deltaTime > 0 {
		s.InstantaneousSpeed = float64(deltaBlocks) / deltaTime.Seconds()
		if s.InstantaneousSpeed > s.PeakSpeed {
			s.PeakSpeed = s.InstantaneousSpeed
		}
	} else if deltaBlocks <= 0 {
		s.InstantaneousSpeed = 0
	}

	s.CurrentBlock = current
	s.HeadBlock = head
	s.BlocksProcessed += uint64(maxInt64(deltaBlocks, 0))
	s.EventsExtracted += eventCount

	// LastSyncTime marks the last time real forward progress was observed, not merely
	// the last call — otherwise the stall rule below could never trigger, since it would
	// always compare "now" against a timestamp this same call just wrote.
	stalledCheckAt := s.LastSyncTime
	if deltaBlocks > 0 || s.LastSyncTime.IsZero() {
		s.LastSyncTime = now
		stalledCheckAt = now
	}

	if deltaBlocks > 0 {
		s.ConsecutiveErrors = 0
	}

	elapsed := now.Sub(s.SyncStartTime).Seconds()
	if elapsed > 0 && s.BlocksProcessed > 0 {
		s.AverageSpeed = float64(s.BlocksProcessed) / elapsed
	}
	if s.InstantaneousSpeed > 0 {
		var remaining uint64
		switch {
		case s.TargetBlock != nil && *s.TargetBlock > current:
			remaining = *s.TargetBlock - current
		case head > current:
			remaining = head - current
		}
		if remaining > 0 {
			eta := now.Add(time.Duration(float64(remaining)/s.InstantaneousSpeed) * time.Second)
			s.EstimatedCompletion = &eta
		}
	}

	prev := s.Status
	s.Status = deriveStatus(s, t.cfg, now, stalledCheckAt)
	snap := s.snapshot()
	t.mu.Unlock()

	t.gaugeBlock.WithLabelValues(string(chain)).Set(float64(current))
	t.gaugeSpeed.WithLabelValues(string(chain)).Set(snap.InstantaneousSpeed)
	t.gaugeStatus.WithLabelValues(string(chain)).Set(float64(s.Status))

	t.notify(SyncEvent{Type: EventProgressUpdate, Chain: chain, Status: s.Status, Previous: prev, Snapshot: snap})
	if prev != s.Status {
		t.notify(SyncEvent{Type: EventStatusChanged, Chain: chain, Status: s.Status, Previous: prev, Snapshot: snap})
	}
}

// deriveStatus implements the seven-rule status derivation of §4.5, evaluated in order.
// lastProgressAt is the last time forward progress was actually observed (distinct from
// "last call time") so the stall rule can fire even while update_progress keeps being
// called with no new blocks.
func deriveStatus(s *State, cfg Config, now, lastProgressAt time.Time) Status {
	if !lastProgressAt.IsZero() && now.Sub(lastProgressAt) > cfg.StallThreshold {
		return Stalled
	}
	if s.ConsecutiveErrors > cfg.MaxErrorCount {
		return Failed
	}
	if s.TargetBlock != nil && s.CurrentBlock >= *s.TargetBlock {
		return Synced
	}
	if s.HeadBlock >= s.CurrentBlock && s.HeadBlock-s.CurrentBlock <= cfg.Confirmations {
		return Synced
	}
	if s.HeadBlock > s.CurrentBlock && s.HeadBlock-s.CurrentBlock > cfg.MaxLagBlocks {
		return CatchingUp
	}
	if s.BlocksProcessed > 0 {
		return Syncing
	}
	return NotSyncing
}

// RecordError increments the consecutive error counter, re-derives status, and emits
// ErrorOccurred.
func (t *Tracker) RecordError(chain event.ChainID, cause error) {
	s := t.stateFor(chain)
	t.mu.Lock()
	s.LastError = cause
	s.ConsecutiveErrors++
	prev := s.Status
	s.Status = deriveStatus(s, t.cfg, time.Now(), s.LastSyncTime)
	snap := s.snapshot()
	t.mu.Unlock()

	t.notify(SyncEvent{Type: EventErrorOccurred, Chain: chain, Status: s.Status, Previous: prev, Snapshot: snap, Err: cause})
	if prev != s.Status {
		t.notify(SyncEvent{Type: EventStatusChanged, Chain: chain, Status: s.Status, Previous: prev, Snapshot: snap})
	}
}

func (t *Tracker) emitStatusChange(chain event.ChainID, prev, next Status, snap Snapshot) {
	t.notify(SyncEvent{Type: EventStatusChanged, Chain: chain, Status: next, Previous: prev, Snapshot: snap})
}

// Snapshot returns a point-in-time copy of chain's sync state.
func (t *Tracker) Snapshot(chain event.ChainID) (Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[chain]
	if !ok {
		return Snapshot{}, ErrUnknownChain
	}
	return s.snapshot(), nil
}

// Health reports the richer per-chain health view: status, lag, last error.
func (t *Tracker) Health(chain event.ChainID) (HealthReport, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[chain]
	if !ok {
		return HealthReport{}, ErrUnknownChain
	}
	var lag uint64
	if s.HeadBlock > s.CurrentBlock {
		lag = s.HeadBlock - s.CurrentBlock
	}
	var lastErr string
	if s.LastError != nil {
		lastErr = s.LastError.Error()
	}
	return HealthReport{
		Chain: chain, Status: s.Status, Healthy: s.Status.Healthy(),
		Lag: lag, LastError: lastErr, ConsecutiveErrors: s.ConsecutiveErrors,
	}, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
