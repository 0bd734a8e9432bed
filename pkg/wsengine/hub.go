package wsengine

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/timewave-computer/almanac/pkg/event"
)

// Config tunes the engine. Zero-value fields fall back to withDefaults(), matching the
// teacher's functional-options config shape.
type Config struct {
	OutboundBufferSize  int           // bounded outbound channel size, per §5
	SubscriptionRetention time.Duration // age after which inactive subscriptions are removed (24h)
	CleanupInterval     time.Duration // how often the inactive-subscription sweep runs (1h)
	RateLimit           rate.Limit    // per-connection subscribe/ping rate
	RateBurst           int
}

func (c Config) withDefaults() Config {
	if c.OutboundBufferSize <= 0 {
		c.OutboundBufferSize = 256
	}
	if c.SubscriptionRetention <= 0 {
		c.SubscriptionRetention = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20 // messages/sec
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	return c
}

// connState is the hub's live, per-connection record. Its Subscriptions map holds
// *Subscription values directly (the connection owns them), but each Subscription only
// carries its ConnectionID back, never a pointer to this struct or the Hub — breaking
// the reference cycle §9 flags.
type connState struct {
	id            ConnectionID
	outbound      chan []byte
	subscriptions map[SubscriptionID]*Subscription
	userID        string
	role          string
	authenticated bool
	limiter       *rate.Limiter
	closeOnce     sync.Once
	done          chan struct{}
}

// Hub is the single owner of every live connection and its subscriptions (§9): a
// sync.RWMutex-guarded map, mutated only under lock, with listener/broadcast
// work done after the lock is released — the same discipline as chainsync.Tracker.
type Hub struct {
	cfg   Config
	auth  Authenticator
	store SubscriptionStore

	mu          sync.RWMutex
	connections map[ConnectionID]*connState

	logger *log.Logger
}

// Option configures a Hub at construction time.
type Option func(*Hub)

func WithLogger(logger *log.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

func WithAuthenticator(a Authenticator) Option {
	return func(h *Hub) { h.auth = a }
}

func WithSubscriptionStore(s SubscriptionStore) Option {
	return func(h *Hub) { h.store = s }
}

// NewHub builds a Hub. Without WithAuthenticator, every Auth message is accepted
// (NoopAuthenticator); without WithSubscriptionStore, subscriptions are held in-process
// only.
func NewHub(cfg Config, opts ...Option) *Hub {
	h := &Hub{
		cfg:         cfg.withDefaults(),
		auth:        NoopAuthenticator{},
		store:       NewMemorySubscriptionStore(),
		connections: make(map[ConnectionID]*connState),
		logger:      log.New(log.Writer(), "[wsengine] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// register creates and records connection state for a freshly upgraded socket; the
// writer loop drains the returned state's outbound channel.
func (h *Hub) register(id ConnectionID) *connState {
	cs := &connState{
		id:            id,
		outbound:      make(chan []byte, h.cfg.OutboundBufferSize),
		subscriptions: make(map[SubscriptionID]*Subscription),
		limiter:       rate.NewLimiter(h.cfg.RateLimit, h.cfg.RateBurst),
		done:          make(chan struct{}),
	}
	h.mu.Lock()
	h.connections[id] = cs
	h.mu.Unlock()
	return cs
}

// unregister runs the cleanup §4.7 describes: remove the connection and deactivate its
// subscriptions in persistent storage. Safe to call more than once.
func (h *Hub) unregister(id ConnectionID) {
	h.mu.Lock()
	cs, ok := h.connections[id]
	if ok {
		delete(h.connections, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	cs.closeOnce.Do(func() { close(cs.done) })
	for subID := range cs.subscriptions {
		h.store.Deactivate(subID)
	}
}

func (h *Hub) subscribe(cs *connState, id SubscriptionID, userID string, f event.Filter) Subscription {
	sub := Subscription{ID: id, ConnectionID: cs.id, UserID: userID, Filter: f, CreatedAt: time.Now(), Active: true}
	h.mu.Lock()
	cs.subscriptions[id] = &sub
	h.mu.Unlock()
	h.store.Put(sub)
	return sub
}

func (h *Hub) unsubscribe(cs *connState, id SubscriptionID) bool {
	h.mu.Lock()
	_, ok := cs.subscriptions[id]
	if ok {
		delete(cs.subscriptions, id)
	}
	h.mu.Unlock()
	if ok {
		h.store.Deactivate(id)
	}
	return ok
}

// RecoverSubscriptions returns the active, persisted subscriptions for a (possibly no
// longer connected) connection id, per §4.7's recover_subscriptions.
func (h *Hub) RecoverSubscriptions(connID ConnectionID) []Subscription {
	return h.store.ActiveForConnection(connID)
}

// Publish is the single background streaming task of §4.7: for each event, it iterates
// every connection and every subscription, fans the event out to matches, and treats a
// full outbound channel as backpressure — never blocking, dropping the connection
// instead. shed queues a final backpressure Error frame only when the channel has room,
// and the writer stops once the connection is unregistered, so a shed client is not
// guaranteed to receive that frame.
func (h *Hub) Publish(e event.Event) {
	h.mu.RLock()
	type target struct {
		cs  *connState
		sub *Subscription
	}
	var targets []target
	for _, cs := range h.connections {
		for _, sub := range cs.subscriptions {
			if !sub.Active {
				continue
			}
			if event.Matches(e, sub.Filter) {
				targets = append(targets, target{cs, sub})
			}
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		wire := toWireEvent(e)
		msg := Message{Type: MsgEvent, SubscriptionID: string(t.sub.ID), Event: &wire}
		payload, err := marshalMessage(msg)
		if err != nil {
			h.logger.Printf("failed to marshal event for subscription %s: %v", t.sub.ID, err)
			continue
		}
		select {
		case t.cs.outbound <- payload:
			t.sub.EventCount++
			h.store.IncrementEventCount(t.sub.ID)
		default:
			h.logger.Printf("connection %s outbound channel full, shedding", t.cs.id)
			h.shed(t.cs)
		}
	}
}

// shed disconnects a connection that cannot keep up with its outbound channel,
// delivering a final backpressure Error frame on a best-effort basis.
func (h *Hub) shed(cs *connState) {
	errMsg, _ := marshalMessage(Message{Type: MsgError, Error: "outbound buffer full", Code: "backpressure"})
	select {
	case cs.outbound <- errMsg:
	default:
	}
	h.unregister(cs.id)
}

// CleanupInactiveSubscriptions removes persisted subscriptions that are inactive and were
// created more than cfg.SubscriptionRetention ago. RunCleanupLoop calls it periodically.
func (h *Hub) CleanupInactiveSubscriptions() int {
	cutoff := time.Now().Add(-h.cfg.SubscriptionRetention)
	return h.store.CleanupInactiveSince(cutoff)
}

// RunCleanupLoop blocks, running CleanupInactiveSubscriptions on cfg.CleanupInterval
// until stop is closed.
func (h *Hub) RunCleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := h.CleanupInactiveSubscriptions(); n > 0 {
				h.logger.Printf("cleaned up %d inactive subscriptions", n)
			}
		}
	}
}

// Stats reports the engine's current population, per §4.7 and the supplemented
// /ws/stats endpoint.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{TotalConnections: len(h.connections)}
	totalSubs := 0
	for _, cs := range h.connections {
		if cs.authenticated {
			s.AuthenticatedConnections++
		}
		totalSubs += len(cs.subscriptions)
	}
	s.TotalSubscriptions = totalSubs
	s.PersistentSubscriptions = len(h.store.All())
	if s.TotalConnections > 0 {
		s.AvgSubscriptionsPerConnection = float64(totalSubs) / float64(s.TotalConnections)
	}
	return s
}
