// Package kv implements Almanac's C3 Hot KV Store: a latest-state store with secondary
// indexes and atomic batches, built on github.com/cometbft/cometbft-db — the same
// embedded KV engine the teacher repo wraps for its ledger store (pkg/kvdb.KVAdapter),
// generalized here from a single-key adapter into the full keyspace of spec §4.3.
package kv

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
)

// Config selects the embedded KV backend and its on-disk location.
type Config struct {
	Name    string          // logical database name, passed through to cometbft-db
	Backend dbm.BackendType // e.g. dbm.GoLevelDBBackend, dbm.MemDBBackend
	Dir     string          // ignored for in-memory backends
}

// Store is the hot KV implementation of storage.Storage. Internally thread-safe: the
// underlying cometbft-db connection pools are safe for concurrent use, and the only
// cross-key invariant (monotone latest_block / block_status) is protected by mu.
type Store struct {
	db dbm.DB
	mu sync.Mutex
}

var _ storage.Storage = (*Store)(nil)

// Open creates or opens the embedded database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := dbm.NewDB(cfg.Name, cfg.Backend, cfg.Dir)
	if err != nil {
		return nil, storage.Wrap(err, storage.KindStorage, "open kv store")
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open cometbft-db handle (useful for tests against MemDB).
func NewWithDB(db dbm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StoreEvent persists the event payload, every secondary index entry and the block hash
// entry in one atomic batch, plus the conditional update of latest_block, per §4.3.
func (s *Store) StoreEvent(_ context.Context, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return storage.Wrap(err, storage.KindSerialization, "marshal event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(keyEvent(e.ID), payload); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch events payload")
	}
	if err := batch.Set(keyIndexChainBlock(e.Chain, e.BlockNumber), []byte(e.ID)); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch chain_block index")
	}
	if err := batch.Set(keyIndexChainType(e.Chain, e.EventType), []byte(e.ID)); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch chain_type index")
	}
	if err := batch.Set(keyIndexChainTime(e.Chain, e.Timestamp.Unix()), []byte(e.ID)); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch chain_time index")
	}
	if err := batch.Set(keyBlockHash(e.Chain, e.BlockNumber), []byte(e.BlockHash)); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch block hash")
	}

	current, err := s.getLatestBlockLocked(e.Chain)
	if err != nil {
		return err
	}
	if e.BlockNumber > current {
		if err := batch.Set(keyLatestBlock(e.Chain), encodeUint64(e.BlockNumber)); err != nil {
			return storage.Wrap(err, storage.KindStorage, "batch latest_block")
		}
	}

	if err := batch.WriteSync(); err != nil {
		return storage.Wrap(err, storage.KindStorage, "commit store_event batch")
	}
	return nil
}

func (s *Store) GetLatestBlock(_ context.Context, chain event.ChainID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLatestBlockLocked(chain)
}

func (s *Store) getLatestBlockLocked(chain event.ChainID) (uint64, error) {
	b, err := s.db.Get(keyLatestBlock(chain))
	if err != nil {
		return 0, storage.Wrap(err, storage.KindStorage, "get latest_block")
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := decodeUint64(b)
	if err != nil {
		return 0, storage.Wrap(err, storage.KindSerialization, "decode latest_block")
	}
	return n, nil
}

// UpdateBlockStatus never demotes: stored status is max(current, new) by lattice order.
// Promoting to S also advances every latest_block_status:<s<=S> key, since reaching S
// implies every lower status also holds (§3).
func (s *Store) UpdateBlockStatus(_ context.Context, chain event.ChainID, block uint64, status event.BlockStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.blockStatusLocked(chain, block)
	if err == nil && cur >= status {
		return nil // no-op: demotion forbidden
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(keyBlockStatus(chain, block), []byte(status.String())); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch block_status")
	}

	for st := event.StatusConfirmed; st <= status; st++ {
		existing, err := s.latestBlockWithStatusLocked(chain, st)
		if err != nil {
			return err
		}
		if block > existing {
			if err := batch.Set(keyLatestBlockStatus(st, chain), encodeUint64(block)); err != nil {
				return storage.Wrap(err, storage.KindStorage, "batch latest_block_status")
			}
		}
	}

	if err := batch.WriteSync(); err != nil {
		return storage.Wrap(err, storage.KindStorage, "commit update_block_status batch")
	}
	return nil
}

func (s *Store) blockStatusLocked(chain event.ChainID, block uint64) (event.BlockStatus, error) {
	b, err := s.db.Get(keyBlockStatus(chain, block))
	if err != nil {
		return 0, storage.Wrap(err, storage.KindStorage, "get block_status")
	}
	if len(b) == 0 {
		return 0, storage.NewError(storage.KindNotFound, "block_status")
	}
	st, ok := event.ParseBlockStatus(string(b))
	if !ok {
		return 0, storage.NewError(storage.KindInvalidData, "unrecognized block_status tag")
	}
	return st, nil
}

func (s *Store) GetLatestBlockWithStatus(_ context.Context, chain event.ChainID, status event.BlockStatus) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestBlockWithStatusLocked(chain, status)
}

func (s *Store) latestBlockWithStatusLocked(chain event.ChainID, status event.BlockStatus) (uint64, error) {
	b, err := s.db.Get(keyLatestBlockStatus(status, chain))
	if err != nil {
		return 0, storage.Wrap(err, storage.KindStorage, "get latest_block_status")
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := decodeUint64(b)
	if err != nil {
		return 0, storage.Wrap(err, storage.KindSerialization, "decode latest_block_status")
	}
	return n, nil
}

// GetEvents resolves the narrowest index available for each filter (chain+block range,
// chain+types, chain+time range, chain only, or a full scan as a documented last
// resort), then applies the remaining predicates in-process. Because this store tracks
// only latest state, its per-(chain,event_type) and per-(chain,block) index entries hold
// a single event id each; callers needing full multi-event history per block/type
// should query the relational store (C4) instead — see DESIGN.md.
func (s *Store) GetEvents(ctx context.Context, filters []event.Filter) ([]event.Event, error) {
	return s.getEvents(ctx, filters, nil)
}

func (s *Store) GetEventsWithStatus(ctx context.Context, filters []event.Filter, status event.BlockStatus) ([]event.Event, error) {
	return s.getEvents(ctx, filters, &status)
}

func (s *Store) getEvents(_ context.Context, filters []event.Filter, status *event.BlockStatus) ([]event.Event, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	seen := map[string]event.Event{}
	for _, f := range filters {
		ids, err := s.candidateIDs(f)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, already := seen[id]; already {
				continue
			}
			e, ok, err := s.getEventByID(id)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue // index-payload skew: dangling index entries are skipped silently
			}
			if status != nil {
				st, err := s.blockStatusLocked(e.Chain, e.BlockNumber)
				if err != nil || st < *status {
					continue
				}
			}
			if event.Matches(e, f) {
				seen[id] = e
			}
		}
	}

	out := make([]event.Event, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}

	var chosenSort *event.Sort
	limit, offset := 0, 0
	for _, f := range filters {
		if f.Sort != nil && chosenSort == nil {
			chosenSort = f.Sort
		}
		if f.Limit > 0 && limit == 0 {
			limit = f.Limit
		}
		if f.Offset > 0 && offset == 0 {
			offset = f.Offset
		}
	}
	if chosenSort != nil {
		event.ApplySort(out, chosenSort)
	} else {
		event.DefaultOrder(out)
	}
	return event.ApplyPagination(out, offset, limit), nil
}

func (s *Store) getEventByID(id string) (event.Event, bool, error) {
	s.mu.Lock()
	b, err := s.db.Get(keyEvent(id))
	s.mu.Unlock()
	if err != nil {
		return event.Event{}, false, storage.Wrap(err, storage.KindStorage, "get event payload")
	}
	if len(b) == 0 {
		return event.Event{}, false, nil
	}
	var e event.Event
	if err := json.Unmarshal(b, &e); err != nil {
		return event.Event{}, false, storage.Wrap(err, storage.KindSerialization, "unmarshal event payload")
	}
	return e, true, nil
}

// candidateIDs picks the narrowest index that satisfies f's chain/block/time/type
// predicates, per §4.3's read path.
func (s *Store) candidateIDs(f event.Filter) ([]string, error) {
	switch {
	case len(f.Chains) == 1 && len(f.BlockRanges) > 0:
		return s.scanChainBlockRanges(f.Chains[0], f.BlockRanges)
	case len(f.Chains) == 1 && len(f.EventTypesInclude) > 0:
		return s.lookupChainTypes(f.Chains[0], f.EventTypesInclude)
	case len(f.Chains) == 1 && len(f.TimeRanges) > 0:
		return s.scanChainTimeRanges(f.Chains[0], f.TimeRanges)
	case len(f.Chains) == 1:
		return s.scanChainPrefix(f.Chains[0])
	default:
		return s.scanAllEvents()
	}
}

func (s *Store) scanChainBlockRanges(chain event.ChainID, ranges []event.BlockRange) ([]string, error) {
	var ids []string
	for _, r := range ranges {
		if r.Start > r.End {
			continue
		}
		start := keyIndexChainBlock(chain, r.Start)
		end := keyIndexChainBlock(chain, r.End+1) // cometbft-db ranges are [start, end)
		got, err := s.scanRange(start, end)
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

func (s *Store) scanChainTimeRanges(chain event.ChainID, ranges []event.TimeRange) ([]string, error) {
	var ids []string
	for _, r := range ranges {
		if r.Start.After(r.End) {
			continue
		}
		start := keyIndexChainTime(chain, r.Start.Unix())
		end := keyIndexChainTime(chain, r.End.Unix()+1)
		got, err := s.scanRange(start, end)
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

func (s *Store) scanChainPrefix(chain event.ChainID) ([]string, error) {
	return s.scanPrefix(prefixIndexChainBlock(chain))
}

func (s *Store) lookupChainTypes(chain event.ChainID, types []string) ([]string, error) {
	var ids []string
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		b, err := s.db.Get(keyIndexChainType(chain, t))
		if err != nil {
			return nil, storage.Wrap(err, storage.KindStorage, "get chain_type index")
		}
		if len(b) > 0 {
			ids = append(ids, string(b))
		}
	}
	return ids, nil
}

func (s *Store) scanAllEvents() ([]string, error) {
	return s.scanPrefix([]byte("events:"))
}

func (s *Store) scanPrefix(prefix []byte) ([]string, error) {
	end := make([]byte, 0, len(prefix)+1)
	end = append(end, prefix...)
	end = append(end, 0xff)
	return s.scanRange(prefix, end)
}

func (s *Store) scanRange(start, end []byte) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, storage.Wrap(err, storage.KindStorage, "open iterator")
	}
	defer it.Close()

	var ids []string
	for ; it.Valid(); it.Next() {
		key := string(it.Key())
		if strings.HasPrefix(key, "events:") {
			ids = append(ids, strings.TrimPrefix(key, "events:"))
			continue
		}
		ids = append(ids, string(it.Value()))
	}
	return ids, it.Error()
}

// ---- Valence account operations ----

func (s *Store) loadValenceState(accountID string) (*storage.ValenceAccountState, error) {
	b, err := s.db.Get(keyValenceLibs(accountID))
	if err != nil {
		return nil, storage.Wrap(err, storage.KindStorage, "get va_libs")
	}
	st := &storage.ValenceAccountState{AccountID: accountID}
	if len(b) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, storage.Wrap(err, storage.KindSerialization, "unmarshal va_libs")
	}
	return st, nil
}

func (s *Store) saveValenceState(batch dbm.Batch, st *storage.ValenceAccountState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return storage.Wrap(err, storage.KindSerialization, "marshal va_libs")
	}
	return batch.Set(keyValenceLibs(st.AccountID), b)
}

func (s *Store) StoreValenceAccountInstantiation(_ context.Context, accountID, owner string, block uint64, _ uint32, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadValenceState(accountID)
	if err != nil {
		return err
	}
	st.CurrentOwner = owner
	st.LastBlock = block
	st.LastUpdated = at

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := s.saveValenceState(batch, st); err != nil {
		return err
	}
	if err := batch.Set(keyValenceOwnerIdx(owner, accountID), []byte{1}); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch va_owner_idx")
	}
	if err := batch.WriteSync(); err != nil {
		return storage.Wrap(err, storage.KindStorage, "commit instantiation batch")
	}
	return nil
}

func (s *Store) StoreValenceLibraryApproval(_ context.Context, accountID, library string, block uint64, _ uint32, _ string, at time.Time) error {
	return s.mutateLibraries(accountID, library, true, block, at)
}

func (s *Store) StoreValenceLibraryRemoval(_ context.Context, accountID, library string, block uint64, _ uint32, _ string, at time.Time) error {
	return s.mutateLibraries(accountID, library, false, block, at)
}

func (s *Store) mutateLibraries(accountID, library string, add bool, block uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadValenceState(accountID)
	if err != nil {
		return err
	}
	if add {
		st.AddLibrary(library)
	} else {
		st.RemoveLibrary(library)
	}
	st.LastBlock = block
	st.LastUpdated = at

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := s.saveValenceState(batch, st); err != nil {
		return err
	}
	key := keyValenceLibIdx(library, accountID)
	if add {
		if err := batch.Set(key, []byte{1}); err != nil {
			return storage.Wrap(err, storage.KindStorage, "batch va_lib_idx")
		}
	} else {
		if err := batch.Delete(key); err != nil {
			return storage.Wrap(err, storage.KindStorage, "delete va_lib_idx")
		}
	}
	if err := batch.WriteSync(); err != nil {
		return storage.Wrap(err, storage.KindStorage, "commit library mutation batch")
	}
	return nil
}

// StoreValenceOwnershipUpdate records a transfer of ownership. The hot store keeps only
// the current owner (§4.3); the full ownership history lives in the relational store.
func (s *Store) StoreValenceOwnershipUpdate(_ context.Context, accountID, newOwner string, block uint64, _ uint32, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadValenceState(accountID)
	if err != nil {
		return err
	}
	previousOwner := st.CurrentOwner
	st.CurrentOwner = newOwner
	st.LastBlock = block
	st.LastUpdated = at

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := s.saveValenceState(batch, st); err != nil {
		return err
	}
	if previousOwner != "" {
		if err := batch.Delete(keyValenceOwnerIdx(previousOwner, accountID)); err != nil {
			return storage.Wrap(err, storage.KindStorage, "delete stale va_owner_idx")
		}
	}
	if err := batch.Set(keyValenceOwnerIdx(newOwner, accountID), []byte{1}); err != nil {
		return storage.Wrap(err, storage.KindStorage, "batch va_owner_idx")
	}
	if err := batch.WriteSync(); err != nil {
		return storage.Wrap(err, storage.KindStorage, "commit ownership update batch")
	}
	return nil
}

// StoreValenceExecution records that an execution happened against accountID. The hot
// store only advances the account's last-touched block/time; the execution log itself is
// the relational store's responsibility.
func (s *Store) StoreValenceExecution(_ context.Context, exec storage.ValenceExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadValenceState(exec.AccountID)
	if err != nil {
		return err
	}
	st.LastBlock = exec.BlockNumber
	st.LastUpdated = exec.Executed

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := s.saveValenceState(batch, st); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return storage.Wrap(err, storage.KindStorage, "commit execution batch")
	}
	return nil
}

func (s *Store) GetValenceAccountState(_ context.Context, accountID string) (*storage.ValenceAccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadValenceState(accountID)
	if err != nil {
		return nil, err
	}
	if st.CurrentOwner == "" && len(st.Libraries) == 0 {
		return nil, storage.NewError(storage.KindNotFound, "valence account "+accountID)
	}
	return st, nil
}
