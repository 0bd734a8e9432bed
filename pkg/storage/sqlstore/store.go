package sqlstore

import (
	"context"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
)

// Store composes the three relational repositories into a single storage.Storage
// implementation, mirroring the hot KV store's facade shape.
type Store struct {
	client  *Client
	events  *EventsRepository
	blocks  *BlockStatusRepository
	valence *ValenceRepository
}

var _ storage.Storage = (*Store)(nil)

// Open connects to cfg.DatabaseURL and runs pending migrations before returning.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := NewMigrator(client).MigrateUp(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return New(client), nil
}

// New wraps an already-connected, already-migrated Client.
func New(client *Client) *Store {
	return &Store{
		client:  client,
		events:  NewEventsRepository(client),
		blocks:  NewBlockStatusRepository(client),
		valence: NewValenceRepository(client),
	}
}

func (s *Store) StoreEvent(ctx context.Context, e event.Event) error {
	return s.events.StoreEvent(ctx, e)
}

func (s *Store) GetEvents(ctx context.Context, filters []event.Filter) ([]event.Event, error) {
	return s.events.GetEvents(ctx, filters)
}

func (s *Store) GetEventsWithStatus(ctx context.Context, filters []event.Filter, status event.BlockStatus) ([]event.Event, error) {
	return s.events.GetEventsWithStatus(ctx, filters, status)
}

func (s *Store) GetLatestBlock(ctx context.Context, chain event.ChainID) (uint64, error) {
	return s.events.GetLatestBlock(ctx, chain)
}

func (s *Store) UpdateBlockStatus(ctx context.Context, chain event.ChainID, block uint64, status event.BlockStatus) error {
	return s.blocks.UpdateBlockStatus(ctx, chain, block, status)
}

func (s *Store) GetLatestBlockWithStatus(ctx context.Context, chain event.ChainID, status event.BlockStatus) (uint64, error) {
	return s.blocks.GetLatestBlockWithStatus(ctx, chain, status)
}

func (s *Store) StoreValenceAccountInstantiation(ctx context.Context, accountID, owner string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	return s.valence.StoreValenceAccountInstantiation(ctx, accountID, owner, block, logIndex, txHash, at)
}

func (s *Store) StoreValenceLibraryApproval(ctx context.Context, accountID, library string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	return s.valence.StoreValenceLibraryApproval(ctx, accountID, library, block, logIndex, txHash, at)
}

func (s *Store) StoreValenceLibraryRemoval(ctx context.Context, accountID, library string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	return s.valence.StoreValenceLibraryRemoval(ctx, accountID, library, block, logIndex, txHash, at)
}

func (s *Store) StoreValenceOwnershipUpdate(ctx context.Context, accountID, newOwner string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	return s.valence.StoreValenceOwnershipUpdate(ctx, accountID, newOwner, block, logIndex, txHash, at)
}

func (s *Store) StoreValenceExecution(ctx context.Context, exec storage.ValenceExecution) error {
	return s.valence.StoreValenceExecution(ctx, exec)
}

func (s *Store) GetValenceAccountState(ctx context.Context, accountID string) (*storage.ValenceAccountState, error) {
	return s.valence.GetValenceAccountState(ctx, accountID)
}

func (s *Store) Close() error {
	return s.client.Close()
}
