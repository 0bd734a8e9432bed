package api

import (
	"context"
	"encoding/base64"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
)

// Resolver backs Schema, delegating every field to the same storage.Storage the REST
// Handlers use, per SPEC_FULL §3.10 ("both surfaces share one query path into C2").
type Resolver struct {
	store storage.Storage
}

// NewSchema parses Schema against a Resolver over store.
func NewSchema(store storage.Storage) (*graphql.Schema, error) {
	return graphql.ParseSchema(Schema, &Resolver{store: store})
}

type eventResolver struct{ e event.Event }

func (r *eventResolver) ID() string          { return r.e.ID }
func (r *eventResolver) Chain() string       { return string(r.e.Chain) }
func (r *eventResolver) BlockNumber() int32  { return int32(r.e.BlockNumber) }
func (r *eventResolver) BlockHash() string   { return r.e.BlockHash }
func (r *eventResolver) TxHash() string      { return r.e.TxHash }
func (r *eventResolver) LogIndex() int32     { return int32(r.e.LogIndex) }
func (r *eventResolver) Timestamp() string   { return r.e.Timestamp.UTC().Format("2006-01-02T15:04:05Z") }
func (r *eventResolver) EventType() string   { return r.e.EventType }
func (r *eventResolver) RawData() string     { return base64.StdEncoding.EncodeToString(r.e.RawData) }

func toEventResolvers(events []event.Event) []*eventResolver {
	out := make([]*eventResolver, len(events))
	for i, e := range events {
		out[i] = &eventResolver{e: e}
	}
	return out
}

type contractInfoResolver struct {
	address string
	chain   string
	count   int32
	latest  int32
}

func (r *contractInfoResolver) Address() string  { return r.address }
func (r *contractInfoResolver) Chain() string    { return r.chain }
func (r *contractInfoResolver) EventCount() int32 { return r.count }
func (r *contractInfoResolver) LatestBlock() int32 { return r.latest }

type contractStateResolver struct {
	state *storage.ValenceAccountState
}

func (r *contractStateResolver) Address() string      { return r.state.AccountID }
func (r *contractStateResolver) BlockNumber() int32   { return int32(r.state.LastBlock) }
func (r *contractStateResolver) Libraries() []string  { return r.state.Libraries }
func (r *contractStateResolver) CurrentOwner() string { return r.state.CurrentOwner }

// ContractInfo resolves the contractInfo(address) query field: the count and latest
// block of events addressed to address, across every chain it appears on.
func (r *Resolver) ContractInfo(ctx context.Context, args struct{ Address string }) (*contractInfoResolver, error) {
	events, err := r.store.GetEvents(ctx, []event.Filter{{AddressesInclude: []string{args.Address}}})
	if err != nil {
		return nil, err
	}
	var chain event.ChainID
	var latest uint64
	for _, e := range events {
		chain = e.Chain
		if e.BlockNumber > latest {
			latest = e.BlockNumber
		}
	}
	return &contractInfoResolver{
		address: args.Address,
		chain:   string(chain),
		count:   int32(len(events)),
		latest:  int32(latest),
	}, nil
}

// ContractState resolves the contractState(address, blockNumber) query field from the
// Valence account state maintained by storage.Storage, per §4.2.
func (r *Resolver) ContractState(ctx context.Context, args struct {
	Address     string
	BlockNumber *int32
}) (*contractStateResolver, error) {
	state, err := r.store.GetValenceAccountState(ctx, args.Address)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	return &contractStateResolver{state: state}, nil
}

// Transactions resolves the transactions(address, limit, offset) query field.
func (r *Resolver) Transactions(ctx context.Context, args struct {
	Address string
	Limit   *int32
	Offset  *int32
}) ([]*eventResolver, error) {
	f := event.Filter{AddressesInclude: []string{args.Address}}
	if args.Limit != nil {
		f.Limit = int(*args.Limit)
	}
	if args.Offset != nil {
		f.Offset = int(*args.Offset)
	}
	events, err := r.store.GetEvents(ctx, []event.Filter{f})
	if err != nil {
		return nil, err
	}
	return toEventResolvers(events), nil
}

// Events resolves the events(chain, eventType, fromBlock, toBlock, limit, offset) query
// field, the GraphQL mirror of the REST /events endpoint.
func (r *Resolver) Events(ctx context.Context, args struct {
	Chain     *string
	EventType *string
	FromBlock *int32
	ToBlock   *int32
	Limit     *int32
	Offset    *int32
}) ([]*eventResolver, error) {
	var f event.Filter
	if args.Chain != nil {
		f.Chains = []event.ChainID{event.ChainID(*args.Chain)}
	}
	if args.EventType != nil {
		f.EventTypesInclude = []string{*args.EventType}
	}
	if args.FromBlock != nil || args.ToBlock != nil {
		var from, to uint64
		if args.FromBlock != nil {
			from = uint64(*args.FromBlock)
		}
		to = ^uint64(0)
		if args.ToBlock != nil {
			to = uint64(*args.ToBlock)
		}
		f.BlockRanges = []event.BlockRange{{Start: from, End: to}}
	}
	if args.Limit != nil {
		f.Limit = int(*args.Limit)
	}
	if args.Offset != nil {
		f.Offset = int(*args.Offset)
	}
	events, err := r.store.GetEvents(ctx, []event.Filter{f})
	if err != nil {
		return nil, err
	}
	return toEventResolvers(events), nil
}
