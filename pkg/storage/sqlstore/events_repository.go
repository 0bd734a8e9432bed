package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
)

// EventsRepository is the relational-store half of storage.Storage: event and block
// status persistence and query. It pushes the cheap, indexed predicates (chain, block
// range, time range, event type, tx/block hash, and an approximate text search) down
// into SQL to narrow the candidate set, then applies event.Matches in Go for full
// correctness over the remaining predicates (addresses, attributes, fuzzy/boolean
// text) — the same narrowest-index-then-verify shape as the hot KV store.
type EventsRepository struct {
	client *Client
}

// NewEventsRepository builds a repository over client.
func NewEventsRepository(client *Client) *EventsRepository {
	return &EventsRepository{client: client}
}

// StoreEvent is idempotent on e.ID via ON CONFLICT DO NOTHING.
func (r *EventsRepository) StoreEvent(ctx context.Context, e event.Event) error {
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO events (id, chain, block_number, block_hash, tx_hash, log_index, timestamp, event_type, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Chain), e.BlockNumber, e.BlockHash, e.TxHash, e.LogIndex, e.Timestamp, e.EventType, e.RawData)
	if err != nil {
		return wrapErr(err, storage.KindStorage, "store event")
	}

	_, err = r.client.db.ExecContext(ctx, `
		INSERT INTO block_status (chain, block_number, status, block_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain, block_number) DO NOTHING
	`, string(e.Chain), e.BlockNumber, event.StatusConfirmed.String(), e.BlockHash)
	if err != nil {
		return wrapErr(err, storage.KindStorage, "seed block status")
	}
	return nil
}

// GetEvents returns events matching the union (OR) of filters.
func (r *EventsRepository) GetEvents(ctx context.Context, filters []event.Filter) ([]event.Event, error) {
	return r.getEvents(ctx, filters, nil)
}

// GetEventsWithStatus additionally requires the owning block's status to be at least status.
func (r *EventsRepository) GetEventsWithStatus(ctx context.Context, filters []event.Filter, status event.BlockStatus) ([]event.Event, error) {
	return r.getEvents(ctx, filters, &status)
}

func (r *EventsRepository) getEvents(ctx context.Context, filters []event.Filter, minStatus *event.BlockStatus) ([]event.Event, error) {
	seen := make(map[string]event.Event)
	var order []string

	for _, f := range filters {
		rows, err := r.candidateRows(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, e := range rows {
			if minStatus != nil {
				st, ok, err := r.blockStatus(ctx, e.Chain, e.BlockNumber)
				if err != nil {
					return nil, err
				}
				if !ok || st < *minStatus {
					continue
				}
			}
			if !event.Matches(e, f) {
				continue
			}
			if _, dup := seen[e.ID]; !dup {
				order = append(order, e.ID)
			}
			seen[e.ID] = e
		}
	}

	out := make([]event.Event, 0, len(order))
	for _, id := range order {
		out = append(out, seen[id])
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

// candidateRows runs one SQL query per filter pushing down the predicates that map
// cleanly onto indexed columns, returning every row that could possibly satisfy the
// filter; the caller re-verifies with event.Matches.
func (r *EventsRepository) candidateRows(ctx context.Context, f event.Filter) ([]event.Event, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Chains) > 0 {
		placeholders := make([]string, len(f.Chains))
		for i, c := range f.Chains {
			placeholders[i] = arg(string(c))
		}
		where = append(where, fmt.Sprintf("chain IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(f.BlockRanges) > 0 {
		var parts []string
		for _, br := range f.BlockRanges {
			if br.Start > br.End {
				continue
			}
			parts = append(parts, fmt.Sprintf("(block_number BETWEEN %s AND %s)", arg(br.Start), arg(br.End)))
		}
		if len(parts) > 0 {
			where = append(where, "("+strings.Join(parts, " OR ")+")")
		}
	}
	if len(f.TimeRanges) > 0 {
		var parts []string
		for _, tr := range f.TimeRanges {
			if tr.Start.After(tr.End) {
				continue
			}
			parts = append(parts, fmt.Sprintf("(timestamp BETWEEN %s AND %s)", arg(tr.Start), arg(tr.End)))
		}
		if len(parts) > 0 {
			where = append(where, "("+strings.Join(parts, " OR ")+")")
		}
	}
	if len(f.EventTypesInclude) > 0 {
		placeholders := make([]string, len(f.EventTypesInclude))
		for i, t := range f.EventTypesInclude {
			placeholders[i] = arg(t)
		}
		where = append(where, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(f.TxHashesInclude) > 0 {
		placeholders := make([]string, len(f.TxHashesInclude))
		for i, t := range f.TxHashesInclude {
			placeholders[i] = arg(strings.ToLower(t))
		}
		where = append(where, fmt.Sprintf("lower(tx_hash) IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(f.BlockHashesInclude) > 0 {
		placeholders := make([]string, len(f.BlockHashesInclude))
		for i, h := range f.BlockHashesInclude {
			placeholders[i] = arg(strings.ToLower(h))
		}
		where = append(where, fmt.Sprintf("lower(block_hash) IN (%s)", strings.Join(placeholders, ",")))
	}
	if f.Text != nil && f.Text.Query != "" {
		switch f.Text.Mode {
		case event.TextFullText:
			where = append(where, fmt.Sprintf("search_vector @@ plainto_tsquery('english', %s)", arg(f.Text.Query)))
		case event.TextPhrase:
			where = append(where, fmt.Sprintf("search_vector @@ phraseto_tsquery('english', %s)", arg(f.Text.Query)))
		case event.TextFuzzy:
			where = append(where, fmt.Sprintf("event_type %% %s", arg(f.Text.Query)))
		case event.TextContains, "":
			where = append(where, fmt.Sprintf("raw_data::text ILIKE %s", arg("%"+f.Text.Query+"%")))
		}
	}

	query := "SELECT id, chain, block_number, block_hash, tx_hash, log_index, timestamp, event_type, raw_data FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY chain, block_number"

	rows, err := r.client.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, storage.KindStorage, "query events")
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var e event.Event
		var chain string
		if err := rows.Scan(&e.ID, &chain, &e.BlockNumber, &e.BlockHash, &e.TxHash, &e.LogIndex, &e.Timestamp, &e.EventType, &e.RawData); err != nil {
			return nil, wrapErr(err, storage.KindStorage, "scan event row")
		}
		e.Chain = event.ChainID(chain)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetLatestBlock returns the highest block number observed for chain.
func (r *EventsRepository) GetLatestBlock(ctx context.Context, chain event.ChainID) (uint64, error) {
	var n sql.NullInt64
	err := r.client.db.QueryRowContext(ctx,
		"SELECT MAX(block_number) FROM events WHERE chain = $1", string(chain)).Scan(&n)
	if err != nil {
		return 0, wrapErr(err, storage.KindStorage, "get latest block")
	}
	if !n.Valid {
		return 0, nil
	}
	return uint64(n.Int64), nil
}
