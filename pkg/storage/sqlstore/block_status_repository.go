package sqlstore

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
)

// BlockStatusRepository tracks each (chain, block) pair's position on the finality
// lattice. Updates are monotone: a block's recorded status never regresses.
type BlockStatusRepository struct {
	client *Client
}

// NewBlockStatusRepository builds a repository over client.
func NewBlockStatusRepository(client *Client) *BlockStatusRepository {
	return &BlockStatusRepository{client: client}
}

// blockStatus looks up the recorded status of (chain, block), used by EventsRepository
// to implement GetEventsWithStatus without duplicating the lookup SQL.
func (r *EventsRepository) blockStatus(ctx context.Context, chain event.ChainID, block uint64) (event.BlockStatus, bool, error) {
	var tag string
	err := r.client.db.QueryRowContext(ctx,
		"SELECT status FROM block_status WHERE chain = $1 AND block_number = $2",
		string(chain), block).Scan(&tag)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr(err, storage.KindStorage, "lookup block status")
	}
	st, ok := event.ParseBlockStatus(tag)
	return st, ok, nil
}

// UpdateBlockStatus is monotone: it only ever advances a block's recorded status.
func (r *BlockStatusRepository) UpdateBlockStatus(ctx context.Context, chain event.ChainID, block uint64, status event.BlockStatus) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err, storage.KindStorage, "begin tx")
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM block_status WHERE chain = $1 AND block_number = $2 FOR UPDATE",
		string(chain), block).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			"INSERT INTO block_status (chain, block_number, status) VALUES ($1, $2, $3)",
			string(chain), block, status.String())
		if err != nil {
			return wrapErr(err, storage.KindStorage, "insert block status")
		}
		return tx.Commit()
	case err != nil:
		return wrapErr(err, storage.KindStorage, "lookup block status")
	}

	curStatus, ok := event.ParseBlockStatus(current)
	if ok && curStatus >= status {
		return tx.Commit() // already at or past the requested status; no-op
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE block_status SET status = $1, updated_at = now() WHERE chain = $2 AND block_number = $3",
		status.String(), string(chain), block)
	if err != nil {
		return wrapErr(err, storage.KindStorage, "update block status")
	}
	return tx.Commit()
}

// GetLatestBlockWithStatus returns the highest block number whose recorded status is at
// least status.
func (r *BlockStatusRepository) GetLatestBlockWithStatus(ctx context.Context, chain event.ChainID, status event.BlockStatus) (uint64, error) {
	var names []string
	for s := event.StatusConfirmed; s <= event.StatusFinalized; s++ {
		if s >= status {
			names = append(names, s.String())
		}
	}
	if len(names) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, len(names)+1)
	args = append(args, string(chain))
	placeholders := ""
	for i, n := range names {
		if i > 0 {
			placeholders += ","
		}
		args = append(args, n)
		placeholders += "$" + strconv.Itoa(i+2)
	}

	var n sql.NullInt64
	query := "SELECT MAX(block_number) FROM block_status WHERE chain = $1 AND status IN (" + placeholders + ")"
	if err := r.client.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrapErr(err, storage.KindStorage, "get latest block with status")
	}
	if !n.Valid {
		return 0, nil
	}
	return uint64(n.Int64), nil
}
