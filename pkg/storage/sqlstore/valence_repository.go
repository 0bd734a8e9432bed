package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/timewave-computer/almanac/pkg/storage"
)

// ValenceRepository maintains the history-preserving Valence account tables: every
// library approval, ownership transfer, and execution is appended as a new row; a removal
// marks the library's open approval rows with its block, and a transfer also updates the
// account's current owner. GetValenceAccountState folds that history into the same small
// current-state record the hot KV store returns.
type ValenceRepository struct {
	client *Client
}

// NewValenceRepository builds a repository over client.
func NewValenceRepository(client *Client) *ValenceRepository {
	return &ValenceRepository{client: client}
}

func (r *ValenceRepository) StoreValenceAccountInstantiation(ctx context.Context, accountID, owner string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO valence_accounts (account_id, current_owner, created_block, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, owner, block, at)
	return wrapErr(err, storage.KindStorage, "instantiate valence account")
}

func (r *ValenceRepository) StoreValenceLibraryApproval(ctx context.Context, accountID, library string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO valence_account_libraries (account_id, library, block_number, log_index, tx_hash, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, library, block_number, log_index) DO NOTHING
	`, accountID, library, block, logIndex, txHash, at)
	return wrapErr(err, storage.KindStorage, "approve valence library")
}

func (r *ValenceRepository) StoreValenceLibraryRemoval(ctx context.Context, accountID, library string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	_, err := r.client.db.ExecContext(ctx, `
		UPDATE valence_account_libraries SET removed_at_block = $3
		WHERE account_id = $1 AND library = $2 AND removed_at_block IS NULL
	`, accountID, library, block)
	return wrapErr(err, storage.KindStorage, "remove valence library")
}

func (r *ValenceRepository) StoreValenceOwnershipUpdate(ctx context.Context, accountID, newOwner string, block uint64, logIndex uint32, txHash string, at time.Time) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err, storage.KindStorage, "begin tx")
	}
	defer tx.Rollback()

	var previousOwner string
	if err := tx.QueryRowContext(ctx, "SELECT current_owner FROM valence_accounts WHERE account_id = $1", accountID).Scan(&previousOwner); err != nil {
		return wrapErr(err, storage.KindNotFound, "valence account not found")
	}

	if _, err := tx.ExecContext(ctx, "UPDATE valence_accounts SET current_owner = $1 WHERE account_id = $2", newOwner, accountID); err != nil {
		return wrapErr(err, storage.KindStorage, "update valence owner")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO valence_ownership_history (account_id, previous_owner, new_owner, block_number, log_index, tx_hash, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, accountID, previousOwner, newOwner, block, logIndex, txHash, at)
	if err != nil {
		return wrapErr(err, storage.KindStorage, "record ownership history")
	}
	return tx.Commit()
}

func (r *ValenceRepository) StoreValenceExecution(ctx context.Context, exec storage.ValenceExecution) error {
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO valence_account_executions (account_id, library, function, block_number, log_index, tx_hash, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exec.AccountID, exec.Library, exec.Function, exec.BlockNumber, exec.LogIndex, exec.TxHash, exec.Executed)
	return wrapErr(err, storage.KindStorage, "record valence execution")
}

// GetValenceAccountState folds the ledger of library approvals/removals into the
// current sorted, de-duplicated library set alongside the account's current owner.
func (r *ValenceRepository) GetValenceAccountState(ctx context.Context, accountID string) (*storage.ValenceAccountState, error) {
	st := &storage.ValenceAccountState{AccountID: accountID}

	var createdAt time.Time
	err := r.client.db.QueryRowContext(ctx,
		"SELECT current_owner, created_at FROM valence_accounts WHERE account_id = $1",
		accountID).Scan(&st.CurrentOwner, &createdAt)
	if err == sql.ErrNoRows {
		return nil, storage.NewError(storage.KindNotFound, "valence account not found: "+accountID)
	}
	if err != nil {
		return nil, wrapErr(err, storage.KindStorage, "load valence account")
	}
	st.LastUpdated = createdAt

	rows, err := r.client.db.QueryContext(ctx, `
		SELECT library, block_number, removed_at_block, added_at
		FROM valence_account_libraries WHERE account_id = $1
		ORDER BY block_number, log_index
	`, accountID)
	if err != nil {
		return nil, wrapErr(err, storage.KindStorage, "load valence libraries")
	}
	defer rows.Close()

	for rows.Next() {
		var lib string
		var block uint64
		var removedAt sql.NullInt64
		var addedAt time.Time
		if err := rows.Scan(&lib, &block, &removedAt, &addedAt); err != nil {
			return nil, wrapErr(err, storage.KindStorage, "scan valence library row")
		}
		if removedAt.Valid {
			st.RemoveLibrary(lib)
		} else {
			st.AddLibrary(lib)
		}
		if block > st.LastBlock {
			st.LastBlock = block
		}
		if addedAt.After(st.LastUpdated) {
			st.LastUpdated = addedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, storage.KindStorage, "iterate valence libraries")
	}
	return st, nil
}
