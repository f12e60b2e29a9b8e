package postgres

import (
	"context"
	"database/sql"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

type TransactionRepo struct {
	db *DB
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// InsertIfAbsent writes the transaction unless its hash is already recorded.
func (r *TransactionRepo) InsertIfAbsent(ctx context.Context, t *model.NormalizedTransaction) (bool, error) {
	var tag sql.NullInt64
	if t.DestinationTag != nil {
		tag = sql.NullInt64{Int64: int64(*t.DestinationTag), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (
			transaction_hash, wallet_address, amount, currency, transaction_type,
			source_address, destination_address, destination_tag, ledger_index, transaction_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transaction_hash) DO NOTHING
	`, t.TransactionHash, t.WalletAddress, t.Amount, t.Currency, t.TransactionType,
		t.SourceAddress, t.DestinationAddress, tag, t.LedgerIndex, t.TransactionDate,
	)
	if err != nil {
		return false, storeErr("insert transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("insert transaction rows affected", err)
	}
	return n == 1, nil
}

func (r *TransactionRepo) ListByWallet(ctx context.Context, address string, limit int) ([]model.NormalizedTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT transaction_hash, wallet_address, amount, currency, transaction_type,
			source_address, destination_address, destination_tag, ledger_index, transaction_date, created_at
		FROM wallet_transactions
		WHERE wallet_address = $1
		ORDER BY ledger_index DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, storeErr("list transactions", err)
	}
	defer rows.Close()

	var txns []model.NormalizedTransaction
	for rows.Next() {
		var (
			t   model.NormalizedTransaction
			tag sql.NullInt64
		)
		if err := rows.Scan(
			&t.TransactionHash, &t.WalletAddress, &t.Amount, &t.Currency, &t.TransactionType,
			&t.SourceAddress, &t.DestinationAddress, &tag, &t.LedgerIndex, &t.TransactionDate, &t.CreatedAt,
		); err != nil {
			return nil, storeErr("scan transaction", err)
		}
		if tag.Valid {
			v := uint32(tag.Int64)
			t.DestinationTag = &v
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate transactions", err)
	}
	return txns, nil
}
