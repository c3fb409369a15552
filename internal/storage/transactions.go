package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	txColumns = `id, tx_date, tx_type, amount_usd, rate, amount_php, profit_loss, notes, owner_id, created_at`

	insertTransactionSQL = `INSERT INTO transactions (
        tx_date,
        tx_type,
        amount_usd,
        rate,
        amount_php,
        profit_loss,
        notes,
        owner_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING ` + txColumns + `;`

	listTransactionsSQL = `SELECT ` + txColumns + `
    FROM transactions
    WHERE owner_id = $1
    ORDER BY tx_date DESC, id DESC;`

	deleteTransactionSQL = `DELETE FROM transactions WHERE id = $1 AND owner_id = $2;`
)

// TransactionStore defines owner-scoped transaction persistence.
type TransactionStore interface {
	Insert(ctx context.Context, ownerID string, tx Transaction) (Transaction, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Transaction, error)
	Delete(ctx context.Context, ownerID string, id int64) error
}

// TransactionRepo provides typed access to the transactions table. Every
// operation is scoped to an owner; mutating calls without one fail with
// ErrAuthRequired.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

// Insert records a transaction for the owner. AmountPHP is always computed
// here as AmountUSD * Rate; any client-supplied value is ignored.
func (r *TransactionRepo) Insert(ctx context.Context, ownerID string, tx Transaction) (Transaction, error) {
	if r.pool == nil {
		return Transaction{}, ErrNotConfigured
	}
	if ownerID == "" {
		return Transaction{}, ErrAuthRequired
	}
	if tx.Type != TxBuy && tx.Type != TxSell {
		return Transaction{}, fmt.Errorf("invalid transaction type %q", tx.Type)
	}

	amountPHP := tx.AmountUSD.Mul(tx.Rate)

	row := r.pool.QueryRow(ctx, insertTransactionSQL,
		Day(tx.Date),
		tx.Type,
		tx.AmountUSD.String(),
		tx.Rate.String(),
		amountPHP.String(),
		decimalArg(tx.ProfitLoss),
		tx.Notes,
		ownerID,
	)

	inserted, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, storeErr("insert transaction", err)
	}
	return inserted, nil
}

// ListByOwner lists the owner's transactions, newest first.
func (r *TransactionRepo) ListByOwner(ctx context.Context, ownerID string) ([]Transaction, error) {
	if r.pool == nil {
		return nil, ErrNotConfigured
	}
	if ownerID == "" {
		return nil, ErrAuthRequired
	}

	rows, err := r.pool.Query(ctx, listTransactionsSQL, ownerID)
	if err != nil {
		return nil, storeErr("list transactions", err)
	}
	defer rows.Close()

	txs := make([]Transaction, 0)
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, storeErr("scan transaction", scanErr)
		}
		txs = append(txs, tx)
	}
	if rows.Err() != nil {
		return nil, storeErr("list transactions", rows.Err())
	}
	return txs, nil
}

// Delete removes the owner's transaction by id.
func (r *TransactionRepo) Delete(ctx context.Context, ownerID string, id int64) error {
	if r.pool == nil {
		return ErrNotConfigured
	}
	if ownerID == "" {
		return ErrAuthRequired
	}

	cmdTag, err := r.pool.Exec(ctx, deleteTransactionSQL, id, ownerID)
	if err != nil {
		return storeErr("delete transaction", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTransaction(row scannable) (Transaction, error) {
	var (
		tx        Transaction
		day       time.Time
		pl        decimal.NullDecimal
		notes     sql.NullString
		createdAt time.Time
	)

	if err := row.Scan(&tx.ID, &day, &tx.Type, &tx.AmountUSD, &tx.Rate, &tx.AmountPHP, &pl, &notes, &tx.OwnerID, &createdAt); err != nil {
		return Transaction{}, err
	}

	tx.ProfitLoss = nullDecimal(pl)
	if notes.Valid {
		n := notes.String
		tx.Notes = &n
	}

	tx.Date = Day(day)
	tx.CreatedAt = createdAt
	return tx, nil
}

var _ TransactionStore = (*TransactionRepo)(nil)
