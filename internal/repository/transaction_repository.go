package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/BananaStudio/internal/models"
)

// ErrDuplicateTransaction is returned when a transaction with the same provider id already exists.
var ErrDuplicateTransaction = errors.New("transaction already recorded")

const mysqlDuplicateEntry = 1062

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) FindByProviderID(ctx context.Context, providerTxnID string) (*models.Transaction, error) {
	const query = `
SELECT id, user_id, amount, currency, status, plan_id, credits_added, provider, provider_transaction_id, COALESCE(metadata, 'null'), created_at
FROM transactions WHERE provider_transaction_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, providerTxnID)
	var t models.Transaction
	var metadata []byte
	if err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Currency, &t.Status, &t.PlanID, &t.CreditsAdded, &t.Provider, &t.ProviderTransactionID, &metadata, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Metadata = metadata
	return &t, nil
}

// RecordWithCredit inserts the transaction and adds its credits to the user's balance
// in a single database transaction, so credits exist if and only if the row does.
// It returns ErrDuplicateTransaction when the provider id was already recorded.
func (r *TransactionRepository) RecordWithCredit(ctx context.Context, t *models.Transaction) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
INSERT INTO transactions (user_id, amount, currency, status, plan_id, credits_added, provider, provider_transaction_id, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var metadata any
	if len(t.Metadata) > 0 {
		metadata = string(t.Metadata)
	}
	res, err := tx.ExecContext(ctx, insert, t.UserID, t.Amount, t.Currency, t.Status, t.PlanID, t.CreditsAdded, t.Provider, t.ProviderTransactionID, metadata)
	if err != nil {
		if isDuplicateEntry(err) {
			return 0, ErrDuplicateTransaction
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction last insert id: %w", err)
	}

	balance, err := addCredits(ctx, tx, t.UserID, t.CreditsAdded)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	t.ID = id
	return balance, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
