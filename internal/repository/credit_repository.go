package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/BananaStudio/internal/models"
)

type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Get returns nil when the user has no balance row yet.
func (r *CreditRepository) Get(ctx context.Context, userID string) (*models.CreditBalance, error) {
	const query = `SELECT user_id, credits, updated_at FROM user_credits WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var b models.CreditBalance
	if err := row.Scan(&b.UserID, &b.Credits, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user credits: %w", err)
	}
	return &b, nil
}

// InsertIfAbsent creates the balance row with the given credits. A row created
// concurrently by another request wins and is left untouched.
func (r *CreditRepository) InsertIfAbsent(ctx context.Context, userID string, credits int) error {
	const query = `INSERT IGNORE INTO user_credits (user_id, credits) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, credits); err != nil {
		return fmt.Errorf("insert user credits: %w", err)
	}
	return nil
}

// Deduct subtracts cost only when the balance covers it. It reports false when
// no row was changed, which means the balance is missing or too low.
func (r *CreditRepository) Deduct(ctx context.Context, userID string, cost int) (bool, error) {
	const query = `
UPDATE user_credits SET credits = credits - ?, updated_at = NOW()
WHERE user_id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, cost, userID, cost)
	if err != nil {
		return false, fmt.Errorf("deduct credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deduct rows affected: %w", err)
	}
	return affected > 0, nil
}

// Add tops up the balance, starting from zero when no row exists, and returns the new balance.
func (r *CreditRepository) Add(ctx context.Context, userID string, amount int) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	balance, err := addCredits(ctx, tx, userID, amount)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credits tx: %w", err)
	}
	return balance, nil
}

func addCredits(ctx context.Context, tx *sql.Tx, userID string, amount int) (int, error) {
	const upsert = `
INSERT INTO user_credits (user_id, credits) VALUES (?, ?)
ON DUPLICATE KEY UPDATE credits = credits + VALUES(credits), updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, upsert, userID, amount); err != nil {
		return 0, fmt.Errorf("upsert user credits: %w", err)
	}
	var balance int
	row := tx.QueryRowContext(ctx, `SELECT credits FROM user_credits WHERE user_id = ?`, userID)
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("read credits after upsert: %w", err)
	}
	return balance, nil
}
