package service

import (
	"context"

	"github.com/digkill/BananaStudio/internal/models"
)

// The repository package implements these against MySQL.

type CreditStore interface {
	Get(ctx context.Context, userID string) (*models.CreditBalance, error)
	InsertIfAbsent(ctx context.Context, userID string, credits int) error
	Deduct(ctx context.Context, userID string, cost int) (bool, error)
	Add(ctx context.Context, userID string, amount int) (int, error)
}

type GenerationStore interface {
	Create(ctx context.Context, g *models.Generation) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Generation, error)
	ListByGuest(ctx context.Context, guestID string, limit int) ([]models.Generation, error)
}

type TransactionStore interface {
	FindByProviderID(ctx context.Context, providerTxnID string) (*models.Transaction, error)
	RecordWithCredit(ctx context.Context, t *models.Transaction) (int, error)
}

type FeedbackStore interface {
	Create(ctx context.Context, f *models.Feedback) error
}
