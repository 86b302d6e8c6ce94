package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/BananaStudio/internal/models"
)

type FeedbackRepository struct {
	db *sql.DB
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) Create(ctx context.Context, f *models.Feedback) error {
	if f.Status == "" {
		f.Status = "new"
	}
	const query = `INSERT INTO feedback (message, user_id, status) VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, f.Message, f.UserID, f.Status)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("feedback last insert id: %w", err)
	}
	f.ID = id
	return nil
}
