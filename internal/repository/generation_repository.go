package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/BananaStudio/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) error {
	if (g.UserID == nil) == (g.GuestID == nil) {
		return fmt.Errorf("generation must belong to exactly one of user or guest")
	}
	const query = `
INSERT INTO generations (user_id, guest_id, prompt, model, mode, image_url, credits_used)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, g.UserID, g.GuestID, g.Prompt, g.Model, g.Mode, g.ImageURL, g.CreditsUsed)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	g.ID = id
	return nil
}

func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	const query = `
SELECT id, user_id, guest_id, prompt, model, mode, image_url, credits_used, created_at
FROM generations
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	return r.list(ctx, query, userID, limit)
}

// ListByGuest never returns rows owned by an authenticated user, even if the guest id collides.
func (r *GenerationRepository) ListByGuest(ctx context.Context, guestID string, limit int) ([]models.Generation, error) {
	const query = `
SELECT id, user_id, guest_id, prompt, model, mode, image_url, credits_used, created_at
FROM generations
WHERE guest_id = ? AND user_id IS NULL
ORDER BY created_at DESC, id DESC
LIMIT ?`
	return r.list(ctx, query, guestID, limit)
}

func (r *GenerationRepository) list(ctx context.Context, query, owner string, limit int) ([]models.Generation, error) {
	rows, err := r.db.QueryContext(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	generations := []models.Generation{}
	for rows.Next() {
		var g models.Generation
		var userID, guestID sql.NullString
		if err := rows.Scan(&g.ID, &userID, &guestID, &g.Prompt, &g.Model, &g.Mode, &g.ImageURL, &g.CreditsUsed, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		if userID.Valid {
			g.UserID = &userID.String
		}
		if guestID.Valid {
			g.GuestID = &guestID.String
		}
		generations = append(generations, g)
	}
	return generations, rows.Err()
}
