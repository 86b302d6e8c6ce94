package service

import (
	"context"
	"fmt"

	"github.com/digkill/BananaStudio/internal/models"
)

const historyLimit = 100

type HistoryService struct {
	generations GenerationStore
}

func NewHistoryService(generations GenerationStore) *HistoryService {
	return &HistoryService{generations: generations}
}

// List returns the caller's generations, newest first. A session takes precedence
// over a guest id; guests never see rows owned by a user.
func (s *HistoryService) List(ctx context.Context, id models.Identity) ([]models.Generation, error) {
	var (
		rows []models.Generation
		err  error
	)
	switch {
	case id.Authenticated():
		rows, err = s.generations.ListByUser(ctx, id.UserID, historyLimit)
	case id.Guest():
		rows, err = s.generations.ListByGuest(ctx, id.GuestID, historyLimit)
	default:
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if rows == nil {
		rows = []models.Generation{}
	}
	return rows, nil
}
