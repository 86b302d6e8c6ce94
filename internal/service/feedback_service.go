package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/BananaStudio/internal/models"
	"github.com/digkill/BananaStudio/internal/notify"
)

const maxFeedbackLength = 4000

type FeedbackService struct {
	store    FeedbackStore
	notifier notify.Notifier
	log      *slog.Logger
}

func NewFeedbackService(store FeedbackStore, notifier notify.Notifier, log *slog.Logger) *FeedbackService {
	return &FeedbackService{store: store, notifier: notifier, log: log}
}

// Submit stores a feedback message. userID may be empty for anonymous feedback.
func (s *FeedbackService) Submit(ctx context.Context, message, userID string) (*models.Feedback, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalidInput("message is required")
	}
	if len(message) > maxFeedbackLength {
		return nil, invalidInput("message is too long")
	}

	f := &models.Feedback{Message: message}
	if userID = strings.TrimSpace(userID); userID != "" {
		f.UserID = &userID
	}
	if err := s.store.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}

	from := "anonymous"
	if f.UserID != nil {
		from = *f.UserID
	}
	s.notifier.Notify(ctx, fmt.Sprintf("New feedback #%d from %s:\n%s", f.ID, from, message))
	return f, nil
}
