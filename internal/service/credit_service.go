package service

import (
	"context"
	"fmt"
	"log/slog"
)

type CreditService struct {
	store         CreditStore
	signupCredits int
	log           *slog.Logger
}

func NewCreditService(store CreditStore, signupCredits int, log *slog.Logger) *CreditService {
	return &CreditService{store: store, signupCredits: signupCredits, log: log}
}

// GetOrInitBalance returns the balance, granting the signup credits on first use.
// A concurrent first call that inserts the row first is fine: we re-read its value.
func (s *CreditService) GetOrInitBalance(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUnauthorized
	}
	balance, err := s.store.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if balance != nil {
		return balance.Credits, nil
	}

	if err := s.store.InsertIfAbsent(ctx, userID, s.signupCredits); err != nil {
		s.log.Warn("init balance failed, re-reading", "user", userID, "err", err)
	}
	balance, err = s.store.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance after init: %w", err)
	}
	if balance == nil {
		return 0, fmt.Errorf("balance row missing after init for user %s", userID)
	}
	return balance.Credits, nil
}

// CheckSufficient reports whether the balance covers cost, along with the balance itself.
func (s *CreditService) CheckSufficient(ctx context.Context, userID string, cost int) (bool, int, error) {
	available, err := s.GetOrInitBalance(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return available >= cost, available, nil
}

// Deduct takes cost off the balance in one conditional update. The balance never goes negative.
func (s *CreditService) Deduct(ctx context.Context, userID string, cost int) error {
	if cost <= 0 {
		return nil
	}
	ok, err := s.store.Deduct(ctx, userID, cost)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	available := 0
	if balance, err := s.store.Get(ctx, userID); err == nil && balance != nil {
		available = balance.Credits
	}
	return &InsufficientCreditsError{Required: cost, Available: available}
}

// Credit adds amount to the balance, starting from zero when no row exists.
func (s *CreditService) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if userID == "" {
		return 0, invalidInput("user id is required")
	}
	if amount <= 0 {
		return 0, invalidInput("credit amount must be positive")
	}
	return s.store.Add(ctx, userID, amount)
}
