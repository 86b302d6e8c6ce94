package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/BananaStudio/internal/lock"
	"github.com/digkill/BananaStudio/internal/models"
	"github.com/digkill/BananaStudio/internal/notify"
	"github.com/digkill/BananaStudio/internal/payment"
	"github.com/digkill/BananaStudio/internal/repository"
)

type Outcome string

const (
	// OutcomeCredited means a new transaction was recorded and credits were added.
	OutcomeCredited Outcome = "credited"
	// OutcomeDuplicate means the provider transaction was already recorded.
	OutcomeDuplicate Outcome = "already_processed"
	// OutcomeIgnored means the plan is unknown, so nothing was recorded.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDropped means the payment could not be attributed to a user and plan.
	OutcomeDropped Outcome = "dropped"
	// OutcomeUnhandled means the event type is not one we act on.
	OutcomeUnhandled Outcome = "unhandled"
	// OutcomeUnderpaid means the captured amount is below the plan price.
	OutcomeUnderpaid Outcome = "underpaid"
)

type Reconciliation struct {
	Outcome      Outcome
	CreditsAdded int
	Balance      int
	Transaction  *models.Transaction
}

// Reconciler turns completed payments into credits exactly once per provider transaction id.
type Reconciler struct {
	transactions TransactionStore
	plans        *PlanCatalog
	locker       lock.Locker
	notifier     notify.Notifier
	log          *slog.Logger
}

func NewReconciler(transactions TransactionStore, plans *PlanCatalog, locker lock.Locker, notifier notify.Notifier, log *slog.Logger) *Reconciler {
	return &Reconciler{
		transactions: transactions,
		plans:        plans,
		locker:       locker,
		notifier:     notifier,
		log:          log,
	}
}

// Reconcile records the payment and credits its plan. Only store and lock
// failures are returned as errors; everything else is reported as an Outcome.
func (r *Reconciler) Reconcile(ctx context.Context, p payment.Payment) (*Reconciliation, error) {
	if !p.Identified() {
		r.log.Info("payment missing user, plan or transaction id",
			"provider", p.Provider, "event", p.EventType, "txn", p.TransactionID)
		return &Reconciliation{Outcome: OutcomeDropped}, nil
	}
	plan, ok := r.plans.Get(p.PlanID)
	if !ok {
		r.log.Warn("payment for unknown plan", "provider", p.Provider, "plan", p.PlanID, "txn", p.TransactionID)
		return &Reconciliation{Outcome: OutcomeIgnored}, nil
	}
	// PayPal orders can be created client-side with any amount, so the capture must cover the price.
	if p.Provider == models.ProviderPayPal && !paidInFull(plan, p) {
		r.log.Warn("payment below plan price", "provider", p.Provider, "user", p.UserID, "plan", plan.ID,
			"amount", p.Amount.String(), "currency", p.Currency, "txn", p.TransactionID)
		return &Reconciliation{Outcome: OutcomeUnderpaid}, nil
	}

	unlock, err := r.locker.Lock(ctx, "txn:"+p.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock transaction %s: %w", p.TransactionID, err)
	}
	defer unlock()

	existing, err := r.transactions.FindByProviderID(ctx, p.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}
	if existing != nil {
		r.log.Info("transaction already processed", "provider", p.Provider, "txn", p.TransactionID)
		return &Reconciliation{Outcome: OutcomeDuplicate, Transaction: existing}, nil
	}

	txn := &models.Transaction{
		UserID:                p.UserID,
		Amount:                p.Amount,
		Currency:              p.Currency,
		Status:                models.TransactionStatusCompleted,
		PlanID:                plan.ID,
		CreditsAdded:          plan.Credits,
		Provider:              p.Provider,
		ProviderTransactionID: p.TransactionID,
		Metadata:              metadataOf(p.Raw),
	}
	balance, err := r.transactions.RecordWithCredit(ctx, txn)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) {
			r.log.Info("transaction recorded concurrently", "provider", p.Provider, "txn", p.TransactionID)
			return &Reconciliation{Outcome: OutcomeDuplicate}, nil
		}
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	r.log.Info("credits added",
		"provider", p.Provider, "user", p.UserID, "plan", plan.ID, "credits", plan.Credits, "balance", balance, "txn", p.TransactionID)
	r.notifier.Notify(ctx, fmt.Sprintf("Payment via %s: user %s bought %s (+%d credits) for %s %s, txn %s",
		p.Provider, p.UserID, plan.ID, plan.Credits, p.Amount.StringFixed(2), p.Currency, p.TransactionID))

	return &Reconciliation{
		Outcome:      OutcomeCredited,
		CreditsAdded: plan.Credits,
		Balance:      balance,
		Transaction:  txn,
	}, nil
}

// HandleWebhook parses a provider event and reconciles it. source is one of
// payment.SourcePayPal, payment.SourceCreem or "" to infer it from the envelope.
func (r *Reconciler) HandleWebhook(ctx context.Context, source string, body []byte) (*Reconciliation, error) {
	var (
		p   *payment.Payment
		err error
	)
	switch source {
	case payment.SourcePayPal:
		p, err = payment.ParsePayPalEvent(body)
	case payment.SourceCreem:
		p, err = payment.ParseCreemEvent(body)
	default:
		p, err = payment.ParseWebhook(body)
	}
	if err != nil {
		// Redelivering an unreadable body will not help, so it is acknowledged and dropped.
		r.log.Warn("drop unreadable webhook", "source", source, "err", err)
		return &Reconciliation{Outcome: OutcomeDropped}, nil
	}
	if p == nil {
		return &Reconciliation{Outcome: OutcomeUnhandled}, nil
	}
	return r.Reconcile(ctx, *p)
}

func paidInFull(plan models.Plan, p payment.Payment) bool {
	return strings.EqualFold(p.Currency, plan.Currency) && p.Amount.GreaterThanOrEqual(plan.Price)
}

func metadataOf(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
