package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/BananaStudio/internal/models"
	"github.com/digkill/BananaStudio/internal/payment"
)

type CheckoutProvider interface {
	Configured() bool
	CreateCheckout(ctx context.Context, in payment.CheckoutRequest) (string, error)
}

type OrderProvider interface {
	Configured() bool
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency string, custom payment.CustomID) (json.RawMessage, error)
	CaptureOrder(ctx context.Context, orderID string) (*payment.Capture, error)
}

type PaymentOptions struct {
	AppURL      string
	Products    map[string]string
	MockEnabled bool
}

type PaymentService struct {
	plans      *PlanCatalog
	checkout   CheckoutProvider
	orders     OrderProvider
	reconciler *Reconciler
	opts       PaymentOptions
	log        *slog.Logger
}

func NewPaymentService(plans *PlanCatalog, checkout CheckoutProvider, orders OrderProvider, reconciler *Reconciler, opts PaymentOptions, log *slog.Logger) *PaymentService {
	return &PaymentService{
		plans:      plans,
		checkout:   checkout,
		orders:     orders,
		reconciler: reconciler,
		opts:       opts,
		log:        log,
	}
}

func (s *PaymentService) plan(planID string) (models.Plan, error) {
	if strings.TrimSpace(planID) == "" {
		return models.Plan{}, invalidInput("planId is required")
	}
	p, ok := s.plans.Get(planID)
	if !ok {
		return models.Plan{}, invalidInput("invalid plan ID")
	}
	return p, nil
}

// CreateCheckout opens a hosted checkout for the plan and returns the redirect URL.
func (s *PaymentService) CreateCheckout(ctx context.Context, id models.Identity, planID string) (string, error) {
	if !id.Authenticated() {
		return "", ErrUnauthorized
	}
	plan, err := s.plan(planID)
	if err != nil {
		return "", err
	}
	productID := s.opts.Products[string(plan.ID)]
	if productID == "" {
		s.log.Error("missing checkout product id", "plan", plan.ID)
		return "", fmt.Errorf("%w: no product for plan %s", ErrConfiguration, plan.ID)
	}
	if s.checkout == nil || !s.checkout.Configured() {
		s.log.Error("checkout provider api key missing")
		return "", fmt.Errorf("%w: checkout provider", ErrConfiguration)
	}

	url, err := s.checkout.CreateCheckout(ctx, payment.CheckoutRequest{
		ProductID:     productID,
		CustomerEmail: id.Email,
		SuccessURL:    strings.TrimRight(s.opts.AppURL, "/") + "/dashboard/billing?success=true",
		Custom:        payment.CustomID{UserID: id.UserID, PlanID: string(plan.ID)},
	})
	if err != nil {
		return "", configurationOr(err)
	}
	return url, nil
}

// CreateOrder creates a PayPal order for the plan and returns the provider's order object.
func (s *PaymentService) CreateOrder(ctx context.Context, id models.Identity, planID string) (json.RawMessage, error) {
	if !id.Authenticated() {
		return nil, ErrUnauthorized
	}
	plan, err := s.plan(planID)
	if err != nil {
		return nil, err
	}
	if s.orders == nil || !s.orders.Configured() {
		return nil, fmt.Errorf("%w: order provider", ErrConfiguration)
	}
	order, err := s.orders.CreateOrder(ctx, plan.Price, plan.Currency, payment.CustomID{UserID: id.UserID, PlanID: string(plan.ID)})
	if err != nil {
		return nil, configurationOr(err)
	}
	return order, nil
}

// CaptureOrder captures an approved order and credits the authenticated caller.
// The returned Reconciliation is nil only when an error is returned.
func (s *PaymentService) CaptureOrder(ctx context.Context, id models.Identity, orderID string) (json.RawMessage, *Reconciliation, error) {
	if !id.Authenticated() {
		return nil, nil, ErrUnauthorized
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, nil, invalidInput("missing order ID")
	}
	if s.orders == nil || !s.orders.Configured() {
		return nil, nil, fmt.Errorf("%w: order provider", ErrConfiguration)
	}

	capture, err := s.orders.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, nil, configurationOr(err)
	}

	custom, err := payment.ParseCustomID(capture.CustomID)
	if err != nil {
		s.log.Error("parse capture custom_id", "order", orderID, "err", err)
	}
	if custom.UserID != "" && custom.UserID != id.UserID {
		s.log.Warn("capture user mismatch, crediting the caller", "order", orderID, "order_user", custom.UserID, "user", id.UserID)
	}
	if custom.PlanID == "" {
		s.log.Error("could not determine plan for captured order", "order", orderID, "user", id.UserID)
	}

	rec, err := s.reconciler.Reconcile(ctx, payment.Payment{
		Provider:      models.ProviderPayPal,
		EventType:     "capture",
		UserID:        id.UserID,
		PlanID:        custom.PlanID,
		TransactionID: capture.TransactionID(),
		Amount:        capture.Amount,
		Currency:      capture.Currency,
		Raw:           capture.Raw,
	})
	if err != nil {
		return nil, nil, err
	}
	return capture.Raw, rec, nil
}

// MockPurchase credits a plan without a payment provider. Only for local setups.
func (s *PaymentService) MockPurchase(ctx context.Context, id models.Identity, planID string) (*Reconciliation, error) {
	if !s.opts.MockEnabled {
		return nil, fmt.Errorf("%w: mock payments disabled", ErrConfiguration)
	}
	if !id.Authenticated() {
		return nil, ErrUnauthorized
	}
	plan, err := s.plan(planID)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, payment.Payment{
		Provider:      models.ProviderMock,
		EventType:     "mock",
		UserID:        id.UserID,
		PlanID:        string(plan.ID),
		TransactionID: "mock_" + uuid.NewString(),
		Amount:        plan.Price,
		Currency:      plan.Currency,
	})
}

func (s *PaymentService) Plans() []models.Plan {
	return s.plans.List()
}

func configurationOr(err error) error {
	if errors.Is(err, payment.ErrNotConfigured) {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return err
}
