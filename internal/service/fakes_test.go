package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/BananaStudio/internal/imagegen"
	"github.com/digkill/BananaStudio/internal/lock"
	"github.com/digkill/BananaStudio/internal/models"
	"github.com/digkill/BananaStudio/internal/payment"
	"github.com/digkill/BananaStudio/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger mirrors the SQL semantics of the credit and transaction repositories.
type memLedger struct {
	mu           sync.Mutex
	balances     map[string]int
	transactions map[string]models.Transaction
	inserts      int
	failGet      error
	failRecord   error
}

func newMemLedger() *memLedger {
	return &memLedger{balances: map[string]int{}, transactions: map[string]models.Transaction{}}
}

func (m *memLedger) Get(ctx context.Context, userID string) (*models.CreditBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	credits, ok := m.balances[userID]
	if !ok {
		return nil, nil
	}
	return &models.CreditBalance{UserID: userID, Credits: credits, UpdatedAt: time.Now()}, nil
}

func (m *memLedger) InsertIfAbsent(ctx context.Context, userID string, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = credits
		m.inserts++
	}
	return nil
}

func (m *memLedger) Deduct(ctx context.Context, userID string, cost int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	credits, ok := m.balances[userID]
	if !ok || credits < cost {
		return false, nil
	}
	m.balances[userID] = credits - cost
	return true, nil
}

func (m *memLedger) Add(ctx context.Context, userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return m.balances[userID], nil
}

func (m *memLedger) FindByProviderID(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memLedger) RecordWithCredit(ctx context.Context, t *models.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return 0, m.failRecord
	}
	if _, ok := m.transactions[t.ProviderTransactionID]; ok {
		return 0, repository.ErrDuplicateTransaction
	}
	t.ID = int64(len(m.transactions) + 1)
	m.transactions[t.ProviderTransactionID] = *t
	m.balances[t.UserID] += t.CreditsAdded
	return m.balances[t.UserID], nil
}

func (m *memLedger) balance(userID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.balances[userID]
	return v, ok
}

func (m *memLedger) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

type memGenerations struct {
	mu   sync.Mutex
	rows []models.Generation
	err  error
}

func (m *memGenerations) Create(ctx context.Context, g *models.Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if (g.UserID == nil) == (g.GuestID == nil) {
		return errors.New("generation must belong to exactly one of user or guest")
	}
	g.ID = int64(len(m.rows) + 1)
	g.CreatedAt = time.Now()
	m.rows = append(m.rows, *g)
	return nil
}

func (m *memGenerations) ListByUser(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	return m.list(limit, func(g models.Generation) bool { return g.UserID != nil && *g.UserID == userID })
}

func (m *memGenerations) ListByGuest(ctx context.Context, guestID string, limit int) ([]models.Generation, error) {
	return m.list(limit, func(g models.Generation) bool { return g.UserID == nil && g.GuestID != nil && *g.GuestID == guestID })
}

func (m *memGenerations) list(limit int, match func(models.Generation) bool) ([]models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Generation
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if match(m.rows[i]) {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  int
	result *imagegen.Result
	err    error
	// after runs once the provider has answered, e.g. to simulate a client hanging up.
	after func()
}

func (f *fakeGenerator) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.after != nil {
		defer f.after()
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

type fakeArchiver struct {
	err    error
	owner  string
	calls  int
	ctxErr error
}

func (f *fakeArchiver) Archive(ctx context.Context, owner, sourceURL string) (string, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return "", f.err
	}
	f.owner = owner
	return "https://cdn.example.com/generations/" + owner + "/1.png", nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type fakeCheckout struct {
	configured bool
	calls      int
	last       payment.CheckoutRequest
	url        string
	err        error
}

func (f *fakeCheckout) Configured() bool { return f.configured }

func (f *fakeCheckout) CreateCheckout(ctx context.Context, in payment.CheckoutRequest) (string, error) {
	f.calls++
	f.last = in
	return f.url, f.err
}

type fakeOrders struct {
	configured  bool
	created     []payment.CustomID
	amounts     []decimal.Decimal
	capture     *payment.Capture
	captureErr  error
	createdBody json.RawMessage
}

func (f *fakeOrders) Configured() bool { return f.configured }

func (f *fakeOrders) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string, custom payment.CustomID) (json.RawMessage, error) {
	f.created = append(f.created, custom)
	f.amounts = append(f.amounts, amount)
	return f.createdBody, nil
}

func (f *fakeOrders) CaptureOrder(ctx context.Context, orderID string) (*payment.Capture, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.capture, nil
}

func newTestReconciler(ledger *memLedger, notifier *recordingNotifier) *Reconciler {
	return NewReconciler(ledger, NewPlanCatalog(), lock.NewLocalLocker(), notifier, discardLogger())
}
