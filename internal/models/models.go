package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeTextToImage  Mode = "text-to-image"
	ModeImageToImage Mode = "image-to-image"
)

func (m Mode) Valid() bool {
	return m == ModeTextToImage || m == ModeImageToImage
}

const (
	ModelSeedream   = "doubao-seedream-4.5"
	ModelGLMImage   = "glm-image"
	ModelNanoBanana = "nano-banana"
)

type PlanID string

const (
	PlanTrial   PlanID = "TRIAL"
	PlanStarter PlanID = "STARTER"
	PlanPro     PlanID = "PRO"
	PlanUltra   PlanID = "ULTRA"
)

const (
	ProviderPayPal = "paypal"
	ProviderCreem  = "creem"
	ProviderMock   = "mock"
)

const TransactionStatusCompleted = "completed"

// CreditBalance is the per-user spendable credit counter.
type CreditBalance struct {
	UserID    string    `json:"user_id"`
	Credits   int       `json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Generation is an archived generation. Exactly one of UserID and GuestID is set.
type Generation struct {
	ID          int64     `json:"id"`
	UserID      *string   `json:"user_id"`
	GuestID     *string   `json:"guest_id"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	Mode        Mode      `json:"mode"`
	ImageURL    string    `json:"image_url"`
	CreditsUsed int       `json:"credits_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction records one completed payment capture. ProviderTransactionID is unique.
type Transaction struct {
	ID                    int64           `json:"id"`
	UserID                string          `json:"user_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Status                string          `json:"status"`
	PlanID                PlanID          `json:"plan_id"`
	CreditsAdded          int             `json:"credits_added"`
	Provider              string          `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Metadata              json.RawMessage `json:"metadata"`
	CreatedAt             time.Time       `json:"created_at"`
}

type Feedback struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	UserID    *string   `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Plan struct {
	ID       PlanID          `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Credits  int             `json:"credits"`
}

// Identity is who is making a request: an authenticated user, a guest, or neither.
type Identity struct {
	UserID  string
	Email   string
	GuestID string
}

func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

func (i Identity) Guest() bool {
	return i.UserID == "" && i.GuestID != ""
}
