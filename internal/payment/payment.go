// Package payment talks to the PayPal and Creem APIs and parses their webhook events.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ErrNotConfigured is returned before any network call when credentials are missing.
var ErrNotConfigured = errors.New("payment provider not configured")

// APIError is a non-success response from a payment provider.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: status=%d %s", e.Provider, e.Status, e.Body)
}

// CustomID is the buyer context we attach to an order and read back on capture.
type CustomID struct {
	UserID string `json:"userId"`
	PlanID string `json:"planId"`
}

func (c CustomID) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// ParseCustomID decodes an encoded CustomID. Empty input yields a zero value.
func ParseCustomID(raw string) (CustomID, error) {
	if strings.TrimSpace(raw) == "" {
		return CustomID{}, nil
	}
	var loose struct {
		UserID looseString `json:"userId"`
		PlanID looseString `json:"planId"`
	}
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return CustomID{}, fmt.Errorf("parse custom_id: %w", err)
	}
	return CustomID{UserID: loose.UserID.String(), PlanID: loose.PlanID.String()}, nil
}

// Payment is a provider-neutral view of a completed payment.
type Payment struct {
	Provider      string
	EventType     string
	UserID        string
	PlanID        string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Raw           json.RawMessage
}

// Identified reports whether the payment can be attributed to a user and plan.
func (p Payment) Identified() bool {
	return p.UserID != "" && p.PlanID != "" && p.TransactionID != ""
}

func doRequest(ctx context.Context, client *http.Client, provider, method, url string, headers map[string]string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s payload: %w", provider, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", provider, err)
	}
	return resp.StatusCode, raw, nil
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
