package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const providerCreem = "creem"

type CreemClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewCreemClient(apiKey, baseURL string, httpClient *http.Client) *CreemClient {
	return &CreemClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

func (c *CreemClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

type CheckoutRequest struct {
	ProductID     string
	CustomerEmail string
	SuccessURL    string
	Custom        CustomID
}

// CreateCheckout opens a hosted checkout session and returns its URL.
func (c *CreemClient) CreateCheckout(ctx context.Context, in CheckoutRequest) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: creem api key", ErrNotConfigured)
	}

	payload := map[string]any{
		"product_id": in.ProductID,
		"metadata": map[string]string{
			"userId": in.Custom.UserID,
			"planId": in.Custom.PlanID,
		},
		"success_url": in.SuccessURL,
	}
	if in.CustomerEmail != "" {
		payload["customer"] = map[string]string{"email": in.CustomerEmail}
	}

	status, body, err := doRequest(ctx, c.client, providerCreem, http.MethodPost, c.baseURL+"/v1/checkouts",
		map[string]string{"x-api-key": c.apiKey}, payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &APIError{Provider: providerCreem, Status: status, Body: truncate(body)}
	}

	var parsed struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode creem checkout: %w", err)
	}
	if parsed.CheckoutURL == "" {
		return "", &APIError{Provider: providerCreem, Status: status, Body: "response missing checkout_url"}
	}
	return parsed.CheckoutURL, nil
}

// VerifyCreemSignature checks the hex HMAC-SHA256 of the raw body.
func VerifyCreemSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
