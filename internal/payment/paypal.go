package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const providerPayPal = "paypal"

type PayPalClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client
}

func NewPayPalClient(clientID, clientSecret, baseURL string, httpClient *http.Client) *PayPalClient {
	return &PayPalClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       httpClient,
	}
}

func (c *PayPalClient) Configured() bool {
	return c != nil && c.clientID != "" && c.clientSecret != ""
}

// accessToken exchanges the client credentials for a bearer token.
func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: paypal client credentials", ErrNotConfigured)
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build paypal token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Provider: providerPayPal, Status: resp.StatusCode, Body: "token request rejected"}
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}
	return parsed.AccessToken, nil
}

// CreateOrder creates a CAPTURE-intent order and returns PayPal's order body verbatim.
func (c *PayPalClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string, custom CustomID) (json.RawMessage, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"amount": map[string]string{
					"currency_code": currency,
					"value":         amount.StringFixed(2),
				},
				"custom_id": custom.Encode(),
			},
		},
	}
	status, body, err := doRequest(ctx, c.client, providerPayPal, http.MethodPost, c.baseURL+"/v2/checkout/orders",
		map[string]string{"Authorization": "Bearer " + token}, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, &APIError{Provider: providerPayPal, Status: status, Body: truncate(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("paypal create order: invalid json response")
	}
	return json.RawMessage(body), nil
}

// Capture is the part of a captured order we reconcile against.
type Capture struct {
	OrderID   string
	CaptureID string
	CustomID  string
	Amount    decimal.Decimal
	Currency  string
	Raw       json.RawMessage
}

// TransactionID is the capture id, falling back to the order id.
func (c *Capture) TransactionID() string {
	if c.CaptureID != "" {
		return c.CaptureID
	}
	return c.OrderID
}

type orderResponse struct {
	ID            string `json:"id"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Payments struct {
			Captures []struct {
				ID       string      `json:"id"`
				CustomID string      `json:"custom_id"`
				Amount   paypalMoney `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalMoney struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// CaptureOrder captures an approved order. Both 200 and 201 count as success.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.baseURL, url.PathEscape(orderID))
	status, body, err := doRequest(ctx, c.client, providerPayPal, http.MethodPost, endpoint,
		map[string]string{"Authorization": "Bearer " + token}, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &APIError{Provider: providerPayPal, Status: status, Body: truncate(body)}
	}
	return parseCapture(body)
}

func parseCapture(body []byte) (*Capture, error) {
	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode paypal capture: %w", err)
	}

	capture := &Capture{OrderID: order.ID, Currency: "USD", Amount: decimal.Zero, Raw: json.RawMessage(body)}
	if len(order.PurchaseUnits) == 0 {
		return capture, nil
	}
	unit := order.PurchaseUnits[0]
	capture.CustomID = unit.CustomID
	if len(unit.Payments.Captures) > 0 {
		first := unit.Payments.Captures[0]
		capture.CaptureID = first.ID
		if capture.CustomID == "" {
			capture.CustomID = first.CustomID
		}
		if first.Amount.CurrencyCode != "" {
			capture.Currency = first.Amount.CurrencyCode
		}
		if amount, err := decimal.NewFromString(first.Amount.Value); err == nil {
			capture.Amount = amount
		}
	}
	return capture, nil
}

// VerifyWebhookSignature asks PayPal whether a webhook delivery was signed for webhookID.
// Deliveries missing the transmission headers are rejected without a call.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, webhookID string, header http.Header, body []byte) (bool, error) {
	fields := map[string]string{
		"auth_algo":         header.Get("Paypal-Auth-Algo"),
		"cert_url":          header.Get("Paypal-Cert-Url"),
		"transmission_id":   header.Get("Paypal-Transmission-Id"),
		"transmission_sig":  header.Get("Paypal-Transmission-Sig"),
		"transmission_time": header.Get("Paypal-Transmission-Time"),
	}
	for _, v := range fields {
		if v == "" {
			return false, nil
		}
	}
	if webhookID == "" || !json.Valid(body) {
		return false, nil
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return false, err
	}
	payload := map[string]any{"webhook_id": webhookID, "webhook_event": json.RawMessage(body)}
	for k, v := range fields {
		payload[k] = v
	}
	status, resp, err := doRequest(ctx, c.client, providerPayPal, http.MethodPost, c.baseURL+"/v1/notifications/verify-webhook-signature",
		map[string]string{"Authorization": "Bearer " + token}, payload)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, &APIError{Provider: providerPayPal, Status: status, Body: truncate(resp)}
	}
	var parsed struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return false, fmt.Errorf("decode paypal verification: %w", err)
	}
	return parsed.VerificationStatus == "SUCCESS", nil
}
