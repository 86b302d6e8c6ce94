package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	EventPayPalCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCreemCheckoutCompleted = "checkout.completed"
	EventCreemOrderPaid         = "order.paid"
)

const (
	SourcePayPal = providerPayPal
	SourceCreem  = providerCreem
)

type envelope struct {
	EventType      string `json:"event_type"`
	EventTypeCamel string `json:"eventType"`
	Type           string `json:"type"`
}

// DetectSource tells PayPal and Creem events apart by their event type field.
// It returns "" when neither is present.
func DetectSource(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("parse webhook envelope: %w", err)
	}
	switch {
	case env.EventType != "":
		return SourcePayPal, nil
	case env.EventTypeCamel != "" || env.Type != "":
		return SourceCreem, nil
	default:
		return "", nil
	}
}

// ParseWebhook parses a webhook whose source is inferred from the envelope.
// A nil Payment means the event is not one we act on.
func ParseWebhook(body []byte) (*Payment, error) {
	source, err := DetectSource(body)
	if err != nil {
		return nil, err
	}
	switch source {
	case SourcePayPal:
		return ParsePayPalEvent(body)
	case SourceCreem:
		return ParseCreemEvent(body)
	default:
		return nil, nil
	}
}

// looseString decodes a JSON string, number or bool as text. Other values decode to "".
// Provider payloads are not strict about scalar types in metadata.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = looseString(t)
	case json.Number:
		*s = looseString(t.String())
	case bool:
		*s = looseString(strconv.FormatBool(t))
	default:
		*s = ""
	}
	return nil
}

func (s looseString) String() string {
	return strings.TrimSpace(string(s))
}

// decodeLoose fills dst from raw when raw is a JSON object and leaves it zero otherwise.
func decodeLoose(raw json.RawMessage, dst any) {
	if !isJSONObject(raw) {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

type paypalEvent struct {
	ID        looseString     `json:"id"`
	EventType looseString     `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalResource struct {
	ID       looseString     `json:"id"`
	CustomID looseString     `json:"custom_id"`
	Amount   json.RawMessage `json:"amount"`
}

type paypalEventMoney struct {
	Value        looseString `json:"value"`
	CurrencyCode looseString `json:"currency_code"`
}

// ParsePayPalEvent reads a PayPal webhook. Only invalid JSON is an error; fields
// of unexpected shape are left empty so the payment is reported as unidentified.
func ParsePayPalEvent(body []byte) (*Payment, error) {
	var evt paypalEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("parse paypal event: %w", err)
	}
	if evt.EventType.String() != EventPayPalCaptureCompleted {
		return nil, nil
	}

	var res paypalResource
	decodeLoose(evt.Resource, &res)
	var money paypalEventMoney
	decodeLoose(res.Amount, &money)

	p := &Payment{
		Provider:      providerPayPal,
		EventType:     EventPayPalCaptureCompleted,
		TransactionID: res.ID.String(),
		Amount:        decimal.Zero,
		Currency:      "USD",
		Raw:           resourceOf(body),
	}
	// A malformed custom_id leaves the payment unidentified.
	if custom, err := ParseCustomID(res.CustomID.String()); err == nil {
		p.UserID, p.PlanID = custom.UserID, custom.PlanID
	}
	if v, err := decimal.NewFromString(money.Value.String()); err == nil {
		p.Amount = v
	}
	if c := money.CurrencyCode.String(); c != "" {
		p.Currency = strings.ToUpper(c)
	}
	return p, nil
}

func resourceOf(body []byte) json.RawMessage {
	var wrapper struct {
		Resource json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || len(wrapper.Resource) == 0 {
		return json.RawMessage(body)
	}
	return wrapper.Resource
}

type creemEvent struct {
	ID             looseString     `json:"id"`
	EventTypeCamel looseString     `json:"eventType"`
	Type           looseString     `json:"type"`
	Object         json.RawMessage `json:"object"`
	Data           json.RawMessage `json:"data"`
}

type creemObject struct {
	ID          looseString     `json:"id"`
	Metadata    json.RawMessage `json:"metadata"`
	Order       json.RawMessage `json:"order"`
	Amount      looseString     `json:"amount"`
	AmountTotal looseString     `json:"amount_total"`
	Currency    looseString     `json:"currency"`
}

type creemMetadata struct {
	UserID looseString `json:"userId"`
	PlanID looseString `json:"planId"`
}

type creemOrder struct {
	Transaction looseString `json:"transaction"`
	Amount      looseString `json:"amount"`
	Currency    looseString `json:"currency"`
}

// ParseCreemEvent reads a Creem webhook. Like ParsePayPalEvent it only fails on
// invalid JSON.
func ParseCreemEvent(body []byte) (*Payment, error) {
	var evt creemEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("parse creem event: %w", err)
	}
	eventType := evt.EventTypeCamel.String()
	if eventType == "" {
		eventType = evt.Type.String()
	}
	if eventType != EventCreemCheckoutCompleted && eventType != EventCreemOrderPaid {
		return nil, nil
	}

	container := creemContainer(evt)
	var obj creemObject
	decodeLoose(container, &obj)
	var meta creemMetadata
	decodeLoose(obj.Metadata, &meta)
	var order creemOrder
	decodeLoose(obj.Order, &order)

	p := &Payment{
		Provider:  providerCreem,
		EventType: eventType,
		UserID:    meta.UserID.String(),
		PlanID:    meta.PlanID.String(),
		Amount:    decimal.Zero,
		Currency:  "USD",
		Raw:       container,
	}

	// Amounts arrive in minor units.
	for _, n := range []looseString{order.Amount, obj.Amount, obj.AmountTotal} {
		if cents, err := decimal.NewFromString(n.String()); err == nil && cents.IsPositive() {
			p.Amount = cents.Shift(-2)
			break
		}
	}
	for _, c := range []looseString{order.Currency, obj.Currency} {
		if c.String() != "" {
			p.Currency = strings.ToUpper(c.String())
			break
		}
	}
	for _, id := range []looseString{order.Transaction, obj.ID, evt.ID} {
		if id.String() != "" {
			p.TransactionID = id.String()
			break
		}
	}
	return p, nil
}

// creemContainer picks object, then data.object, then data.
func creemContainer(evt creemEvent) json.RawMessage {
	if isJSONObject(evt.Object) {
		return evt.Object
	}
	if isJSONObject(evt.Data) {
		var nested struct {
			Object json.RawMessage `json:"object"`
		}
		if err := json.Unmarshal(evt.Data, &nested); err == nil && isJSONObject(nested.Object) {
			return nested.Object
		}
		return evt.Data
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
