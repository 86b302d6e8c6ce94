package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/digkill/BananaStudio/internal/imagegen"
	"github.com/digkill/BananaStudio/internal/lock"
	"github.com/digkill/BananaStudio/internal/models"
	"github.com/digkill/BananaStudio/internal/notify"
	"github.com/digkill/BananaStudio/internal/service"
)

type stubGenerator struct {
	result *service.GenerationResult
	err    error
	got    models.Identity
	req    imagegen.Request
}

func (s *stubGenerator) Generate(ctx context.Context, id models.Identity, req imagegen.Request) (*service.GenerationResult, error) {
	s.got, s.req = id, req
	return s.result, s.err
}

type stubHistory struct{}

func (stubHistory) List(ctx context.Context, id models.Identity) ([]models.Generation, error) {
	switch {
	case id.Authenticated():
		uid := id.UserID
		return []models.Generation{{ID: 1, UserID: &uid}}, nil
	case id.Guest():
		return []models.Generation{}, nil
	default:
		return nil, service.ErrUnauthorized
	}
}

type stubCredits struct{}

func (stubCredits) GetOrInitBalance(ctx context.Context, userID string) (int, error) { return 10, nil }

type stubPayments struct {
	checkoutErr error
}

func (stubPayments) Plans() []models.Plan { return service.NewPlanCatalog().List() }

func (p stubPayments) CreateCheckout(ctx context.Context, id models.Identity, planID string) (string, error) {
	if p.checkoutErr != nil {
		return "", p.checkoutErr
	}
	if !id.Authenticated() {
		return "", service.ErrUnauthorized
	}
	return "https://pay.example/" + planID, nil
}

func (stubPayments) CreateOrder(ctx context.Context, id models.Identity, planID string) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"ORDER-1"}`), nil
}

func (stubPayments) CaptureOrder(ctx context.Context, id models.Identity, orderID string) (json.RawMessage, *service.Reconciliation, error) {
	return json.RawMessage(`{"id":"` + orderID + `","status":"COMPLETED"}`), &service.Reconciliation{Outcome: service.OutcomeCredited}, nil
}

func (stubPayments) MockPurchase(ctx context.Context, id models.Identity, planID string) (*service.Reconciliation, error) {
	return &service.Reconciliation{Outcome: service.OutcomeCredited, Balance: 70, CreditsAdded: 60}, nil
}

type stubWebhooks struct {
	calls   int
	source  string
	outcome service.Outcome
	err     error
}

func (s *stubWebhooks) HandleWebhook(ctx context.Context, source string, body []byte) (*service.Reconciliation, error) {
	s.calls++
	s.source = source
	if s.err != nil {
		return nil, s.err
	}
	return &service.Reconciliation{Outcome: s.outcome}, nil
}

type stubFeedback struct {
	userID string
}

func (s *stubFeedback) Submit(ctx context.Context, message, userID string) (*models.Feedback, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.Join(service.ErrInvalidInput, errors.New("message is required"))
	}
	s.userID = userID
	return &models.Feedback{ID: 1, Message: message}, nil
}

type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	if token != "good" {
		return models.Identity{}, errors.New("bad token")
	}
	return models.Identity{UserID: "u1", Email: "u1@example.com"}, nil
}

type testEnv struct {
	gen      *stubGenerator
	webhooks *stubWebhooks
	feedback *stubFeedback
	handler  http.Handler
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		gen:      &stubGenerator{},
		webhooks: &stubWebhooks{outcome: service.OutcomeCredited},
		feedback: &stubFeedback{},
	}
	deps := Deps{
		Generator: env.gen,
		History:   stubHistory{},
		Credits:   stubCredits{},
		Payments:  stubPayments{},
		Webhooks:  env.webhooks,
		Feedback:  env.feedback,
		Verifier:  stubVerifier{},
	}
	env.handler = NewServer(opts, deps, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()
	return env
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

var session = map[string]string{"Authorization": "Bearer good"}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerateSuccess(t *testing.T) {
	env := newTestEnv(Options{})
	durable := "https://cdn.example.com/u1/1.png"
	env.gen.result = &service.GenerationResult{TransientURL: "http://x/cat.png", DurableURL: &durable, CreditsUsed: 2}

	rec := env.do(http.MethodPost, "/generate", `{"prompt":"a cat","mode":"text-to-image","model":"nano-banana"}`, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["imageUrl"] != durable || body["archived"] != true {
		t.Errorf("body = %v", body)
	}
	if env.gen.got.UserID != "u1" || env.gen.req.Model != "nano-banana" {
		t.Errorf("identity = %+v req = %+v", env.gen.got, env.gen.req)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "missing prompt",
			err:    errors.Join(imagegen.ErrInvalidRequest, errors.New("no prompt provided")),
			status: http.StatusBadRequest,
		},
		{
			name:   "insufficient credits",
			err:    &service.InsufficientCreditsError{Required: 2, Available: 1},
			status: http.StatusForbidden,
			check: func(t *testing.T, body map[string]any) {
				if body["error"] != "Insufficient credits" || body["required"] != float64(2) || body["available"] != float64(1) {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:   "provider failure",
			err:    &imagegen.ProviderError{Provider: "glm", Status: 500, Message: "upstream exploded"},
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				if body["error"] != "generation failed" {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:   "timeout",
			err:    imagegen.ErrTimeout,
			status: http.StatusInternalServerError,
		},
		{
			name:   "not configured",
			err:    imagegen.ErrNotConfigured,
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				if body["error"] != "Server configuration error" {
					t.Errorf("body = %v", body)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(Options{})
			env.gen.err = tc.err
			rec := env.do(http.MethodPost, "/generate", `{"prompt":"a cat"}`, session)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.check != nil {
				tc.check(t, decodeBody(t, rec))
			}
		})
	}
}

func TestGenerateInvalidJSON(t *testing.T) {
	env := newTestEnv(Options{})
	if rec := env.do(http.MethodPost, "/generate", `{`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHistoryAuth(t *testing.T) {
	env := newTestEnv(Options{})
	if rec := env.do(http.MethodGet, "/history", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/history", "", map[string]string{"X-Guest-Id": "g-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("guest status = %d", rec.Code)
	}
	if data, ok := decodeBody(t, rec)["data"].([]any); !ok || len(data) != 0 {
		t.Errorf("guest body = %s", rec.Body)
	}
}

func TestCreditsRequiresSession(t *testing.T) {
	env := newTestEnv(Options{})
	if rec := env.do(http.MethodGet, "/credits", "", map[string]string{"X-Guest-Id": "g-1"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("guest status = %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/credits", "", session)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["credits"] != float64(10) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestPaymentRoutes(t *testing.T) {
	env := newTestEnv(Options{})

	rec := env.do(http.MethodPost, "/payment/checkout", `{"planId":"PRO"}`, session)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["url"] != "https://pay.example/PRO" {
		t.Fatalf("checkout status = %d body = %s", rec.Code, rec.Body)
	}
	if rec := env.do(http.MethodPost, "/payment/checkout", `{"planId":"PRO"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous checkout status = %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/payment/order/create", `{"planId":"PRO"}`, session)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"id":"ORDER-1"}` {
		t.Fatalf("create order status = %d body = %s", rec.Code, rec.Body)
	}

	rec = env.do(http.MethodPost, "/payment/order/capture", `{"orderID":"ORDER-1"}`, session)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "COMPLETED" {
		t.Fatalf("capture status = %d body = %s", rec.Code, rec.Body)
	}

	rec = env.do(http.MethodGet, "/plans", "", nil)
	if data, ok := decodeBody(t, rec)["data"].([]any); !ok || len(data) != 4 {
		t.Fatalf("plans body = %s", rec.Body)
	}
}

func TestCheckoutConfigurationError(t *testing.T) {
	env := newTestEnv(Options{})
	env.handler = NewServer(Options{}, Deps{
		Payments: stubPayments{checkoutErr: service.ErrConfiguration},
		Verifier: stubVerifier{},
	}, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()

	rec := env.do(http.MethodPost, "/payment/checkout", `{"planId":"PRO"}`, session)
	if rec.Code != http.StatusInternalServerError || decodeBody(t, rec)["error"] != "Server configuration error" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestMockRouteOnlyWhenEnabled(t *testing.T) {
	if rec := newTestEnv(Options{}).do(http.MethodPost, "/payment/mock", `{"planName":"Trial Plan"}`, session); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled status = %d", rec.Code)
	}
	rec := newTestEnv(Options{MockPayments: true}).do(http.MethodPost, "/payment/mock", `{"planName":"Trial Plan"}`, session)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["credits"] != float64(70) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestWebhookRoutes(t *testing.T) {
	env := newTestEnv(Options{})

	rec := env.do(http.MethodPost, "/payment/webhook/paypal", `{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["received"] != true || env.webhooks.source != sourcePayPal {
		t.Fatalf("status = %d body = %s source = %q", rec.Code, rec.Body, env.webhooks.source)
	}

	env.webhooks.outcome = service.OutcomeDuplicate
	rec = env.do(http.MethodPost, "/payment/webhook", `{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`, nil)
	if decodeBody(t, rec)["status"] != "already_processed" || env.webhooks.source != "" {
		t.Fatalf("body = %s source = %q", rec.Body, env.webhooks.source)
	}

	env.webhooks.err = errors.New("db down")
	if rec := env.do(http.MethodPost, "/payment/webhook", `{}`, nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("store failure status = %d", rec.Code)
	}
}

func TestCreemWebhookSignature(t *testing.T) {
	env := newTestEnv(Options{CreemWebhookSecret: "whsec"})
	body := `{"eventType":"checkout.completed","object":{}}`
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(body))
	sig := hex.EncodeToString(mac.Sum(nil))

	if rec := env.do(http.MethodPost, "/payment/webhook/creem", body, map[string]string{"creem-signature": "deadbeef"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature status = %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/payment/webhook", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("legacy route without signature status = %d", rec.Code)
	}
	if env.webhooks.calls != 0 {
		t.Fatalf("webhook processed %d times before verification", env.webhooks.calls)
	}
	if rec := env.do(http.MethodPost, "/payment/webhook/creem", body, map[string]string{"creem-signature": sig}); rec.Code != http.StatusOK {
		t.Fatalf("good signature status = %d", rec.Code)
	}
	// PayPal events are not subject to the Creem signature.
	if rec := env.do(http.MethodPost, "/payment/webhook", `{"event_type":"X"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("paypal status = %d", rec.Code)
	}
}

func TestFeedbackUsesSessionUser(t *testing.T) {
	env := newTestEnv(Options{})
	rec := env.do(http.MethodPost, "/feedback", `{"message":"nice","userId":"spoofed"}`, session)
	if rec.Code != http.StatusOK || env.feedback.userID != "u1" {
		t.Fatalf("status = %d user = %q", rec.Code, env.feedback.userID)
	}
	rec = env.do(http.MethodPost, "/feedback", `{"message":"nice","userId":"given"}`, nil)
	if rec.Code != http.StatusOK || env.feedback.userID != "given" {
		t.Fatalf("status = %d user = %q", rec.Code, env.feedback.userID)
	}
	if rec := env.do(http.MethodPost, "/feedback", `{"message":""}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	if rec := newTestEnv(Options{}).do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

type stubPayPalSignatures struct {
	calls int
	err   error
}

func (s *stubPayPalSignatures) VerifyWebhookSignature(ctx context.Context, webhookID string, header http.Header, body []byte) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return webhookID == "WH-ID" && header.Get("Paypal-Transmission-Sig") == "good-sig", nil
}

func TestPayPalWebhookSignature(t *testing.T) {
	signatures := &stubPayPalSignatures{}
	webhooks := &stubWebhooks{outcome: service.OutcomeCredited}
	handler := NewServer(Options{PayPalWebhookID: "WH-ID"}, Deps{
		Webhooks:         webhooks,
		Verifier:         stubVerifier{},
		PayPalSignatures: signatures,
	}, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()

	post := func(path, sig string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`))
		if sig != "" {
			req.Header.Set("Paypal-Transmission-Sig", sig)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("/payment/webhook/paypal", "forged"); code != http.StatusUnauthorized {
		t.Fatalf("forged status = %d", code)
	}
	if code := post("/payment/webhook", ""); code != http.StatusUnauthorized {
		t.Fatalf("unsigned legacy status = %d", code)
	}
	if webhooks.calls != 0 {
		t.Fatalf("webhook processed %d times before verification", webhooks.calls)
	}
	if code := post("/payment/webhook/paypal", "good-sig"); code != http.StatusOK {
		t.Fatalf("signed status = %d", code)
	}

	signatures.err = errors.New("paypal unreachable")
	if code := post("/payment/webhook/paypal", "good-sig"); code != http.StatusInternalServerError {
		t.Fatalf("verification outage status = %d", code)
	}
}

// emptyTransactions accepts every transaction as new.
type emptyTransactions struct{}

func (emptyTransactions) FindByProviderID(ctx context.Context, id string) (*models.Transaction, error) {
	return nil, nil
}

func (emptyTransactions) RecordWithCredit(ctx context.Context, t *models.Transaction) (int, error) {
	return t.CreditsAdded, nil
}

func TestWebhookOddPayloadsAreAcknowledged(t *testing.T) {
	reconciler := service.NewReconciler(emptyTransactions{}, service.NewPlanCatalog(), lock.NewLocalLocker(), notify.Nop{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler := NewServer(Options{}, Deps{Webhooks: reconciler, Verifier: stubVerifier{}},
		slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()

	bodies := []string{
		`{"eventType":"checkout.completed","object":{"id":"ch_1","metadata":{"userId":42,"planId":"PRO"}}}`,
		`{"eventType":"checkout.completed","object":{"id":"ch_2","metadata":{"userId":"u1","planId":"PRO"},"amount":"n/a"}}`,
		`{"eventType":"checkout.completed","object":"unexpected"}`,
		`not json at all`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || decodeBody(t, rec)["received"] != true {
			t.Errorf("body %s: status = %d response = %s", body, rec.Code, rec.Body)
		}
	}
}
