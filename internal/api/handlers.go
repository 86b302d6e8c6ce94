package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/BananaStudio/internal/auth"
	"github.com/digkill/BananaStudio/internal/imagegen"
	"github.com/digkill/BananaStudio/internal/payment"
	"github.com/digkill/BananaStudio/internal/service"
)

const (
	sourcePayPal = payment.SourcePayPal
	sourceCreem  = payment.SourceCreem

	creemSignatureHeader = "creem-signature"
	maxWebhookBytes      = 1 << 20
)

type generateResponse struct {
	ImageURL     string `json:"imageUrl,omitempty"`
	Result       string `json:"result,omitempty"`
	Archived     bool   `json:"archived"`
	CreditsUsed  int    `json:"creditsUsed"`
	GenerationID int64  `json:"generationId,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req imagegen.Request
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.GenerateTimeout)
	defer cancel()

	res, err := s.deps.Generator.Generate(ctx, auth.FromContext(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, generateResponse{
		ImageURL:     res.ImageURL(),
		Result:       res.Text,
		Archived:     res.DurableURL != nil,
		CreditsUsed:  res.CreditsUsed,
		GenerationID: res.GenerationID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.History.List(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if !id.Authenticated() {
		s.writeError(w, r, service.ErrUnauthorized)
		return
	}
	credits, err := s.deps.Credits.GetOrInitBalance(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"data": s.deps.Payments.Plans()})
}

type planRequest struct {
	PlanID   string `json:"planId"`
	PlanName string `json:"planName"`
}

func (p planRequest) plan() string {
	if p.PlanID != "" {
		return p.PlanID
	}
	return p.PlanName
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decode(w, r, &req) {
		return
	}
	url, err := s.deps.Payments.CreateCheckout(r.Context(), auth.FromContext(r.Context()), req.plan())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decode(w, r, &req) {
		return
	}
	order, err := s.deps.Payments.CreateOrder(r.Context(), auth.FromContext(r.Context()), req.plan())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRaw(w, http.StatusOK, order)
}

type captureRequest struct {
	OrderID string `json:"orderID"`
}

func (s *Server) handleCaptureOrder(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !s.decode(w, r, &req) {
		return
	}
	capture, rec, err := s.deps.Payments.CaptureOrder(r.Context(), auth.FromContext(r.Context()), req.OrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("order captured", "order", req.OrderID, "outcome", rec.Outcome)
	s.writeRaw(w, http.StatusOK, capture)
}

func (s *Server) handleMockPayment(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.deps.Payments.MockPurchase(r.Context(), auth.FromContext(r.Context()), req.plan())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": rec.Outcome == service.OutcomeCredited,
		"credits": rec.Balance,
		"added":   rec.CreditsAdded,
	})
}

// handleWebhook answers 200 for anything that is not a store failure so providers do not retry
// business-level mismatches.
func (s *Server) handleWebhook(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body error"})
			return
		}

		switch detected := detectSource(source, body); {
		case detected == sourceCreem && s.opts.CreemWebhookSecret != "":
			if !payment.VerifyCreemSignature(body, r.Header.Get(creemSignatureHeader), s.opts.CreemWebhookSecret) {
				s.log.Warn("creem webhook signature mismatch", "request_id", middleware.GetReqID(r.Context()))
				s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
				return
			}
		case detected == sourcePayPal && s.opts.PayPalWebhookID != "" && s.deps.PayPalSignatures != nil:
			ok, err := s.deps.PayPalSignatures.VerifyWebhookSignature(r.Context(), s.opts.PayPalWebhookID, r.Header, body)
			if err != nil {
				s.log.Error("paypal webhook verification", "request_id", middleware.GetReqID(r.Context()), "err", err)
				s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "signature verification unavailable"})
				return
			}
			if !ok {
				s.log.Warn("paypal webhook signature mismatch", "request_id", middleware.GetReqID(r.Context()))
				s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
				return
			}
		}

		rec, err := s.deps.Webhooks.HandleWebhook(r.Context(), source, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := map[string]any{"received": true}
		if rec.Outcome == service.OutcomeDuplicate {
			resp["status"] = string(rec.Outcome)
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// detectSource trusts the route's source and otherwise looks at the envelope.
func detectSource(source string, body []byte) string {
	if source != "" {
		return source
	}
	detected, err := payment.DetectSource(body)
	if err != nil {
		return ""
	}
	return detected
}

type feedbackRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if id := auth.FromContext(r.Context()); id.Authenticated() {
		userID = id.UserID
	}
	if _, err := s.deps.Feedback.Submit(r.Context(), req.Message, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
