// Package api exposes the generation, history, credit, payment and feedback endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/BananaStudio/internal/auth"
	"github.com/digkill/BananaStudio/internal/imagegen"
	"github.com/digkill/BananaStudio/internal/models"
	"github.com/digkill/BananaStudio/internal/service"
)

type Generator interface {
	Generate(ctx context.Context, id models.Identity, req imagegen.Request) (*service.GenerationResult, error)
}

type History interface {
	List(ctx context.Context, id models.Identity) ([]models.Generation, error)
}

type Credits interface {
	GetOrInitBalance(ctx context.Context, userID string) (int, error)
}

type Payments interface {
	Plans() []models.Plan
	CreateCheckout(ctx context.Context, id models.Identity, planID string) (string, error)
	CreateOrder(ctx context.Context, id models.Identity, planID string) (json.RawMessage, error)
	CaptureOrder(ctx context.Context, id models.Identity, orderID string) (json.RawMessage, *service.Reconciliation, error)
	MockPurchase(ctx context.Context, id models.Identity, planID string) (*service.Reconciliation, error)
}

type Webhooks interface {
	HandleWebhook(ctx context.Context, source string, body []byte) (*service.Reconciliation, error)
}

type Feedback interface {
	Submit(ctx context.Context, message, userID string) (*models.Feedback, error)
}

type PayPalSignatures interface {
	VerifyWebhookSignature(ctx context.Context, webhookID string, header http.Header, body []byte) (bool, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Generator Generator
	History   History
	Credits   Credits
	Payments  Payments
	Webhooks  Webhooks
	Feedback  Feedback
	DB        Pinger
	Verifier  auth.Verifier
	// PayPalSignatures is only consulted when Options.PayPalWebhookID is set.
	PayPalSignatures PayPalSignatures
}

type Options struct {
	Addr               string
	GenerateTimeout    time.Duration
	CreemWebhookSecret string
	PayPalWebhookID    string
	MockPayments       bool
}

type Server struct {
	opts   Options
	deps   Deps
	log    *slog.Logger
	router *chi.Mux
}

func NewServer(opts Options, deps Deps, log *slog.Logger) *Server {
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		opts:   opts,
		deps:   deps,
		log:    log,
		router: r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/plans", s.handlePlans)
	r.Post("/payment/webhook", s.handleWebhook(""))
	r.Post("/payment/webhook/paypal", s.handleWebhook(sourcePayPal))
	r.Post("/payment/webhook/creem", s.handleWebhook(sourceCreem))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Verifier, log))
		r.Post("/generate", s.handleGenerate)
		r.Get("/history", s.handleHistory)
		r.Get("/credits", s.handleCredits)
		r.Post("/feedback", s.handleFeedback)
		r.Post("/payment/checkout", s.handleCheckout)
		r.Post("/payment/order/create", s.handleCreateOrder)
		r.Post("/payment/order/capture", s.handleCaptureOrder)
		if opts.MockPayments {
			r.Post("/payment/mock", s.handleMockPayment)
		}
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.opts.GenerateTimeout + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.opts.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			s.log.Error("health check", "err", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
