package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/digkill/BananaStudio/internal/api"
	"github.com/digkill/BananaStudio/internal/auth"
	"github.com/digkill/BananaStudio/internal/config"
	"github.com/digkill/BananaStudio/internal/database"
	"github.com/digkill/BananaStudio/internal/imagegen"
	"github.com/digkill/BananaStudio/internal/lock"
	"github.com/digkill/BananaStudio/internal/notify"
	"github.com/digkill/BananaStudio/internal/payment"
	"github.com/digkill/BananaStudio/internal/repository"
	"github.com/digkill/BananaStudio/internal/service"
	"github.com/digkill/BananaStudio/internal/storage"
	"github.com/digkill/BananaStudio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	providerHTTP := &http.Client{Timeout: cfg.RequestTimeout}
	paymentHTTP := &http.Client{Timeout: 30 * time.Second}

	dispatcher := imagegen.NewDispatcher(
		imagegen.NewSeedreamClient(cfg.SeedreamAPIKey, cfg.SeedreamBaseURL, cfg.SeedreamModel, providerHTTP, logr),
		imagegen.NewGLMClient(imagegen.GLMOptions{
			APIKey:       cfg.GLMAPIKey,
			BaseURL:      cfg.GLMBaseURL,
			Model:        cfg.GLMModel,
			PollInterval: cfg.GLMPollInterval,
			MaxAttempts:  cfg.GLMPollAttempts,
		}, &http.Client{Timeout: 30 * time.Second}, logr),
		imagegen.NewOpenRouterClient(imagegen.OpenRouterOptions{
			APIKey:       cfg.OpenRouterAPIKey,
			BaseURL:      cfg.OpenRouterBaseURL,
			DefaultModel: cfg.OpenRouterDefaultModel,
			Referer:      cfg.OpenRouterReferer,
			Title:        cfg.OpenRouterTitle,
		}, providerHTTP, logr),
		logr,
	)

	var archiver service.ImageArchiver
	if cfg.StorageEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		archiver = storage.NewArchiver(uploader, &http.Client{Timeout: 60 * time.Second}, logr)
	} else {
		logr.Warn("s3 storage not configured, provider urls are returned as is")
	}

	locker := newLocker(ctx, cfg, logr)
	notifier := newNotifier(cfg, logr)

	var verifier auth.Verifier
	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey != "" {
		v, err := auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		if err != nil {
			log.Fatalf("supabase: %v", err)
		}
		verifier = v
	} else {
		logr.Warn("supabase not configured, every request is anonymous")
	}

	creditRepo := repository.NewCreditRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)

	plans := service.NewPlanCatalog()
	creditService := service.NewCreditService(creditRepo, cfg.SignupCredits, logr)
	generationService := service.NewGenerationService(creditService, dispatcher, archiver, generationRepo, cfg.GenerationCost, logr)
	historyService := service.NewHistoryService(generationRepo)
	feedbackService := service.NewFeedbackService(feedbackRepo, notifier, logr)
	reconciler := service.NewReconciler(transactionRepo, plans, locker, notifier, logr)
	paypal := payment.NewPayPalClient(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalBaseURL, paymentHTTP)
	paymentService := service.NewPaymentService(
		plans,
		payment.NewCreemClient(cfg.CreemAPIKey, cfg.CreemBaseURL, paymentHTTP),
		paypal,
		reconciler,
		service.PaymentOptions{
			AppURL:      cfg.AppURL,
			Products:    cfg.CreemProducts,
			MockEnabled: cfg.PaymentMockEnabled,
		},
		logr,
	)

	server := api.NewServer(api.Options{
		Addr:               cfg.ListenAddr,
		GenerateTimeout:    cfg.RequestTimeout,
		CreemWebhookSecret: cfg.CreemWebhookSecret,
		PayPalWebhookID:    cfg.PayPalWebhookID,
		MockPayments:       cfg.PaymentMockEnabled,
	}, api.Deps{
		Generator: generationService,
		History:   historyService,
		Credits:   creditService,
		Payments:  paymentService,
		Webhooks:  reconciler,
		Feedback:  feedbackService,
		DB:        db,
		Verifier:  verifier,

		PayPalSignatures: paypal,
	}, logr)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api stopped", "err", err)
	}
}

func newLocker(ctx context.Context, cfg config.Config, logr *slog.Logger) lock.Locker {
	if cfg.RedisAddr == "" {
		logr.Info("redis not configured, using in-process locks")
		return lock.NewLocalLocker()
	}
	rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisUseTLS)
	if err != nil {
		logr.Error("redis unavailable, using in-process locks", "err", err)
		return lock.NewLocalLocker()
	}
	return lock.NewRedisLocker(rdb, logr)
}

func newNotifier(cfg config.Config, logr *slog.Logger) notify.Notifier {
	if cfg.TelegramBotToken == "" || cfg.TelegramAdminChatID == 0 {
		return notify.Nop{}
	}
	n, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAdminChatID, logr)
	if err != nil {
		logr.Error("telegram notifier disabled", "err", err)
		return notify.Nop{}
	}
	return n
}
