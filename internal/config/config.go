package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and the providers it talks to.
type Config struct {
	ListenAddr     string
	AppURL         string
	LogLevel       string
	MySQLDSN       string
	RequestTimeout time.Duration

	GenerationCost int
	SignupCredits  int

	SeedreamAPIKey  string
	SeedreamBaseURL string
	SeedreamModel   string

	GLMAPIKey       string
	GLMBaseURL      string
	GLMModel        string
	GLMPollInterval time.Duration
	GLMPollAttempts int

	OpenRouterAPIKey       string
	OpenRouterBaseURL      string
	OpenRouterDefaultModel string
	OpenRouterReferer      string
	OpenRouterTitle        string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	SupabaseURL     string
	SupabaseAnonKey string

	PayPalClientID     string
	PayPalClientSecret string
	PayPalBaseURL      string
	PayPalWebhookID    string

	CreemAPIKey        string
	CreemBaseURL       string
	CreemWebhookSecret string
	CreemProducts      map[string]string

	RedisAddr     string
	RedisPassword string
	RedisUseTLS   bool

	TelegramBotToken    string
	TelegramAdminChatID int64

	PaymentMockEnabled bool
}

const (
	paypalLiveBaseURL    = "https://api-m.paypal.com"
	paypalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	creemLiveBaseURL     = "https://api.creem.io"
	creemTestBaseURL     = "https://test-api.creem.io"
)

// Load reads configuration from environment variables, applying sane defaults.
// Only the database DSN is mandatory; provider credentials are checked when a
// request actually needs them.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		AppURL:         strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MySQLDSN:       os.Getenv("MYSQL_DSN"),
		RequestTimeout: time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),

		GenerationCost: getInt("GENERATION_COST", 2),
		SignupCredits:  getInt("SIGNUP_CREDITS", 10),

		SeedreamAPIKey:  os.Getenv("SEEDREAM_API_KEY"),
		SeedreamBaseURL: normalizeBaseURL(getEnv("SEEDREAM_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")),
		SeedreamModel:   getEnv("SEEDREAM_MODEL", "doubao-seedream-4-5-251128"),

		GLMAPIKey:       os.Getenv("GLM_API_KEY"),
		GLMBaseURL:      normalizeBaseURL(getEnv("GLM_BASE_URL", "https://open.bigmodel.cn/api/paas/v4")),
		GLMModel:        getEnv("GLM_MODEL", "glm-image"),
		GLMPollInterval: getDuration("GLM_POLL_INTERVAL", 2*time.Second),
		GLMPollAttempts: getInt("GLM_POLL_ATTEMPTS", 30),

		OpenRouterAPIKey:       os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL:      normalizeBaseURL(getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")),
		OpenRouterDefaultModel: getEnv("OPENROUTER_DEFAULT_MODEL", "google/gemini-2.5-flash-image-preview"),
		OpenRouterReferer:      getEnv("OPENROUTER_REFERER", "http://localhost:3000"),
		OpenRouterTitle:        getEnv("OPENROUTER_TITLE", "Banana Studio"),

		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "generations"),

		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey: os.Getenv("SUPABASE_ANON_KEY"),

		PayPalClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
		PayPalClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
		PayPalWebhookID:    os.Getenv("PAYPAL_WEBHOOK_ID"),

		CreemAPIKey:        os.Getenv("CREEM_API_KEY"),
		CreemWebhookSecret: os.Getenv("CREEM_WEBHOOK_SECRET"),
		CreemProducts: map[string]string{
			"TRIAL":   os.Getenv("CREEM_PRODUCT_TRIAL_ID"),
			"STARTER": os.Getenv("CREEM_PRODUCT_STARTER_ID"),
			"PRO":     os.Getenv("CREEM_PRODUCT_PRO_ID"),
			"ULTRA":   os.Getenv("CREEM_PRODUCT_ULTRA_ID"),
		},

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisUseTLS:   getBool("REDIS_USE_TLS", false),

		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChatID: getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),

		PaymentMockEnabled: getBool("PAYMENT_MOCK_ENABLED", false),
	}

	if strings.EqualFold(getEnv("PAYPAL_ENV", "sandbox"), "production") {
		cfg.PayPalBaseURL = paypalLiveBaseURL
	} else {
		cfg.PayPalBaseURL = paypalSandboxBaseURL
	}
	if getBool("CREEM_USE_TEST_API", false) {
		cfg.CreemBaseURL = creemTestBaseURL
	} else {
		cfg.CreemBaseURL = creemLiveBaseURL
	}

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if cfg.GenerationCost < 0 {
		return Config{}, fmt.Errorf("GENERATION_COST must not be negative")
	}
	if cfg.GLMPollAttempts <= 0 {
		cfg.GLMPollAttempts = 30
	}

	return cfg, nil
}

// StorageEnabled reports whether durable archival is configured.
func (c Config) StorageEnabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

// normalizeBaseURL adds a scheme when missing and strips the trailing slash.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	if parsed.Scheme == "" {
		parsed, err = url.Parse("https://" + raw)
		if err != nil {
			return strings.TrimRight(raw, "/")
		}
	}
	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile loads the first env file found. Running without one is fine,
// the process environment is used as is.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
