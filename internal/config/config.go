package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	AuthJWTSecret string
	AuthJWTIssuer string

	OTLPEndpoint string

	BootstrapOwnerUserID int64
	SnowflakeNode        int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe    StripeConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Catalog   CatalogConfig
}

type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BillingSessionRate  float64
	BillingSessionBurst int
}

type EmailConfig struct {
	Provider             string
	From                 string
	SupportEmail         string
	PostmarkServerToken  string
	PostmarkAccountToken string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
}

type CatalogConfig struct {
	Path string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "gatekeeper"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPPort:      getenv("HTTP_PORT", "8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer: strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "gatekeeper")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		BootstrapOwnerUserID: int64(getenvInt("BOOTSTRAP_OWNER_USER_ID", 0)),
		SnowflakeNode:        int64(getenvInt("SNOWFLAKE_NODE", 1)),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "gatekeeper"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Stripe: StripeConfig{
			SecretKey:       strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:   strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SuccessURL:      getenv("STRIPE_CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
			CancelURL:       getenv("STRIPE_CHECKOUT_CANCEL_URL", "http://localhost:3000/billing"),
			PortalReturnURL: getenv("STRIPE_PORTAL_RETURN_URL", "http://localhost:3000/billing"),
		},
		RateLimit: RateLimitConfig{
			Enabled:             getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:           strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:       getenv("REDIS_PASSWORD", ""),
			RedisDB:             getenvInt("REDIS_DB", 0),
			BillingSessionRate:  getenvFloat("RATE_LIMIT_BILLING_SESSION_RATE", 0.2),
			BillingSessionBurst: getenvInt("RATE_LIMIT_BILLING_SESSION_BURST", 5),
		},
		Email: EmailConfig{
			Provider:             strings.ToLower(strings.TrimSpace(getenv("EMAIL_PROVIDER", "noop"))),
			From:                 strings.TrimSpace(getenv("EMAIL_FROM", "")),
			SupportEmail:         strings.TrimSpace(getenv("EMAIL_SUPPORT", "")),
			PostmarkServerToken:  strings.TrimSpace(getenv("POSTMARK_SERVER_TOKEN", "")),
			PostmarkAccountToken: strings.TrimSpace(getenv("POSTMARK_ACCOUNT_TOKEN", "")),
			SMTPHost:             strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:             getenvInt("SMTP_PORT", 587),
			SMTPUsername:         getenv("SMTP_USERNAME", ""),
			SMTPPassword:         getenv("SMTP_PASSWORD", ""),
		},
		Catalog: CatalogConfig{
			Path: strings.TrimSpace(getenv("CATALOG_PATH", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
