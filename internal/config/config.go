package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	ProviderPaystack = "paystack"
	ProviderStripe   = "stripe"
)

type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string
	GinMode  string

	DatabaseURL string

	JWTSecret string
	JWTTTL    time.Duration

	Payment Payment

	KafkaBrokers []string
	RedisAddr    string

	ConsulAddr  string
	ServiceName string

	S3 S3

	ReviewRequestDelay time.Duration
	CatalogSeedFile    string
}

type Payment struct {
	Provider            string
	Currency            string
	CallbackURL         string
	PaystackSecretKey   string
	PaystackBaseURL     string
	StripeSecretKey     string
	StripeWebhookSecret string
}

// WebhookSecret is the secret the selected provider signs webhooks with.
// Paystack signs with the account secret key.
func (p Payment) WebhookSecret() string {
	if p.Provider == ProviderStripe {
		return p.StripeWebhookSecret
	}
	return p.PaystackSecretKey
}

type S3 struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

func (s S3) Enabled() bool {
	return s.Bucket != ""
}

func (c Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		Env:         get("APP_ENV", EnvDevelopment),
		HTTPAddr:    get("HTTP_ADDR", ":8080"),
		GRPCAddr:    get("GRPC_ADDR", ":9090"),
		GinMode:     get("GIN_MODE", "debug"),
		DatabaseURL: get("DATABASE_URL", ""),
		JWTSecret:   get("JWT_SECRET", ""),
		Payment: Payment{
			Provider:            get("PAYMENT_PROVIDER", ProviderPaystack),
			Currency:            strings.ToUpper(get("CURRENCY", "NGN")),
			CallbackURL:         get("PAYMENT_CALLBACK_URL", ""),
			PaystackSecretKey:   get("PAYSTACK_SECRET_KEY", ""),
			PaystackBaseURL:     get("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			StripeSecretKey:     get("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: get("STRIPE_WEBHOOK_SECRET", ""),
		},
		RedisAddr:   get("REDIS_ADDR", ""),
		ConsulAddr:  get("CONSUL_ADDR", ""),
		ServiceName: get("SERVICE_NAME", "storefront"),
		S3: S3{
			Bucket:          get("S3_BUCKET", ""),
			Region:          get("S3_REGION", "us-east-1"),
			Endpoint:        get("S3_ENDPOINT", ""),
			AccessKeyID:     get("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: get("S3_SECRET_ACCESS_KEY", ""),
			PublicBaseURL:   get("S3_PUBLIC_BASE_URL", ""),
		},
		CatalogSeedFile: get("CATALOG_SEED_FILE", ""),
	}

	if brokers := get("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.JWTTTL, err = time.ParseDuration(get("JWT_TTL", "24h")); err != nil {
		return Config{}, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	if cfg.ReviewRequestDelay, err = time.ParseDuration(get("REVIEW_REQUEST_DELAY", "72h")); err != nil {
		return Config{}, fmt.Errorf("invalid REVIEW_REQUEST_DELAY: %w", err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("APP_ENV must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	switch c.Payment.Provider {
	case ProviderPaystack:
	case ProviderStripe:
		if c.Payment.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Payment.Provider))
	}
	// Unsigned webhooks are only accepted in development.
	if c.Env == EnvProduction && c.Payment.WebhookSecret() == "" {
		errs = append(errs, fmt.Errorf("webhook secret for %s must be set in production", c.Payment.Provider))
	}
	return errors.Join(errs...)
}
