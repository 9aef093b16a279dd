package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/billingkit/internal/pkg/env"
)

type Config struct {
	AppEnv  string `validate:"oneof=dev test prod"`
	Host    string `validate:"required"`
	Port    int    `validate:"min=1,max=65535"`
	SiteURL string `validate:"required,url"`

	MetricsUser     string
	MetricsPassword string

	Database Database
	Cache    Cache
	Billing  Billing
	Archive  Archive
}

type Database struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string `validate:"required"`
	Password string
	Name     string `validate:"required"`
}

// DSN returns the go-sql-driver/mysql data source name.
func (d Database) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type Cache struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	Password string
	// LimiterDB is the redis database holding rate limiter state.
	LimiterDB int `validate:"min=0,max=15"`
}

func (c Cache) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Billing struct {
	Provider string `validate:"required,oneof=stripe lemon-squeezy paddle"`
	APIKey   string `validate:"required,min=16"`

	StripeSecretKey     string `validate:"required_if=Provider stripe"`
	StripeWebhookSecret string `validate:"required_if=Provider stripe"`
	StripeAPIURL        string `validate:"omitempty,url"`

	LemonSqueezyAPIKey        string `validate:"required_if=Provider lemon-squeezy"`
	LemonSqueezyStoreID       string `validate:"required_if=Provider lemon-squeezy"`
	LemonSqueezyWebhookSecret string `validate:"required_if=Provider lemon-squeezy"`
	LemonSqueezyAPIURL        string `validate:"omitempty,url"`

	WebhookLedger    bool
	RequireKnownPlan bool
	RateLimitMax     int `validate:"min=1"`
}

type Archive struct {
	Enabled         bool
	AccessKeyID     string `validate:"required_if=Enabled true"`
	SecretAccessKey string `validate:"required_if=Enabled true"`
	Region          string
	BucketName      string `validate:"required_if=Enabled true"`
	EndpointURL     string `validate:"omitempty,url"`
}

var validate = validator.New()

// Load reads the configuration from the loaded .env map and the process
// environment and validates it.
func Load() (*Config, error) {
	var r reader
	cfg := &Config{
		AppEnv:          strings.ToLower(env.GetEnv("APP_ENV", "prod")),
		Host:            env.GetEnv("APP_HOST", "0.0.0.0"),
		Port:            r.getInt("APP_PORT", 4000),
		SiteURL:         strings.TrimRight(env.GetEnv("SITE_URL", ""), "/"),
		MetricsUser:     env.GetEnv("METRICS_USER", ""),
		MetricsPassword: env.GetEnv("METRICS_PASSWORD", ""),
		Database: Database{
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     r.getInt("DB_PORT", 3306),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: Cache{
			Host:      env.GetEnv("CACHE_HOST", "localhost"),
			Port:      r.getInt("CACHE_PORT", 6379),
			Password:  env.GetEnv("CACHE_PASSWORD", ""),
			LimiterDB: r.getInt("CACHE_LIMITER_DB", 2),
		},
		Billing: Billing{
			Provider:                  strings.ToLower(strings.TrimSpace(env.GetEnv("BILLING_PROVIDER", "stripe"))),
			APIKey:                    env.GetEnv("BILLING_API_KEY", ""),
			StripeSecretKey:           env.GetEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret:       env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			StripeAPIURL:              env.GetEnv("STRIPE_API_URL", ""),
			LemonSqueezyAPIKey:        env.GetEnv("LEMON_SQUEEZY_API_KEY", ""),
			LemonSqueezyStoreID:       env.GetEnv("LEMON_SQUEEZY_STORE_ID", ""),
			LemonSqueezyWebhookSecret: env.GetEnv("LEMON_SQUEEZY_WEBHOOK_SECRET", ""),
			LemonSqueezyAPIURL:        env.GetEnv("LEMON_SQUEEZY_API_URL", ""),
			WebhookLedger:             r.getBool("BILLING_WEBHOOK_LEDGER_ENABLED", true),
			RequireKnownPlan:          r.getBool("BILLING_REQUIRE_KNOWN_PLAN", false),
			RateLimitMax:              r.getInt("BILLING_RATE_LIMIT_MAX", 60),
		},
		Archive: Archive{
			Enabled:         r.getBool("ARCHIVE_ENABLED", false),
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-east-1"),
			BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		},
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for process startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// reader parses typed values and collects every malformed one.
type reader struct {
	errs []error
}

func (r *reader) getInt(key string, def int) int {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s=%q is not an integer", key, raw))
		return def
	}
	return v
}

func (r *reader) getBool(key string, def bool) bool {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s=%q is not a boolean", key, raw))
		return def
	}
	return v
}
