package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	aws_pkg "donation-service/pkg/aws"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the donation service.
type Config struct {
	AppEnv           string
	Port             string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	StripeAPIKey        string
	StripeWebhookSecret string
	ClientURL           string

	DuplicateWindow  time.Duration
	ProcessorTimeout time.Duration
	WebhookTimeout   time.Duration
	RateLimitPerMin  int
	RateLimitBurst   int

	RedisURL                   string
	DonationSNSTopicARN        string
	DonationRequestQueueURL    string
	DonationRequestMaxReceives int
	AllowedOrigins             []string

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string
	UseSecrets          bool
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

// SecretSource reads JSON object secrets by name.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration from a .env file (if present) and the
// environment, with optional Secrets Manager override.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseSecrets {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		ApplySecrets(ctx, cfg, aws_pkg.NewSecretsClient(awsCfg))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		AppEnv:                  getEnv("APP_ENV", "development"),
		Port:                    getEnv("PORT", "8080"),
		PostgresUser:            os.Getenv("POSTGRES_USER"),
		PostgresPassword:        os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:              os.Getenv("POSTGRES_DB"),
		PostgresHost:            getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:            getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:        getEnv("POSTGRES_TIMEZONE", "UTC"),
		StripeAPIKey:            os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret:     os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ClientURL:               strings.TrimRight(getEnv("CLIENT_URL", "http://localhost:3000"), "/"),
		RedisURL:                os.Getenv("REDIS_URL"),
		DonationSNSTopicARN:     os.Getenv("DONATION_SNS_TOPIC_ARN"),
		DonationRequestQueueURL: os.Getenv("DONATION_REQUEST_QUEUE_URL"),
		AllowedOrigins:          splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		CloudWatchEnabled:       os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace:     getEnv("CLOUDWATCH_NAMESPACE", "Donations"),
		CloudWatchLogGroup:      getEnv("CLOUDWATCH_LOG_GROUP", "/donations/services"),
		UseSecrets:              os.Getenv("AWS_USE_SECRETS") == "true",
	}

	var err error
	if cfg.DuplicateWindow, err = getDuration("DUPLICATE_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ProcessorTimeout, err = getDuration("PROCESSOR_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookTimeout, err = getDuration("WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMin, err = getInt("RATE_LIMIT_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.DonationRequestMaxReceives, err = getInt("DONATION_REQUEST_MAX_RECEIVES", 5); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplySecrets overrides Stripe keys and database credentials with the values
// stored under donations/STRIPE and donations/DB_CREDENTIALS. Missing secrets
// leave the environment values in place.
func ApplySecrets(ctx context.Context, cfg *Config, src SecretSource) {
	if m, err := src.GetSecretMap(ctx, "donations/STRIPE"); err == nil {
		setIf(&cfg.StripeAPIKey, m["STRIPE_API_KEY"])
		setIf(&cfg.StripeWebhookSecret, m["STRIPE_WEBHOOK_SECRET"])
	}
	if m, err := src.GetSecretMap(ctx, "donations/DB_CREDENTIALS"); err == nil {
		setIf(&cfg.PostgresUser, m["POSTGRES_USER"])
		setIf(&cfg.PostgresPassword, m["POSTGRES_PASSWORD"])
		setIf(&cfg.PostgresDB, m["POSTGRES_DB"])
		setIf(&cfg.PostgresHost, m["POSTGRES_HOST"])
		setIf(&cfg.PostgresPort, m["POSTGRES_PORT"])
	}
}

// validate checks database settings only. Missing Stripe keys are reported per
// request so the service can still start and answer health checks.
func (c *Config) validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.RateLimitPerMin <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
