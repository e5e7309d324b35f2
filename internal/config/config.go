// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultJWTSecret     = "your-secret-key-change-in-production"
	defaultPayloadSecret = "delivery-payload-secret-change-in-production"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Delivery    DeliveryConfig
	Email       EmailConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
	CORSOrigins  []string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CacheTTL int // in seconds
}

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	CloudFrontURL   string
}

// PayoutFeeBase selects the amount the payout fee percentage applies to.
type PayoutFeeBase string

const (
	PayoutFeeBaseGross PayoutFeeBase = "gross"
	PayoutFeeBaseNet   PayoutFeeBase = "net"
)

type PaymentConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	Currency             string
	PlatformFeePercent   float64
	PayoutFeePercent     float64
	PayoutFeeBase        PayoutFeeBase
}

type DeliveryConfig struct {
	// Hours after delivery before escrow is released automatically. Zero
	// settles on delivery.
	DisputeWindowHours    int
	SettleIntervalMinutes int
	SlotDays              int
	CodeHashCost          int
	PayloadSecret         string
	RedeemPerMin          int
	PendingListMax        int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			CORSOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "handoff"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", defaultJWTSecret),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			CacheTTL: getEnvAsInt("REDIS_CACHE_TTL", 30),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS"),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "handoff"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "handoff-dispute-evidence"),
			CloudFrontURL:   getEnv("AWS_CLOUDFRONT_URL", ""),
		},
		Payment: PaymentConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			Currency:             getEnv("PAYMENT_CURRENCY", "usd"),
			PlatformFeePercent:   getEnvAsFloat("PLATFORM_FEE_PERCENT", 5.0),
			PayoutFeePercent:     getEnvAsFloat("PAYOUT_FEE_PERCENT", 1.5),
			PayoutFeeBase:        PayoutFeeBase(getEnv("PAYOUT_FEE_BASE", string(PayoutFeeBaseGross))),
		},
		Delivery: DeliveryConfig{
			DisputeWindowHours:    getEnvAsInt("DELIVERY_DISPUTE_WINDOW_HOURS", 24),
			SettleIntervalMinutes: getEnvAsInt("SETTLE_INTERVAL_MINUTES", 5),
			SlotDays:              getEnvAsInt("DELIVERY_SLOT_DAYS", 3),
			CodeHashCost:          getEnvAsInt("DELIVERY_CODE_HASH_COST", 10),
			PayloadSecret:         getEnv("DELIVERY_PAYLOAD_SECRET", defaultPayloadSecret),
			RedeemPerMin:          getEnvAsInt("DELIVERY_REDEEM_PER_MIN", 20),
			PendingListMax:        getEnvAsInt("DELIVERY_PENDING_LIST_MAX", 100),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@handoff.example"),
			FromName:     getEnv("FROM_NAME", "Handoff"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", ""),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		},
	}

	return config, config.Validate()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate reports every problem at once so a misconfigured deploy fails
// with the full list.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProduction() {
		if c.JWT.SecretKey == defaultJWTSecret {
			errs = append(errs, errors.New("JWT_SECRET must be changed in production"))
		}
		if c.Delivery.PayloadSecret == defaultPayloadSecret {
			errs = append(errs, errors.New("DELIVERY_PAYLOAD_SECRET must be changed in production"))
		}
		if c.Database.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required in production"))
		}
	}

	p := c.Payment
	if p.PlatformFeePercent < 0 || p.PayoutFeePercent < 0 || p.PlatformFeePercent+p.PayoutFeePercent >= 100 {
		errs = append(errs, fmt.Errorf("fee percentages %.2f + %.2f must be non-negative and below 100",
			p.PlatformFeePercent, p.PayoutFeePercent))
	}
	if p.PayoutFeeBase != PayoutFeeBaseGross && p.PayoutFeeBase != PayoutFeeBaseNet {
		errs = append(errs, fmt.Errorf("PAYOUT_FEE_BASE %q must be gross or net", p.PayoutFeeBase))
	}

	if c.Delivery.DisputeWindowHours < 0 {
		errs = append(errs, errors.New("DELIVERY_DISPUTE_WINDOW_HOURS must not be negative"))
	}

	if c.Delivery.SlotDays < 1 {
		errs = append(errs, errors.New("DELIVERY_SLOT_DAYS must be at least 1"))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
