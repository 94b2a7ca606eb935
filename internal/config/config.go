package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	LogLevel string
	HTTPPort string
	GRPCPort string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string
	SnapshotTTL   time.Duration

	Postgres PostgresConfig

	CatalogDBPath string

	KafkaBrokers []string

	ListingCacheTTL     time.Duration
	ListingCacheEntries int
	CartSessionTTL      time.Duration
	CartMaxSessions     int

	ReservationTTL time.Duration

	Pricing PricingConfig

	RevalidateTimeout time.Duration
	PaymentTimeout    time.Duration
	StuckSessionAfter time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

type PricingConfig struct {
	BaseShipping       decimal.Decimal
	PerItemShipping    decimal.Decimal
	MaxAdditionalItems int
	ExpressSurcharge   decimal.Decimal
	PrioritySurcharge  decimal.Decimal
	TaxRate            decimal.Decimal
}

// Load reads an optional .env file and then the environment. Variables already set in
// the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "50051"),

		RequestTimeout:  p.getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		ShutdownTimeout: p.getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "marketplace"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SnapshotTTL:   p.getEnvDuration("CART_SNAPSHOT_TTL", 30*time.Minute),

		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     p.getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   getEnv("POSTGRES_DB", "checkout"),
		},

		CatalogDBPath: getEnv("CATALOG_DB_PATH", "catalog.db"),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),

		ListingCacheTTL:     p.getEnvDuration("LISTING_CACHE_TTL", 5*time.Minute),
		ListingCacheEntries: p.getEnvInt("LISTING_CACHE_MAX_ENTRIES", 1000),
		CartSessionTTL:      p.getEnvDuration("CART_SESSION_TTL", 30*time.Minute),
		CartMaxSessions:     p.getEnvInt("CART_MAX_SESSIONS", 10000),

		ReservationTTL: p.getEnvDuration("RESERVATION_TTL", 5*time.Minute),

		Pricing: PricingConfig{
			BaseShipping:       p.getEnvDecimal("SHIPPING_BASE", "5.99"),
			PerItemShipping:    p.getEnvDecimal("SHIPPING_PER_ITEM", "1.50"),
			MaxAdditionalItems: p.getEnvInt("SHIPPING_MAX_ADDITIONAL_ITEMS", 5),
			ExpressSurcharge:   p.getEnvDecimal("SHIPPING_EXPRESS_SURCHARGE", "4.99"),
			PrioritySurcharge:  p.getEnvDecimal("SHIPPING_PRIORITY_SURCHARGE", "9.99"),
			TaxRate:            p.getEnvDecimal("TAX_RATE", "0.08"),
		},

		RevalidateTimeout: p.getEnvDuration("REVALIDATE_TIMEOUT", 2*time.Second),
		PaymentTimeout:    p.getEnvDuration("PAYMENT_TIMEOUT", 5*time.Second),
		StuckSessionAfter: p.getEnvDuration("STUCK_SESSION_AFTER", time.Minute),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects every malformed variable so that one run reports all of them.
type parser struct {
	errs []error
}

func (p *parser) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

func (p *parser) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}

func (p *parser) getEnvDecimal(key, defaultValue string) decimal.Decimal {
	value := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid decimal %q", key, value))
		return decimal.RequireFromString(defaultValue)
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
