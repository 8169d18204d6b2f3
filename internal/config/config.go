package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBConn        string
	StorageDriver string
	LogLevel      string
	JWTSecret     string
	JWTTTL        time.Duration

	// MigrateOnStart applies the embedded schema before serving.
	MigrateOnStart bool

	// LockTimeout bounds how long a transfer waits for its account pair.
	LockTimeout time.Duration

	RiskLargeAmount    decimal.Decimal
	RiskModerateAmount decimal.Decimal
	DefaultDailyLimit  decimal.Decimal

	AccountNumberAttempts int

	AuditQueueSize     int
	AuditFlushSchedule string

	KafkaBrokers []string

	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SenderEmail     string
	ComplianceEmail string

	// Bootstrap administrator, created at startup when AdminPassword is set.
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// NewConfig loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBConn:             getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		StorageDriver:      getEnv("STORAGE_DRIVER", StoragePostgres),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:          getEnv("JWT_SECRET", "secret"),
		AuditFlushSchedule: getEnv("AUDIT_FLUSH_SCHEDULE", "@every 30s"),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getEnv("SMTP_PORT", "587"),
		SMTPUsername:       getEnv("SMTP_USERNAME", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		SenderEmail:        getEnv("SENDER_EMAIL", "noreply@bank.local"),
		ComplianceEmail:    getEnv("COMPLIANCE_EMAIL", "compliance@bank.local"),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:         getEnv("ADMIN_EMAIL", "admin@bank.local"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", ""),
	}

	var err error
	if cfg.JWTTTL, err = getDuration("JWT_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getDuration("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RiskLargeAmount, err = getDecimal("RISK_LARGE_AMOUNT", "10000"); err != nil {
		return nil, err
	}
	if cfg.RiskModerateAmount, err = getDecimal("RISK_MODERATE_AMOUNT", "5000"); err != nil {
		return nil, err
	}
	if cfg.DefaultDailyLimit, err = getDecimal("DEFAULT_DAILY_LIMIT", "5000.00"); err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart, err = getBool("MIGRATE_ON_START", true); err != nil {
		return nil, err
	}
	if cfg.AccountNumberAttempts, err = getInt("ACCOUNT_NUMBER_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.AuditQueueSize, err = getInt("AUDIT_QUEUE_SIZE", 1000); err != nil {
		return nil, err
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.StorageDriver != StoragePostgres && cfg.StorageDriver != StorageMemory {
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.StorageDriver)
	}
	if cfg.StorageDriver == StoragePostgres && cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if cfg.AccountNumberAttempts < 1 {
		return nil, fmt.Errorf("ACCOUNT_NUMBER_ATTEMPTS must be at least 1")
	}
	if !cfg.RiskModerateAmount.LessThan(cfg.RiskLargeAmount) {
		return nil, fmt.Errorf("RISK_MODERATE_AMOUNT must be below RISK_LARGE_AMOUNT")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getDecimal(key, defaultVal string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, defaultVal))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
