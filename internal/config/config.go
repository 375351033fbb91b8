package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the application configuration
type Config struct {
	Port string

	// PostgreSQL configuration
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	UseMockDB bool

	// SMTP configuration; when SMTPHost is empty, outbound mail is logged
	// instead of delivered.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	// Engine timing
	LoanPeriod   time.Duration
	RestockDelay time.Duration

	// Wallet milestone threshold; zero selects the built-in default.
	MilestoneThreshold decimal.Decimal

	SeedFile string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Port:         getEnv("PORT", "7000"),
		UseMockDB:    os.Getenv("USE_MOCK_DB") == "true",
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     getEnv("MAIL_FROM", "no-reply@example.com"),
		SeedFile:     getEnv("SEED_FILE", "books.seed.json"),
	}

	// PostgreSQL configuration (required if not using mock)
	if !config.UseMockDB {
		config.DBHost = os.Getenv("DB_HOST")
		if config.DBHost == "" {
			return nil, fmt.Errorf("DB_HOST is required when USE_MOCK_DB is not set")
		}
		port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		config.DBPort = port
		config.DBName = getEnv("DB_NAME", "library")
		config.DBUser = getEnv("DB_USER", "postgres")
		config.DBPassword = os.Getenv("DB_PASSWORD")
		config.DBSSLMode = getEnv("DB_SSLMODE", "disable")
	}

	if config.SMTPHost != "" {
		smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		config.SMTPPort = smtpPort
	}

	loanPeriod, err := parseDuration("LOAN_PERIOD", 72*time.Hour)
	if err != nil {
		return nil, err
	}
	config.LoanPeriod = loanPeriod

	restockDelay, err := parseDuration("RESTOCK_DELAY", time.Hour)
	if err != nil {
		return nil, err
	}
	config.RestockDelay = restockDelay

	if raw := os.Getenv("MILESTONE_THRESHOLD"); raw != "" {
		threshold, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid MILESTONE_THRESHOLD: %w", err)
		}
		config.MilestoneThreshold = threshold
	}

	return config, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
